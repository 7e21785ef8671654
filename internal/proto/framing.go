package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MaxFrameSize bounds a single wire frame; anything larger is rejected
	// before allocation.
	MaxFrameSize = 1 << 20
)

// EncodeWire prefixes a payload with its 4-byte big-endian length.
func EncodeWire(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out, nil
}

// ReadWire reads one length-prefixed payload from r.
func ReadWire(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size: %d", n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteWire writes one length-prefixed payload to w, retrying short writes.
func WriteWire(w io.Writer, payload []byte) error {
	frame, err := EncodeWire(payload)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		total += n
	}
	return nil
}
