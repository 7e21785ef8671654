package proto

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Data-channel frame type tags. Frames are JSON objects with a "type" field;
// anything outside this set is carried through as Unknown.
const (
	FrameHandshake = "HANDSHAKE"
	FramePing      = "PING"
	FramePong      = "PONG"
	FrameMessage   = "MESSAGE"
	FrameDelivered = "MESSAGE_DELIVERED"
	FrameStore     = "STORE"
)

// Frame is one decoded data-channel frame. Concrete implementations are the
// value types below; senders construct them directly and receivers switch on
// the concrete type.
type Frame interface {
	FrameType() string
}

// Handshake is the first frame each side sends after a channel opens. It
// binds the channel to a peer identity and, when known, a user identity.
type Handshake struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	UserID    int64  `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (Handshake) FrameType() string { return FrameHandshake }

// Ping carries the sender's clock in unix milliseconds. The receiver echoes
// it back unchanged in a Pong so the sender can compute a round trip.
type Ping struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (Ping) FrameType() string { return FramePing }

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (Pong) FrameType() string { return FramePong }

// Message is an application chat message pushed over the mesh. MessageID is
// the canonical id assigned by the server ledger; it may be empty when the
// durable write has not completed yet.
type Message struct {
	Type       string `json:"type"`
	MessageID  string `json:"messageId,omitempty"`
	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
	Embed      *Embed `json:"embedData,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

func (Message) FrameType() string { return FrameMessage }

// Embed is optional rich-content metadata attached to a message.
type Embed struct {
	Kind        string `json:"kind,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
}

// Delivered acknowledges receipt of a message, keyed by canonical id.
type Delivered struct {
	Type       string `json:"type"`
	MessageID  string `json:"messageId"`
	ReceiverID int64  `json:"receiverId"`
}

func (Delivered) FrameType() string { return FrameDelivered }

// Store announces a piece of content to peers so they can warm their local
// caches. Content is carried inline; Hash is its SHA3-256 hex digest.
type Store struct {
	Type        string `json:"type"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
	Hash        string `json:"hash"`
	UserID      int64  `json:"userId,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

func (Store) FrameType() string { return FrameStore }

// Unknown preserves a frame whose type this node does not recognize. Raw is
// the original payload so it can be forwarded verbatim.
type Unknown struct {
	Type string
	Raw  []byte
}

func (u Unknown) FrameType() string { return u.Type }

var errMissingType = errors.New("missing frame type")

// EncodeFrame serializes a frame, forcing the type tag so callers cannot
// produce a mistagged payload.
func EncodeFrame(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case Handshake:
		v.Type = FrameHandshake
		return json.Marshal(v)
	case Ping:
		v.Type = FramePing
		return json.Marshal(v)
	case Pong:
		v.Type = FramePong
		return json.Marshal(v)
	case Message:
		v.Type = FrameMessage
		return json.Marshal(v)
	case Delivered:
		v.Type = FrameDelivered
		return json.Marshal(v)
	case Store:
		v.Type = FrameStore
		return json.Marshal(v)
	case Unknown:
		if len(v.Raw) == 0 {
			return nil, errors.New("unknown frame without raw payload")
		}
		return v.Raw, nil
	default:
		return nil, fmt.Errorf("unsupported frame %T", f)
	}
}

// DecodeFrame parses a frame payload. Unrecognized types decode to Unknown
// rather than an error; only malformed JSON or a missing tag fails.
func DecodeFrame(data []byte) (Frame, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("frame decode: %w", err)
	}
	if hdr.Type == "" {
		return nil, errMissingType
	}
	switch hdr.Type {
	case FrameHandshake:
		var f Handshake
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("handshake decode: %w", err)
		}
		return f, nil
	case FramePing:
		var f Ping
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("ping decode: %w", err)
		}
		return f, nil
	case FramePong:
		var f Pong
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("pong decode: %w", err)
		}
		return f, nil
	case FrameMessage:
		var f Message
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("message decode: %w", err)
		}
		return f, nil
	case FrameDelivered:
		var f Delivered
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("delivered decode: %w", err)
		}
		return f, nil
	case FrameStore:
		var f Store
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("store decode: %w", err)
		}
		return f, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Type: hdr.Type, Raw: raw}, nil
	}
}
