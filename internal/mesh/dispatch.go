package mesh

import (
	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/transport"
)

// readLoop drains one channel for its lifetime. Control frames are consumed
// here; everything else, unrecognized types included, flows to subscribers
// untouched.
func (m *Manager) readLoop(peerID string, ch transport.Channel) {
	defer m.wg.Done()
	defer func() {
		_ = ch.Close()
		m.handleChannelClosed(peerID, ch)
	}()
	for {
		data, err := ch.Recv()
		if err != nil {
			return
		}
		m.cfg.Metrics.IncFramesIn()
		m.reg.AddBytesReceived(uint64(len(data)))
		frame, err := proto.DecodeFrame(data)
		if err != nil {
			debuglog.Debugf("mesh: bad frame from %s: %v", peerID, err)
			continue
		}
		m.dispatch(peerID, ch, frame)
	}
}

func (m *Manager) dispatch(peerID string, ch transport.Channel, frame proto.Frame) {
	switch f := frame.(type) {
	case proto.Handshake:
		// Late identity enrichment; the channel is already admitted and
		// SetUser refuses to reassign a resolved identity.
		if f.UserID != 0 {
			m.reg.SetUser(peerID, f.UserID)
		}
	case proto.Ping:
		if err := m.sendOn(peerID, ch, proto.Pong{Timestamp: f.Timestamp}); err != nil {
			debuglog.Debugf("mesh: pong to %s: %v", peerID, err)
		}
	case proto.Pong:
		m.handlePong(peerID, f.Timestamp)
	case proto.Store:
		if m.cfg.Cache != nil {
			m.cfg.Cache.Put(f.ContentType, f.Content)
		}
		m.emitFrame(FrameEvent{PeerID: peerID, Frame: frame})
	default:
		m.emitFrame(FrameEvent{PeerID: peerID, Frame: frame})
	}
}
