// Package signal implements the WebSocket signaling channel: the server that
// introduces peers to each other and the client each node runs against it.
// Signaling carries presence and connection-setup data only; application
// frames always travel over the peer data channels.
package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kotaAnuj/PeerGram/internal/debuglog"
	"github.com/kotaAnuj/PeerGram/internal/proto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendQueueDepth = 64
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type session struct {
	peerID     string
	conn       *websocket.Conn
	send       chan []byte
	userID     int64
	addr       string
	registered bool
}

// Server tracks connected sessions and routes presence messages between them.
// It serves one WebSocket endpoint; mount it on any mux.
type Server struct {
	mu       sync.Mutex
	sessions map[string]*session

	// latest strength/data reports per peer, kept for operator inspection
	strength map[string]string
}

func NewServer() *Server {
	return &Server{
		sessions: make(map[string]*session),
		strength: make(map[string]string),
	}
}

// ServeHTTP upgrades the request and runs the session until the client goes
// away. Each client is issued a fresh peer id in the welcome message before
// anything else is sent.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debuglog.Debugf("signal: upgrade failed: %v", err)
		return
	}
	sess := &session{
		peerID: uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendQueueDepth),
	}
	s.mu.Lock()
	s.sessions[sess.peerID] = sess
	s.mu.Unlock()

	go s.writePump(sess)
	s.enqueue(sess, proto.SignalMessage{Kind: proto.SignalWelcome, PeerID: sess.peerID})
	s.readPump(sess)
}

func (s *Server) readPump(sess *session) {
	defer s.dropSession(sess)
	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := proto.DecodeSignal(data)
		if err != nil {
			debuglog.Debugf("signal: bad message from %s: %v", sess.peerID, err)
			continue
		}
		s.handle(sess, msg)
	}
}

func (s *Server) handle(sess *session, msg proto.SignalMessage) {
	switch msg.Kind {
	case proto.SignalRegister:
		s.mu.Lock()
		sess.userID = msg.UserID
		sess.addr = msg.Addr
		first := !sess.registered
		sess.registered = true
		s.mu.Unlock()
		if first {
			s.broadcastExcept(sess.peerID, proto.SignalMessage{
				Kind:  proto.SignalPeerJoined,
				Peers: []proto.PeerInfo{{PeerID: sess.peerID, UserID: msg.UserID, Addr: msg.Addr}},
			})
		}
		s.enqueue(sess, s.activePeers(sess.peerID))
	case proto.SignalRequestPeers:
		s.enqueue(sess, s.activePeers(sess.peerID))
	case proto.SignalStrength:
		s.mu.Lock()
		s.strength[sess.peerID] = msg.Strength
		s.mu.Unlock()
	case proto.SignalDataTransfer:
		// Absorbed; reports exist so operators can watch the mesh from the
		// signaling side without joining it.
		debuglog.Debugf("signal: %s transfer shared=%d received=%d", sess.peerID, msg.DataShared, msg.DataReceived)
	default:
		debuglog.Debugf("signal: ignoring %q from %s", msg.Kind, sess.peerID)
	}
}

func (s *Server) activePeers(exclude string) proto.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]proto.PeerInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if id == exclude || !sess.registered {
			continue
		}
		peers = append(peers, proto.PeerInfo{PeerID: id, UserID: sess.userID, Addr: sess.addr})
	}
	return proto.SignalMessage{Kind: proto.SignalActivePeers, Peers: peers}
}

func (s *Server) broadcastExcept(exclude string, msg proto.SignalMessage) {
	data, err := proto.EncodeSignal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if id == exclude {
			continue
		}
		select {
		case sess.send <- data:
		default:
			// Slow consumer; drop rather than stall the lock.
		}
	}
}

func (s *Server) enqueue(sess *session, msg proto.SignalMessage) {
	data, err := proto.EncodeSignal(msg)
	if err != nil {
		return
	}
	select {
	case sess.send <- data:
	default:
	}
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	_, present := s.sessions[sess.peerID]
	delete(s.sessions, sess.peerID)
	delete(s.strength, sess.peerID)
	wasRegistered := sess.registered
	s.mu.Unlock()
	close(sess.send)
	if present && wasRegistered {
		s.broadcastExcept(sess.peerID, proto.SignalMessage{
			Kind:   proto.SignalPeerLeft,
			PeerID: sess.peerID,
		})
	}
}

func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()
	for {
		select {
		case data, ok := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SessionCount reports the number of live sessions, registered or not.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StrengthReport returns the last reported connection strength for a peer.
func (s *Server) StrengthReport(peerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strength[peerID]
	return v, ok
}
