package proto

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Signaling message kinds, exchanged over the rendezvous websocket. The
// control channel carries discovery and connection-setup data only, never
// application payloads.
const (
	SignalWelcome      = "welcome"
	SignalRegister     = "register-peer"
	SignalActivePeers  = "active-peers"
	SignalPeerJoined   = "peer-joined"
	SignalPeerLeft     = "peer-left"
	SignalRequestPeers = "request-peers"
	SignalStrength     = "connection-strength"
	SignalDataTransfer = "data-transfer"
)

// PeerInfo describes one peer as known to the rendezvous server. Addr is the
// peer's advertised data-channel listen address; UserID is zero until the
// peer registers an identity.
type PeerInfo struct {
	PeerID string `json:"peerId"`
	UserID int64  `json:"userId,omitempty"`
	Addr   string `json:"addr,omitempty"`
}

// SignalMessage is the single envelope for all signaling traffic. Fields are
// populated per kind; unused ones are omitted on the wire.
type SignalMessage struct {
	Kind         string     `json:"kind"`
	PeerID       string     `json:"peerId,omitempty"`
	UserID       int64      `json:"userId,omitempty"`
	Addr         string     `json:"addr,omitempty"`
	Peers        []PeerInfo `json:"peers,omitempty"`
	TargetPeerID string     `json:"targetPeerId,omitempty"`
	Strength     string     `json:"strength,omitempty"`
	DataShared   uint64     `json:"dataShared,omitempty"`
	DataReceived uint64     `json:"dataReceived,omitempty"`
}

func EncodeSignal(m SignalMessage) ([]byte, error) {
	if m.Kind == "" {
		return nil, fmt.Errorf("missing signal kind")
	}
	return json.Marshal(m)
}

func DecodeSignal(data []byte) (SignalMessage, error) {
	var m SignalMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SignalMessage{}, fmt.Errorf("signal decode: %w", err)
	}
	if m.Kind == "" {
		return SignalMessage{}, fmt.Errorf("missing signal kind")
	}
	return m, nil
}
