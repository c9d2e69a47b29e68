// Package domain holds the core ClipScape types shared across the peer,
// network, and sync layers. Domain types are pure — no infrastructure
// dependency.
package domain

// PeerIdentity identifies a peer for the lifetime of a discovery session.
// Address is the host:port the peer was reached at; it is the registry key,
// so at most one live session exists per address.
type PeerIdentity struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// String returns "name (address)" for logs.
func (p PeerIdentity) String() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name + " (" + p.Address + ")"
}

// Signal kinds carried over the signaling transport.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
)

// SignalMessage is one signaling exchange payload. It exists only for the
// duration of a single handshake and is never persisted.
type SignalMessage struct {
	Kind string `json:"kind"`
	SDP  string `json:"sdp"`
	Name string `json:"name"`
}
