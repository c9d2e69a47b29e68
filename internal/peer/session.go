// Package peer implements a single peer-to-peer session: the offer/answer
// handshake state machine and the negotiated data channel it owns.
//
// A session belongs to exactly one identity and moves forward through its
// states; the only backward transition is into Closed, which is absorbing.
// The channel's lifetime never exceeds the session's.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/clipscape-network/clipscape/internal/domain"
)

// ─── Errors ─────────────────────────────────────────────────────────────────

var (
	ErrNotReady             = errors.New("session not open")
	ErrAlreadyNegotiating   = errors.New("session already negotiating")
	ErrMalformedDescription = errors.New("malformed session description")
	ErrClosed               = errors.New("session closed")
)

// ─── Roles and States ───────────────────────────────────────────────────────

// Role says which side of the handshake this session plays.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleAnswerer {
		return "answerer"
	}
	return "offerer"
}

// State is a session's position in the handshake state machine.
type State int

const (
	StateNew State = iota
	StateOfferCreated
	StateWaitingAnswer
	StateOfferReceived
	StateAnswerCreated
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferCreated:
		return "offer-created"
	case StateWaitingAnswer:
		return "waiting-answer"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerCreated:
		return "answer-created"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason says why a session ended.
type CloseReason int

const (
	ReasonLocal CloseReason = iota
	ReasonTimeout
	ReasonTransportClosed
)

func (r CloseReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonTransportClosed:
		return "transport-closed"
	default:
		return "local"
	}
}

// ─── Config ─────────────────────────────────────────────────────────────────

// Config holds per-session transport settings.
type Config struct {
	// ICEServers are STUN/TURN URLs for connectivity checks. On a LAN the
	// host candidates usually win; the default public STUN server matches
	// the original deployment.
	ICEServers []string
	// HandshakeTimeout bounds the window from negotiation start to channel
	// open. Expiry closes the session with ReasonTimeout.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the stock session settings.
func DefaultConfig() Config {
	return Config{
		ICEServers:       []string{"stun:stun.l.google.com:19302"},
		HandshakeTimeout: 15 * time.Second,
	}
}

// channelLabel is the data channel name both sides expect.
const channelLabel = "clipscape"

// ─── Session ────────────────────────────────────────────────────────────────

// Session is one peer connection. All exported methods are safe for
// concurrent use. OnMessage/OnOpen/OnClose must be registered before the
// handshake starts or events may be missed; OnOpen and OnClose each fire at
// most once.
type Session struct {
	identity domain.PeerIdentity
	role     Role
	cfg      Config

	mu           sync.Mutex
	state        State
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	lastActivity time.Time

	onMessage func([]byte)
	onOpen    func()
	onClose   func(CloseReason)

	openOnce  sync.Once
	closeOnce sync.Once
	hsTimer   *time.Timer

	openCh chan struct{}
	done   chan struct{}
}

// New creates a session for the given identity and role. The underlying
// peer connection is allocated immediately; negotiation starts with
// CreateOffer or HandleOffer.
func New(identity domain.PeerIdentity, role Role, cfg Config) (*Session, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}

	var iceServers []webrtc.ICEServer
	for _, u := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	s := &Session{
		identity:     identity,
		role:         role,
		cfg:          cfg,
		state:        StateNew,
		pc:           pc,
		lastActivity: time.Now(),
		openCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		switch cs {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			s.closeWith(ReasonTransportClosed)
		}
	})

	if role == RoleAnswerer {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != channelLabel {
				return
			}
			s.adoptChannel(dc)
		})
	}

	return s, nil
}

// Identity returns the peer this session belongs to.
func (s *Session) Identity() domain.PeerIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetName records the peer's self-reported device name, learned during the
// signaling exchange. The address never changes.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity.Name = name
}

// Role returns which side of the handshake this session plays.
func (s *Session) Role() Role { return s.role }

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns when the session last sent or received.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// OnMessage registers the inbound message handler.
func (s *Session) OnMessage(h func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = h
}

// OnOpen registers the open handler; it fires at most once.
func (s *Session) OnOpen(h func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = h
}

// OnClose registers the close handler; it fires at most once, with the
// reason the session ended.
func (s *Session) OnClose(h func(CloseReason)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = h
}

// ─── Handshake ──────────────────────────────────────────────────────────────

// CreateOffer starts negotiation as offerer. Valid only from New; a second
// call fails with ErrAlreadyNegotiating. The returned SDP is the local
// description after ICE gathering completes, so a single signaling
// round-trip carries everything the remote side needs.
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateNew:
	case StateClosed:
		s.mu.Unlock()
		return "", ErrClosed
	default:
		s.mu.Unlock()
		return "", ErrAlreadyNegotiating
	}
	s.state = StateOfferCreated
	pc := s.pc
	s.mu.Unlock()

	dc, err := pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		s.closeWith(ReasonLocal)
		return "", fmt.Errorf("create data channel: %w", err)
	}
	s.adoptChannel(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		s.closeWith(ReasonLocal)
		return "", fmt.Errorf("create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		s.closeWith(ReasonLocal)
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	s.mu.Lock()
	if s.state == StateOfferCreated {
		s.state = StateWaitingAnswer
	}
	s.mu.Unlock()
	s.armHandshakeTimer()

	return pc.LocalDescription().SDP, nil
}

// HandleOffer consumes a remote offer and produces the answer. Valid only
// from New. An offer that cannot be applied fails with
// ErrMalformedDescription and the offending session is unusable.
func (s *Session) HandleOffer(remoteSDP string) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateNew:
	case StateClosed:
		s.mu.Unlock()
		return "", ErrClosed
	default:
		s.mu.Unlock()
		return "", ErrAlreadyNegotiating
	}
	pc := s.pc
	s.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDescription, err)
	}

	s.mu.Lock()
	s.state = StateOfferReceived
	s.mu.Unlock()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.closeWith(ReasonLocal)
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		s.closeWith(ReasonLocal)
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	s.mu.Lock()
	if s.state == StateOfferReceived {
		s.state = StateAnswerCreated
	}
	s.mu.Unlock()
	s.armHandshakeTimer()

	return pc.LocalDescription().SDP, nil
}

// HandleAnswer applies the remote answer. Valid only from WaitingAnswer.
// The channel opens asynchronously once connectivity checks complete;
// observe that through OnOpen or WaitOpen.
func (s *Session) HandleAnswer(remoteSDP string) error {
	s.mu.Lock()
	if s.state != StateWaitingAnswer {
		st := s.state
		s.mu.Unlock()
		if st == StateClosed {
			return ErrClosed
		}
		return fmt.Errorf("%w: cannot apply answer in state %s", ErrNotReady, st)
	}
	pc := s.pc
	s.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDescription, err)
	}
	return nil
}

// WaitOpen blocks until the data channel opens, the session closes, or the
// context expires.
func (s *Session) WaitOpen(ctx context.Context) error {
	select {
	case <-s.openCh:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Transport ──────────────────────────────────────────────────────────────

// Send enqueues one message on the data channel. Valid only in Open; there
// is no delivery acknowledgement at this layer — ordering and reliability
// come from the channel itself.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	if s.state != StateOpen {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotReady, st)
	}
	dc := s.dc
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err := dc.Send(data); err != nil {
		return fmt.Errorf("data channel send: %w", err)
	}
	return nil
}

// Close ends the session. Idempotent and callable from any state; the
// OnClose handler sees ReasonLocal.
func (s *Session) Close() {
	s.closeWith(ReasonLocal)
}

// ─── Internals ──────────────────────────────────────────────────────────────

// adoptChannel wires a data channel (locally created or remotely announced)
// into the session.
func (s *Session) adoptChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.markOpen()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.mu.Lock()
		s.lastActivity = time.Now()
		h := s.onMessage
		s.mu.Unlock()
		if h != nil {
			h(msg.Data)
		}
	})
	dc.OnClose(func() {
		s.closeWith(ReasonTransportClosed)
	})
}

func (s *Session) markOpen() {
	s.openOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateOpen
		s.lastActivity = time.Now()
		h := s.onOpen
		t := s.hsTimer
		s.mu.Unlock()

		if t != nil {
			t.Stop()
		}
		close(s.openCh)
		if h != nil {
			h()
		}
	})
}

// armHandshakeTimer bounds the gap between negotiation and channel open.
func (s *Session) armHandshakeTimer() {
	s.mu.Lock()
	if s.hsTimer != nil || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.hsTimer = time.AfterFunc(s.cfg.HandshakeTimeout, func() {
		if s.State() != StateOpen {
			s.closeWith(ReasonTimeout)
		}
	})
	s.mu.Unlock()
}

func (s *Session) closeWith(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		dc := s.dc
		pc := s.pc
		h := s.onClose
		t := s.hsTimer
		s.mu.Unlock()

		if t != nil {
			t.Stop()
		}
		close(s.done)
		if dc != nil {
			_ = dc.Close()
		}
		_ = pc.Close()
		if h != nil {
			h(reason)
		}
	})
}
