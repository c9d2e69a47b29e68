// Package network implements the ClipScape network coordinator: UDP peer
// discovery, the TCP signaling listener, the live session registry, and
// message fan-out to connected peers.
//
// The protocol is unauthenticated by design: any responder to the discovery
// broadcast is trusted, and signaling content is not verified. See the
// project design notes before pointing this at an untrusted network.
package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clipscape-network/clipscape/internal/domain"
	"github.com/clipscape-network/clipscape/internal/infra/metrics"
	"github.com/clipscape-network/clipscape/internal/peer"
)

var (
	ErrConnectFailed    = errors.New("peer connect failed")
	ErrPeerNotConnected = errors.New("peer not connected")
)

// Config holds the coordinator's network settings.
type Config struct {
	// DeviceName is the human-readable name announced in discovery.
	DeviceName string
	// SignalingPort is the TCP port the signaling listener binds; 0 picks
	// an ephemeral port.
	SignalingPort int
	// DiscoveryPort is the UDP port discovery requests are sent to and
	// answered on.
	DiscoveryPort int
	// DiscoveryTimeout bounds one discovery pass.
	DiscoveryTimeout time.Duration
	// DiscoveryInterval is the cadence of the background
	// discover-and-connect loop; 0 disables it.
	DiscoveryInterval time.Duration
	// ConnectTimeout bounds a full connect: TCP dial, signaling exchange,
	// and channel open.
	ConnectTimeout time.Duration
	// Session configures each peer session.
	Session peer.Config
}

// DefaultConfig returns the stock coordinator settings.
func DefaultConfig() Config {
	return Config{
		SignalingPort:     9999,
		DiscoveryPort:     9998,
		DiscoveryTimeout:  2 * time.Second,
		DiscoveryInterval: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		Session:           peer.DefaultConfig(),
	}
}

// Transport is the session surface the registry tracks. *peer.Session
// satisfies it; tests substitute fakes.
type Transport interface {
	Identity() domain.PeerIdentity
	State() peer.State
	Send([]byte) error
	Close()
}

// Coordinator owns discovery, signaling, and the live-session registry.
// The registry is the single source of truth for connected peers; it is
// mutated only under the coordinator's lock and exposed as snapshots.
type Coordinator struct {
	cfg Config

	mu        sync.Mutex
	started   bool
	stopped   bool // set by Stop; register refuses newcomers until restarted
	sessions  map[string]Transport
	boundPort int // actual signaling port after bind

	runCtx context.Context // live while started; cancelled by Stop

	udp    *net.UDPConn
	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connects singleflight.Group

	onMessage func(domain.PeerIdentity, []byte)
}

// New creates a coordinator. Call OnMessage before Start.
func New(cfg Config) *Coordinator {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultConfig().DiscoveryTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.DiscoveryPort <= 0 {
		cfg.DiscoveryPort = DefaultConfig().DiscoveryPort
	}
	return &Coordinator{
		cfg:      cfg,
		sessions: make(map[string]Transport),
	}
}

// OnMessage registers the handler for every message delivered by any live
// session. Must be called before Start.
func (c *Coordinator) OnMessage(h func(from domain.PeerIdentity, data []byte)) {
	c.onMessage = h
}

// Start binds the discovery responder and the signaling listener and begins
// accepting inbound connections. Idempotent: a second call is a no-op.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	udp, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.cfg.DiscoveryPort})
	if err != nil {
		return fmt.Errorf("bind discovery port %d: %w", c.cfg.DiscoveryPort, err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.SignalingPort))
	if err != nil {
		udp.Close()
		return fmt.Errorf("bind signaling port %d: %w", c.cfg.SignalingPort, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.udp = udp
	c.ln = ln
	c.cancel = cancel
	c.runCtx = ctx
	c.boundPort = ln.Addr().(*net.TCPAddr).Port
	c.started = true
	c.stopped = false

	c.wg.Add(2)
	go c.respondLoop(ctx, udp)
	go c.acceptLoop(ctx, ln)

	if c.cfg.DiscoveryInterval > 0 {
		c.wg.Add(1)
		go c.maintainLoop(ctx)
	}

	log.Printf("[network] listening: signaling :%d, discovery :%d", c.boundPort, c.cfg.DiscoveryPort)
	return nil
}

// Stop cancels in-flight work, closes the listeners, and closes every live
// session. Safe to call from any goroutine, and more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.stopped = true
	c.cancel()
	udp, ln := c.udp, c.ln
	live := make([]Transport, 0, len(c.sessions))
	for _, t := range c.sessions {
		live = append(live, t)
	}
	c.sessions = make(map[string]Transport)
	c.mu.Unlock()

	_ = udp.Close()
	_ = ln.Close()
	for _, t := range live {
		t.Close()
	}
	c.wg.Wait()
	metrics.PeersConnected.Set(0)
	log.Printf("[network] stopped")
}

// SignalingAddr returns the bound signaling address, for announcing and for
// tests that start on an ephemeral port.
func (c *Coordinator) SignalingAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.signalingPort()))
}

func (c *Coordinator) signalingPort() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.boundPort != 0 {
		return c.boundPort
	}
	return c.cfg.SignalingPort
}

// ─── Registry ───────────────────────────────────────────────────────────────

// Peers returns a snapshot of currently open peer identities.
func (c *Coordinator) Peers() []domain.PeerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.PeerIdentity, 0, len(c.sessions))
	for _, t := range c.sessions {
		if t.State() == peer.StateOpen {
			out = append(out, t.Identity())
		}
	}
	return out
}

// PeerCount returns the number of open sessions.
func (c *Coordinator) PeerCount() int {
	return len(c.Peers())
}

// live returns the registered session for addr unless it has closed.
func (c *Coordinator) live(addr string) Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.sessions[addr]
	if !ok || t.State() == peer.StateClosed {
		return nil
	}
	return t
}

// register adds a session to the registry. If a live session for the same
// identity already exists the newcomer is closed — connect is idempotent
// per identity. After Stop the registry is sealed: a session racing past its
// handshake is closed instead of registered, so Stop leaves nothing alive.
func (c *Coordinator) register(t Transport) {
	key := t.Identity().Address
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		t.Close()
		return
	}
	if old, ok := c.sessions[key]; ok && old.State() != peer.StateClosed {
		c.mu.Unlock()
		t.Close()
		return
	}
	c.sessions[key] = t
	n := len(c.sessions)
	c.mu.Unlock()
	metrics.PeersConnected.Set(float64(n))
}

func (c *Coordinator) unregister(addr string) {
	c.mu.Lock()
	_, ok := c.sessions[addr]
	if ok {
		delete(c.sessions, addr)
	}
	n := len(c.sessions)
	c.mu.Unlock()
	if ok {
		metrics.PeersConnected.Set(float64(n))
		log.Printf("[network] peer %s disconnected", addr)
	}
}

// wireSession hooks a session's events into the coordinator before the
// handshake starts, so no early message is missed.
func (c *Coordinator) wireSession(s *peer.Session) {
	s.OnMessage(func(data []byte) {
		if h := c.onMessage; h != nil {
			h(s.Identity(), data)
		}
	})
	s.OnClose(func(reason peer.CloseReason) {
		if reason == peer.ReasonTimeout {
			metrics.HandshakesFailed.WithLabelValues("timeout").Inc()
		}
		c.unregister(s.Identity().Address)
	})
}

// ─── Connect ────────────────────────────────────────────────────────────────

// ConnectToPeer establishes an offerer session with the given identity, or
// returns the existing live session unchanged. Concurrent calls for the
// same identity coalesce into one dial. On any failure the half-built
// session is discarded and the registry is untouched; retry is the
// caller's decision.
func (c *Coordinator) ConnectToPeer(ctx context.Context, id domain.PeerIdentity) (Transport, error) {
	if t := c.live(id.Address); t != nil {
		return t, nil
	}
	v, err, _ := c.connects.Do(id.Address, func() (any, error) {
		if t := c.live(id.Address); t != nil {
			return t, nil
		}
		return c.dialPeer(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(Transport), nil
}

func (c *Coordinator) dialPeer(ctx context.Context, id domain.PeerIdentity) (Transport, error) {
	// While the coordinator runs, in-flight dials also end when Stop does.
	c.mu.Lock()
	run := c.runCtx
	c.mu.Unlock()
	if run != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(run, cancel)()
	}

	s, err := peer.New(id, peer.RoleOfferer, c.cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	c.wireSession(s)

	offer, err := s.CreateOffer()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", id.Address)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectFailed, id.Address, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))

	if err := writeSignal(conn, domain.SignalMessage{
		Kind: domain.SignalOffer,
		SDP:  offer,
		Name: c.cfg.DeviceName,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: send offer: %v", ErrConnectFailed, err)
	}

	reply, err := readSignal(bufio.NewReader(conn))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: read answer: %v", ErrConnectFailed, err)
	}
	if reply.Kind != domain.SignalAnswer {
		s.Close()
		return nil, fmt.Errorf("%w: unexpected reply kind %q", ErrConnectFailed, reply.Kind)
	}
	if reply.Name != "" {
		s.SetName(reply.Name)
	}

	if err := s.HandleAnswer(reply.SDP); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	openCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := s.WaitOpen(openCtx); err != nil {
		metrics.HandshakesFailed.WithLabelValues("open-timeout").Inc()
		s.Close()
		return nil, fmt.Errorf("%w: channel never opened: %v", ErrConnectFailed, err)
	}

	c.register(s)
	log.Printf("[network] connected to %s", id)
	return s, nil
}

// ─── Delivery ───────────────────────────────────────────────────────────────

// Broadcast delivers payload to every open session. Fan-out is best-effort
// and failure-isolated: one peer's send error never blocks the rest. The
// return value is the number of successful deliveries.
func (c *Coordinator) Broadcast(payload []byte) int {
	c.mu.Lock()
	targets := make([]Transport, 0, len(c.sessions))
	for _, t := range c.sessions {
		if t.State() == peer.StateOpen {
			targets = append(targets, t)
		}
	}
	c.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.Send(payload); err != nil {
			log.Printf("[network] send to %s: %v", t.Identity(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo delivers payload to one peer; ErrPeerNotConnected when no open
// session exists for the identity.
func (c *Coordinator) SendTo(id domain.PeerIdentity, payload []byte) error {
	t := c.live(id.Address)
	if t == nil || t.State() != peer.StateOpen {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, id.Address)
	}
	return t.Send(payload)
}

// ─── Maintenance ────────────────────────────────────────────────────────────

// maintainLoop periodically re-discovers peers, with a fast retry while no
// peer is connected.
func (c *Coordinator) maintainLoop(ctx context.Context) {
	defer c.wg.Done()

	const (
		healthTick = 5 * time.Second
		fastRetry  = 10 * time.Second
	)

	c.discoverAndConnect(ctx)
	last := time.Now()

	ticker := time.NewTicker(healthTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Since(last)
			if since > c.cfg.DiscoveryInterval || (c.PeerCount() == 0 && since > fastRetry) {
				c.discoverAndConnect(ctx)
				last = time.Now()
			}
		}
	}
}

func (c *Coordinator) discoverAndConnect(ctx context.Context) {
	found, err := c.Discover(ctx, c.cfg.DiscoveryTimeout)
	if err != nil {
		return
	}
	for _, id := range found {
		if c.live(id.Address) != nil {
			continue
		}
		if _, err := c.ConnectToPeer(ctx, id); err != nil {
			log.Printf("[network] connect to %s: %v", id, err)
		}
	}
}
