package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/clipscape-network/clipscape/internal/domain"
	"github.com/clipscape-network/clipscape/internal/peer"
)

// fakeTransport stands in for a live session in registry tests.
type fakeTransport struct {
	id   domain.PeerIdentity
	fail bool

	mu     sync.Mutex
	state  peer.State
	got    [][]byte
	closes int
}

func newFakeTransport(addr, name string) *fakeTransport {
	return &fakeTransport{
		id:    domain.PeerIdentity{Address: addr, Name: name},
		state: peer.StateOpen,
	}
}

func (f *fakeTransport) Identity() domain.PeerIdentity { return f.id }

func (f *fakeTransport) State() peer.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("link down")
	}
	f.got = append(f.got, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = peer.StateClosed
	f.closes++
}

func (f *fakeTransport) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func testCoordinatorConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DeviceName = "test-node"
	cfg.SignalingPort = 0
	cfg.DiscoveryPort = freeUDPPort(t)
	cfg.DiscoveryInterval = 0 // no background loop in tests
	cfg.ConnectTimeout = 5 * time.Second
	cfg.Session = peer.Config{HandshakeTimeout: 10 * time.Second}
	return cfg
}

func TestBroadcastFailureIsolation(t *testing.T) {
	c := New(testCoordinatorConfig(t))

	good1 := newFakeTransport("10.0.0.1:9999", "good1")
	bad := newFakeTransport("10.0.0.2:9999", "bad")
	bad.fail = true
	good2 := newFakeTransport("10.0.0.3:9999", "good2")

	c.register(good1)
	c.register(bad)
	c.register(good2)

	delivered := c.Broadcast([]byte("payload"))
	if delivered != 2 {
		t.Errorf("Broadcast() delivered = %d, want 2", delivered)
	}
	if good1.received() != 1 || good2.received() != 1 {
		t.Errorf("healthy peers received %d/%d messages, want 1/1",
			good1.received(), good2.received())
	}
}

func TestBroadcastSkipsClosedSessions(t *testing.T) {
	c := New(testCoordinatorConfig(t))

	open := newFakeTransport("10.0.0.1:9999", "open")
	closed := newFakeTransport("10.0.0.2:9999", "closed")
	c.register(open)
	c.register(closed)
	closed.Close()

	if delivered := c.Broadcast([]byte("x")); delivered != 1 {
		t.Errorf("Broadcast() delivered = %d, want 1", delivered)
	}
	if closed.received() != 0 {
		t.Errorf("closed session received %d messages, want 0", closed.received())
	}
	if n := c.PeerCount(); n != 1 {
		t.Errorf("PeerCount() = %d, want 1", n)
	}
}

func TestSendToNotConnected(t *testing.T) {
	c := New(testCoordinatorConfig(t))

	id := domain.PeerIdentity{Address: "10.0.0.9:9999", Name: "ghost"}
	if err := c.SendTo(id, []byte("x")); !errors.Is(err, ErrPeerNotConnected) {
		t.Errorf("SendTo() error = %v, want ErrPeerNotConnected", err)
	}
}

func TestRegisterKeepsExistingLiveSession(t *testing.T) {
	c := New(testCoordinatorConfig(t))

	first := newFakeTransport("10.0.0.1:9999", "first")
	second := newFakeTransport("10.0.0.1:9999", "second")
	c.register(first)
	c.register(second)

	if second.State() != peer.StateClosed {
		t.Error("duplicate registration was not closed")
	}
	if first.State() != peer.StateOpen {
		t.Error("existing live session was disturbed")
	}

	got, err := c.ConnectToPeer(context.Background(), first.Identity())
	if err != nil {
		t.Fatalf("ConnectToPeer() error: %v", err)
	}
	if got != Transport(first) {
		t.Error("ConnectToPeer() did not return the existing live session")
	}
}

func TestRegisterReplacesClosedSession(t *testing.T) {
	c := New(testCoordinatorConfig(t))

	dead := newFakeTransport("10.0.0.1:9999", "dead")
	c.register(dead)
	dead.Close()

	fresh := newFakeTransport("10.0.0.1:9999", "fresh")
	c.register(fresh)

	if fresh.State() != peer.StateOpen {
		t.Error("replacement session was closed")
	}
	peers := c.Peers()
	if len(peers) != 1 || peers[0].Name != "fresh" {
		t.Errorf("Peers() = %v, want the fresh session only", peers)
	}
}

func TestConnectToPeerRefused(t *testing.T) {
	cfg := testCoordinatorConfig(t)
	cfg.ConnectTimeout = 2 * time.Second
	c := New(cfg)

	// Reserve a TCP port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	id := domain.PeerIdentity{Address: deadAddr, Name: "nobody"}
	start := time.Now()
	_, err = c.ConnectToPeer(context.Background(), id)
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("ConnectToPeer() error = %v, want ErrConnectFailed", err)
	}
	if elapsed := time.Since(start); elapsed > cfg.ConnectTimeout+2*time.Second {
		t.Errorf("ConnectToPeer() took %v, want bounded by the connect timeout", elapsed)
	}
	if n := c.PeerCount(); n != 0 {
		t.Errorf("registry has %d peers after failed connect, want 0", n)
	}
}

func TestConnectToSilentPeer(t *testing.T) {
	cfg := testCoordinatorConfig(t)
	cfg.ConnectTimeout = time.Second
	c := New(cfg)

	// Accepts the dial but never answers the signaling exchange.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	id := domain.PeerIdentity{Address: ln.Addr().String(), Name: "mute"}
	start := time.Now()
	_, err = c.ConnectToPeer(context.Background(), id)
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("ConnectToPeer() error = %v, want ErrConnectFailed", err)
	}
	if elapsed := time.Since(start); elapsed > cfg.ConnectTimeout+3*time.Second {
		t.Errorf("ConnectToPeer() took %v, want bounded by the connect timeout", elapsed)
	}
	if n := c.PeerCount(); n != 0 {
		t.Errorf("registry has %d peers after failed connect, want 0", n)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	c := New(testCoordinatorConfig(t))

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	c.Stop()
	c.Stop() // must not panic or hang
}

func TestRegisterAfterStopClosesNewcomer(t *testing.T) {
	c := New(testCoordinatorConfig(t))
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	c.Stop()

	// A connect that raced past its handshake lands here after Stop.
	late := newFakeTransport("10.0.0.1:9999", "late")
	c.register(late)

	if late.State() != peer.StateClosed {
		t.Error("session registered after Stop was left open")
	}
	if n := c.PeerCount(); n != 0 {
		t.Errorf("PeerCount() after Stop = %d, want 0", n)
	}
}

func TestConnectAfterStopIsCancelled(t *testing.T) {
	cfg := testCoordinatorConfig(t)
	cfg.ConnectTimeout = 10 * time.Second
	c := New(cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	c.Stop()

	// Accepts but never answers; only cancellation can end the dial early.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	id := domain.PeerIdentity{Address: ln.Addr().String(), Name: "mute"}
	start := time.Now()
	_, err = c.ConnectToPeer(context.Background(), id)
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("ConnectToPeer() error = %v, want ErrConnectFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("ConnectToPeer() after Stop took %v, want prompt cancellation", elapsed)
	}
	if n := c.PeerCount(); n != 0 {
		t.Errorf("registry has %d peers, want 0", n)
	}
}

func TestConnectEndToEnd(t *testing.T) {
	answering := New(testCoordinatorConfig(t))
	if err := answering.Start(); err != nil {
		t.Fatalf("Start() answering side: %v", err)
	}
	t.Cleanup(answering.Stop)

	inbound := make(chan []byte, 1)
	answering.OnMessage(func(from domain.PeerIdentity, data []byte) {
		inbound <- data
	})

	offering := New(testCoordinatorConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id := domain.PeerIdentity{Address: answering.SignalingAddr()}
	tr, err := offering.ConnectToPeer(ctx, id)
	if err != nil {
		t.Fatalf("ConnectToPeer() error: %v", err)
	}
	t.Cleanup(tr.Close)

	if tr.Identity().Name != "test-node" {
		t.Errorf("peer name = %q, want name from the answer", tr.Identity().Name)
	}
	if n := offering.PeerCount(); n != 1 {
		t.Errorf("offering side PeerCount() = %d, want 1", n)
	}

	if err := tr.Send([]byte("across the wire")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	select {
	case data := <-inbound:
		if string(data) != "across the wire" {
			t.Errorf("received %q, want %q", data, "across the wire")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("message never arrived on the answering side")
	}

	// The answering side registered its own session for the exchange.
	deadline := time.Now().Add(5 * time.Second)
	for answering.PeerCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := answering.PeerCount(); n != 1 {
		t.Errorf("answering side PeerCount() = %d, want 1", n)
	}
}
