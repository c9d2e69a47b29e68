package peer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipscape-network/clipscape/internal/domain"
)

// testConfig avoids external STUN: host candidates are enough in-process.
func testConfig() Config {
	return Config{HandshakeTimeout: 10 * time.Second}
}

func newTestSession(t *testing.T, role Role) *Session {
	t.Helper()
	s, err := New(domain.PeerIdentity{Address: "127.0.0.1:0", Name: "test"}, role, testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// handshake drives a full offer/answer exchange between two sessions and
// waits for both channels to open.
func handshake(t *testing.T, offerer, answerer *Session) {
	t.Helper()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer() error: %v", err)
	}
	answer, err := answerer.HandleOffer(offer)
	if err != nil {
		t.Fatalf("HandleOffer() error: %v", err)
	}
	if err := offerer.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := offerer.WaitOpen(ctx); err != nil {
		t.Fatalf("offerer never opened: %v", err)
	}
	if err := answerer.WaitOpen(ctx); err != nil {
		t.Fatalf("answerer never opened: %v", err)
	}
}

func TestHandshakeAndSend(t *testing.T) {
	offerer := newTestSession(t, RoleOfferer)
	answerer := newTestSession(t, RoleAnswerer)

	received := make(chan []byte, 1)
	answerer.OnMessage(func(data []byte) {
		received <- data
	})

	handshake(t, offerer, answerer)

	if got := offerer.State(); got != StateOpen {
		t.Errorf("offerer state = %s, want open", got)
	}
	if got := answerer.State(); got != StateOpen {
		t.Errorf("answerer state = %s, want open", got)
	}

	if err := offerer.Send([]byte("hello")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Errorf("received %q, want %q", data, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestSendOrdering(t *testing.T) {
	offerer := newTestSession(t, RoleOfferer)
	answerer := newTestSession(t, RoleAnswerer)

	received := make(chan string, 3)
	answerer.OnMessage(func(data []byte) {
		received <- string(data)
	})

	handshake(t, offerer, answerer)

	for _, msg := range []string{"one", "two", "three"} {
		if err := offerer.Send([]byte(msg)); err != nil {
			t.Fatalf("Send(%q) error: %v", msg, err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("out of order: got %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("message %q never delivered", want)
		}
	}
}

func TestCreateOfferTwice(t *testing.T) {
	s := newTestSession(t, RoleOfferer)

	if _, err := s.CreateOffer(); err != nil {
		t.Fatalf("first CreateOffer() error: %v", err)
	}
	if _, err := s.CreateOffer(); !errors.Is(err, ErrAlreadyNegotiating) {
		t.Errorf("second CreateOffer() error = %v, want ErrAlreadyNegotiating", err)
	}
}

func TestSendBeforeOpen(t *testing.T) {
	s := newTestSession(t, RoleOfferer)

	if err := s.Send([]byte("x")); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send() in state new: error = %v, want ErrNotReady", err)
	}

	if _, err := s.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer() error: %v", err)
	}
	if err := s.Send([]byte("x")); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send() while waiting: error = %v, want ErrNotReady", err)
	}
}

func TestHandleOfferMalformed(t *testing.T) {
	s := newTestSession(t, RoleAnswerer)

	if _, err := s.HandleOffer("this is not sdp"); !errors.Is(err, ErrMalformedDescription) {
		t.Errorf("HandleOffer(garbage) error = %v, want ErrMalformedDescription", err)
	}
}

func TestHandleAnswerWrongState(t *testing.T) {
	s := newTestSession(t, RoleOfferer)

	if err := s.HandleAnswer("v=0"); !errors.Is(err, ErrNotReady) {
		t.Errorf("HandleAnswer() from new: error = %v, want ErrNotReady", err)
	}
}

func TestStateAdvancesForward(t *testing.T) {
	offerer := newTestSession(t, RoleOfferer)

	if got := offerer.State(); got != StateNew {
		t.Fatalf("initial state = %s, want new", got)
	}
	if _, err := offerer.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer() error: %v", err)
	}
	if got := offerer.State(); got != StateWaitingAnswer {
		t.Errorf("state after offer = %s, want waiting-answer", got)
	}

	offerer.Close()
	if got := offerer.State(); got != StateClosed {
		t.Errorf("state after close = %s, want closed", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := newTestSession(t, RoleOfferer)

	var closes atomic.Int32
	s.OnClose(func(CloseReason) {
		closes.Add(1)
	})

	s.Close()
	s.Close()
	s.Close()

	time.Sleep(100 * time.Millisecond)
	if n := closes.Load(); n != 1 {
		t.Errorf("OnClose fired %d times, want exactly 1", n)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}

	// Operations after close fail cleanly.
	if _, err := s.CreateOffer(); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateOffer() after close: error = %v, want ErrClosed", err)
	}
	if err := s.Send([]byte("x")); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send() after close: error = %v, want ErrNotReady", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	s, err := New(domain.PeerIdentity{Address: "127.0.0.1:0"}, RoleOfferer, Config{
		HandshakeTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)

	reasons := make(chan CloseReason, 1)
	s.OnClose(func(r CloseReason) {
		reasons <- r
	})

	if _, err := s.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer() error: %v", err)
	}
	// No answer ever arrives.
	select {
	case r := <-reasons:
		if r != ReasonTimeout {
			t.Errorf("close reason = %s, want timeout", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session never closed after handshake timeout")
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}
