package network

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"github.com/clipscape-network/clipscape/internal/domain"
	"github.com/clipscape-network/clipscape/internal/infra/metrics"
	"github.com/clipscape-network/clipscape/internal/peer"
)

// Signaling transport: one JSON object per line over a short-lived TCP
// connection. The offerer writes its offer, reads the answer, and the
// connection closes; the data channel lives independently afterwards.

// writeSignal sends one framed signaling message.
func writeSignal(conn net.Conn, msg domain.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

// readSignal reads one framed signaling message.
func readSignal(r *bufio.Reader) (domain.SignalMessage, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return domain.SignalMessage{}, err
	}
	var msg domain.SignalMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return domain.SignalMessage{}, err
	}
	return msg, nil
}

// acceptLoop takes inbound signaling connections; each one is handled on
// its own goroutine so a slow handshake never blocks the listener.
func (c *Coordinator) acceptLoop(ctx context.Context, ln net.Listener) {
	defer c.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[network] accept: %v", err)
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleSignaling(ctx, conn)
		}()
	}
}

// handleSignaling answers one inbound offer. A malformed exchange aborts
// only this connection; established sessions are unaffected.
func (c *Coordinator) handleSignaling(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))

	msg, err := readSignal(bufio.NewReader(conn))
	if err != nil {
		log.Printf("[network] signaling from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if msg.Kind != domain.SignalOffer {
		log.Printf("[network] signaling from %s: unexpected kind %q", conn.RemoteAddr(), msg.Kind)
		return
	}

	// The answerer keys the session by the offerer's source address, whose
	// port is an ephemeral TCP port rather than the announced signaling
	// port. If this side's own discovery later dials the same machine at
	// its announced port, the pair ends up with two links; the hash-based
	// echo suppression absorbs the duplicate deliveries.
	identity := domain.PeerIdentity{Address: conn.RemoteAddr().String(), Name: msg.Name}
	s, err := peer.New(identity, peer.RoleAnswerer, c.cfg.Session)
	if err != nil {
		log.Printf("[network] session for %s: %v", identity, err)
		return
	}
	c.wireSession(s)

	answer, err := s.HandleOffer(msg.SDP)
	if err != nil {
		log.Printf("[network] offer from %s rejected: %v", identity, err)
		metrics.HandshakesFailed.WithLabelValues("bad-offer").Inc()
		s.Close()
		return
	}

	reply := domain.SignalMessage{Kind: domain.SignalAnswer, SDP: answer, Name: c.cfg.DeviceName}
	if err := writeSignal(conn, reply); err != nil {
		log.Printf("[network] answer to %s: %v", identity, err)
		s.Close()
		return
	}

	// The TCP leg is done; register once the data channel actually opens.
	openCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := s.WaitOpen(openCtx); err != nil {
		log.Printf("[network] channel to %s never opened: %v", identity, err)
		metrics.HandshakesFailed.WithLabelValues("open-timeout").Inc()
		s.Close()
		return
	}
	c.register(s)
	log.Printf("[network] answered connection from %s", identity)
}
