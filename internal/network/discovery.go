package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/clipscape-network/clipscape/internal/domain"
	"github.com/clipscape-network/clipscape/internal/infra/metrics"
)

// Discovery wire format: plaintext UDP broadcast. A requester sends
// discoverRequest; every listening peer replies
// "CLIPSCAPE_ANNOUNCE:<deviceName>:<signalingPort>" to the sender.
const (
	discoverRequest = "CLIPSCAPE_DISCOVER"
	announcePrefix  = "CLIPSCAPE_ANNOUNCE:"
	maxDatagram     = 1024
)

var errBadAnnouncement = errors.New("malformed discovery announcement")

func encodeAnnouncement(name string, port int) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", announcePrefix, name, port))
}

// parseAnnouncement splits on the LAST colon so device names may contain
// colons themselves.
func parseAnnouncement(data []byte) (name string, port int, err error) {
	s := string(data)
	if !strings.HasPrefix(s, announcePrefix) {
		return "", 0, errBadAnnouncement
	}
	rest := s[len(announcePrefix):]
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return "", 0, errBadAnnouncement
	}
	name = rest[:i]
	port, err = strconv.Atoi(rest[i+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, errBadAnnouncement
	}
	return name, port, nil
}

// respondLoop answers discovery requests on the coordinator's UDP socket.
// Read deadlines keep the loop responsive to shutdown.
func (c *Coordinator) respondLoop(ctx context.Context, conn *net.UDPConn) {
	defer c.wg.Done()

	announce := encodeAnnouncement(c.cfg.DeviceName, c.signalingPort())
	buf := make([]byte, maxDatagram)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
		if string(buf[:n]) != discoverRequest {
			continue
		}
		_, _ = conn.WriteToUDP(announce, addr)
	}
}

// Discover broadcasts a discovery request and collects announcements until
// the timeout elapses. It always returns by ≈timeout regardless of how many
// responses arrive, and deduplicates peers by host:port. Zero responders is
// not an error. Discover does not require Start: it uses its own ephemeral
// socket, so one-shot discovery works without binding the listeners.
func (c *Coordinator) Discover(ctx context.Context, timeout time.Duration) ([]domain.PeerIdentity, error) {
	if timeout <= 0 {
		timeout = c.cfg.DiscoveryTimeout
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("discovery socket: %w", err)
	}
	defer conn.Close()

	// Stop blocking reads early if the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	request := []byte(discoverRequest)
	for _, bcast := range broadcastAddresses() {
		dst := &net.UDPAddr{IP: net.ParseIP(bcast), Port: c.cfg.DiscoveryPort}
		if dst.IP == nil {
			continue
		}
		_, _ = conn.WriteToUDP(request, dst)
	}

	deadline := time.Now().Add(timeout)
	self := localIPs()
	seen := make(map[string]struct{})
	var found []domain.PeerIdentity
	buf := make([]byte, maxDatagram)

	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		name, port, perr := parseAnnouncement(buf[:n])
		if perr != nil {
			continue
		}
		ip := addr.IP.String()
		if port == c.signalingPort() && self[ip] {
			continue // our own announcement looped back
		}
		key := net.JoinHostPort(ip, strconv.Itoa(port))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		found = append(found, domain.PeerIdentity{Address: key, Name: name})
	}

	metrics.DiscoveryRounds.Inc()
	metrics.PeersDiscovered.Add(float64(len(found)))
	return found, ctx.Err()
}

// broadcastAddresses returns the directed broadcast address of every up,
// broadcast-capable IPv4 interface, plus the limited broadcast address.
// Virtual bridge/veth interfaces are skipped.
func broadcastAddresses() []string {
	var out []string
	seen := make(map[string]bool)

	ifaces, err := net.Interfaces()
	if err != nil {
		return []string{"255.255.255.255"}
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		if strings.HasPrefix(iface.Name, "br-") || strings.HasPrefix(iface.Name, "veth") {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			ipv4 := ipnet.IP.To4()
			if ipv4 == nil || len(ipnet.Mask) != 4 {
				continue
			}
			bcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				bcast[i] = ipv4[i] | ^ipnet.Mask[i]
			}
			s := bcast.String()
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}

	if !seen["255.255.255.255"] {
		out = append(out, "255.255.255.255")
	}
	return out
}

// localIPs returns every IPv4 address assigned to this host, used to filter
// our own announcements out of discovery results.
func localIPs() map[string]bool {
	self := map[string]bool{"127.0.0.1": true}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return self
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			if v4 := ipnet.IP.To4(); v4 != nil {
				self[v4.String()] = true
			}
		}
	}
	return self
}
