// Package metrics provides Prometheus metrics for ClipScape — counters and
// gauges for discovery, peer sessions, and clipboard synchronization.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Discovery ──────────────────────────────────────────────────────────────

// DiscoveryRounds counts completed discovery passes.
var DiscoveryRounds = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "discovery_rounds_total",
	Help:      "Total discovery broadcast passes.",
})

// PeersDiscovered counts peers seen in discovery responses.
var PeersDiscovered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "peers_discovered_total",
	Help:      "Total peers returned by discovery (after dedup).",
})

// ─── Peer Sessions ──────────────────────────────────────────────────────────

// PeersConnected tracks live Open sessions.
var PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clipscape",
	Name:      "peers_connected",
	Help:      "Number of peer sessions currently open.",
})

// HandshakesFailed counts handshakes that ended in timeout or error.
var HandshakesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "handshakes_failed_total",
	Help:      "Total failed peer handshakes.",
}, []string{"reason"})

// ─── Clipboard Sync ─────────────────────────────────────────────────────────

// ItemsBroadcast counts locally originated items fanned out to peers.
var ItemsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "items_broadcast_total",
	Help:      "Total clipboard items broadcast to peers.",
})

// ItemsReceived counts items applied from remote peers.
var ItemsReceived = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "items_received_total",
	Help:      "Total clipboard items received and applied.",
})

// ItemsSuppressed counts echoes suppressed by the remote-write marker.
var ItemsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "items_suppressed_total",
	Help:      "Total re-broadcasts suppressed by echo prevention.",
})

// ItemsDropped counts items dropped by reason (oversize, malformed, self).
var ItemsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clipscape",
	Name:      "items_dropped_total",
	Help:      "Total clipboard items dropped.",
}, []string{"reason"})
