// Package syncengine keeps the local clipboard and remote peers in sync.
//
// One goroutine owns all clipboard state: it polls the local device for
// changes and applies remote items delivered over the network, so local
// writes and remote writes never race. Echo prevention is hash-based — a
// remote write leaves a marker, and the next poll that observes the same
// content is suppressed instead of re-broadcast.
package syncengine

import (
	"context"
	"log"
	"time"

	"github.com/clipscape-network/clipscape/internal/clipboard"
	"github.com/clipscape-network/clipscape/internal/domain"
	"github.com/clipscape-network/clipscape/internal/infra/metrics"
)

// Broadcaster fans a wire-encoded item out to connected peers and reports
// how many deliveries succeeded. *network.Coordinator satisfies it.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// Recorder persists sync activity. Direction is "sent" or "received".
// A nil Recorder disables history.
type Recorder interface {
	RecordItem(item domain.ClipboardItem, direction string) error
}

// DeviceRecorder is an optional Recorder capability: stores implementing it
// also get the origin device of every applied remote item. *sqlite.DB
// satisfies it.
type DeviceRecorder interface {
	UpsertDevice(info domain.DeviceInfo) error
}

// Config holds the engine's tunables.
type Config struct {
	// DeviceID stamps every outgoing item's origin.
	DeviceID string
	// PollInterval is the clipboard polling cadence.
	PollInterval time.Duration
	// MarkerWindow is how long a remote-write marker suppresses re-broadcast
	// of the same content. Defaults to twice the poll interval, floor 500ms.
	MarkerWindow time.Duration
	// MaxPayloadBytes drops oversized clipboard contents instead of
	// broadcasting them; 0 means no limit.
	MaxPayloadBytes int
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    250 * time.Millisecond,
		MaxPayloadBytes: 1 << 20,
	}
}

func (c Config) markerWindow() time.Duration {
	if c.MarkerWindow > 0 {
		return c.MarkerWindow
	}
	w := 2 * c.PollInterval
	if w < 500*time.Millisecond {
		w = 500 * time.Millisecond
	}
	return w
}

// Engine is the sync loop. Construct with New, feed remote traffic through
// HandleRemote, and drive with Run.
type Engine struct {
	cfg      Config
	device   clipboard.Device
	peers    Broadcaster
	recorder Recorder

	inbound chan inboundItem

	// Owned exclusively by the Run goroutine.
	lastHash string
	primed   bool
	markers  map[string]time.Time
}

type inboundItem struct {
	from domain.PeerIdentity
	data []byte
}

// New creates an engine. recorder may be nil.
func New(cfg Config, device clipboard.Device, peers Broadcaster, recorder Recorder) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Engine{
		cfg:      cfg,
		device:   device,
		peers:    peers,
		recorder: recorder,
		inbound:  make(chan inboundItem, 32),
		markers:  make(map[string]time.Time),
	}
}

// HandleRemote queues a wire payload received from a peer. Safe to call from
// any goroutine; if the engine is backlogged the payload is dropped rather
// than blocking the network layer.
func (e *Engine) HandleRemote(from domain.PeerIdentity, data []byte) {
	select {
	case e.inbound <- inboundItem{from: from, data: data}:
	default:
		metrics.ItemsDropped.WithLabelValues("backlog").Inc()
		log.Printf("[sync] inbound backlog full, dropping item from %s", from)
	}
}

// Run polls the clipboard and applies remote items until ctx is cancelled.
// It owns all engine state; call it from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	log.Printf("[sync] engine running, poll interval %s", e.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sweepMarkers(time.Now())
			e.poll()
		case in := <-e.inbound:
			e.applyRemote(in.from, in.data)
		}
	}
}

// poll checks the local clipboard once and broadcasts genuine changes.
func (e *Engine) poll() {
	snap := e.device.Poll()
	if len(snap.Payload) == 0 {
		return
	}
	hash := domain.ContentHash(snap.Payload)
	if hash == e.lastHash {
		return
	}

	// First observation after startup establishes the baseline without
	// broadcasting whatever happened to be on the clipboard already.
	if !e.primed {
		e.primed = true
		e.lastHash = hash
		return
	}

	if _, marked := e.markers[hash]; marked {
		// This change is the echo of a remote write we just applied.
		e.lastHash = hash
		delete(e.markers, hash)
		metrics.ItemsSuppressed.Inc()
		return
	}

	e.lastHash = hash
	if e.cfg.MaxPayloadBytes > 0 && len(snap.Payload) > e.cfg.MaxPayloadBytes {
		metrics.ItemsDropped.WithLabelValues("oversize").Inc()
		log.Printf("[sync] clipboard content %d bytes exceeds limit, not broadcast", len(snap.Payload))
		return
	}

	item := domain.ClipboardItem{
		Payload:        snap.Payload,
		Metadata:       snap.Metadata,
		OriginDeviceID: e.cfg.DeviceID,
		Timestamp:      time.Now().UTC(),
	}
	data, err := domain.EncodeItem(item)
	if err != nil {
		log.Printf("[sync] encode clipboard item: %v", err)
		return
	}

	delivered := e.peers.Broadcast(data)
	metrics.ItemsBroadcast.Inc()
	log.Printf("[sync] broadcast %d bytes to %d peer(s)", len(snap.Payload), delivered)
	e.record(item, "sent")
}

// applyRemote decodes and applies one item from a peer. Malformed or
// self-originated items are dropped; everything else is written to the
// local clipboard with an echo marker set first.
func (e *Engine) applyRemote(from domain.PeerIdentity, data []byte) {
	item, err := domain.DecodeItem(data)
	if err != nil {
		metrics.ItemsDropped.WithLabelValues("malformed").Inc()
		log.Printf("[sync] bad item from %s: %v", from, err)
		return
	}
	if item.OriginDeviceID == e.cfg.DeviceID {
		metrics.ItemsDropped.WithLabelValues("own-origin").Inc()
		return
	}
	if e.cfg.MaxPayloadBytes > 0 && len(item.Payload) > e.cfg.MaxPayloadBytes {
		metrics.ItemsDropped.WithLabelValues("oversize").Inc()
		log.Printf("[sync] inbound item of %d bytes from %s exceeds limit, dropped", len(item.Payload), from)
		return
	}

	hash := domain.ContentHash(item.Payload)
	if hash == e.lastHash {
		// Already have this content; nothing to write, nothing to echo.
		metrics.ItemsSuppressed.Inc()
		return
	}

	// Marker before write: if the write succeeds, the next poll must
	// already know this content is remote.
	e.markers[hash] = time.Now().Add(e.cfg.markerWindow())
	if err := e.device.Write(item.Payload, item.Metadata); err != nil {
		delete(e.markers, hash)
		metrics.ItemsDropped.WithLabelValues("write-failed").Inc()
		log.Printf("[sync] clipboard write from %s: %v", from, err)
		return
	}

	metrics.ItemsReceived.Inc()
	log.Printf("[sync] applied %d bytes from %s (origin %s)", len(item.Payload), from, item.OriginDeviceID)
	e.record(item, "received")
	e.recordDevice(from, item.OriginDeviceID)
}

// sweepMarkers expires echo markers whose window has passed.
func (e *Engine) sweepMarkers(now time.Time) {
	for hash, expiry := range e.markers {
		if now.After(expiry) {
			delete(e.markers, hash)
		}
	}
}

func (e *Engine) record(item domain.ClipboardItem, direction string) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordItem(item, direction); err != nil {
		log.Printf("[sync] record history: %v", err)
	}
}

// recordDevice refreshes the origin device's registry entry, when the
// recorder keeps one.
func (e *Engine) recordDevice(from domain.PeerIdentity, deviceID string) {
	dr, ok := e.recorder.(DeviceRecorder)
	if !ok {
		return
	}
	info := domain.DeviceInfo{
		DeviceID: deviceID,
		Name:     from.Name,
		Address:  from.Address,
		LastSeen: time.Now(),
	}
	if err := dr.UpsertDevice(info); err != nil {
		log.Printf("[sync] record device: %v", err)
	}
}
