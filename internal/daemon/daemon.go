package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipscape-network/clipscape/internal/api"
	"github.com/clipscape-network/clipscape/internal/clipboard"
	_ "github.com/clipscape-network/clipscape/internal/infra/metrics" // Register Prometheus metrics
	"github.com/clipscape-network/clipscape/internal/infra/sqlite"
	"github.com/clipscape-network/clipscape/internal/network"
	"github.com/clipscape-network/clipscape/internal/peer"
	"github.com/clipscape-network/clipscape/internal/syncengine"
)

// Version is the daemon version reported by the status API.
const Version = "0.1.0"

// Daemon is the core ClipScape runtime. It wires together the clipboard
// device, the network coordinator, the sync engine, storage, and the API.
type Daemon struct {
	Config      Config
	DB          *sqlite.DB
	Device      clipboard.Device
	Coordinator *network.Coordinator
	Engine      *syncengine.Engine
	Server      *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if cfg.Node.ID == "" {
		cfg.Node.ID = NewDeviceID()
	}

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
	}

	// Sync history (optional)
	var db *sqlite.DB
	if cfg.Storage.Enabled {
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = clipscapeHome()
		}
		var err error
		db, err = sqlite.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	}

	// Clipboard device: the OS clipboard, or in-memory when headless or no
	// tool is available.
	var device clipboard.Device
	if cfg.Sync.Headless {
		device = clipboard.NewMemory()
	} else {
		sys, err := clipboard.NewSystem()
		if err != nil {
			log.Printf("[daemon] %v; running with in-memory clipboard", err)
			device = clipboard.NewMemory()
		} else {
			device = sys
		}
	}

	// Network coordinator
	coord := network.New(network.Config{
		DeviceName:        cfg.Node.Name,
		SignalingPort:     cfg.Network.SignalingPort,
		DiscoveryPort:     cfg.Network.DiscoveryPort,
		DiscoveryTimeout:  parseDuration(cfg.Network.DiscoveryTimeout, 2*time.Second),
		DiscoveryInterval: parseDuration(cfg.Network.DiscoveryInterval, 30*time.Second),
		ConnectTimeout:    parseDuration(cfg.Network.ConnectTimeout, 10*time.Second),
		Session: peer.Config{
			ICEServers:       cfg.Network.STUNServers,
			HandshakeTimeout: 15 * time.Second,
		},
	})

	// Sync engine
	var recorder syncengine.Recorder
	if db != nil {
		recorder = db
	}
	engine := syncengine.New(syncengine.Config{
		DeviceID:        cfg.Node.ID,
		PollInterval:    parseDuration(cfg.Sync.PollInterval, 250*time.Millisecond),
		MarkerWindow:    parseDuration(cfg.Sync.MarkerWindow, 0),
		MaxPayloadBytes: cfg.Sync.MaxPayloadKB * 1024,
	}, device, coord, recorder)
	coord.OnMessage(engine.HandleRemote)

	// Status API
	srv := api.NewServer(api.NodeInfo{
		DeviceID:   cfg.Node.ID,
		DeviceName: cfg.Node.Name,
		Version:    Version,
		StartedAt:  time.Now(),
	}, coord, historyStore(db))
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:      cfg,
		DB:          db,
		Device:      device,
		Coordinator: coord,
		Engine:      engine,
		Server:      srv,
	}, nil
}

// historyStore keeps a nil *sqlite.DB from becoming a non-nil interface.
func historyStore(db *sqlite.DB) api.HistoryStore {
	if db == nil {
		return nil
	}
	return db
}

// Serve starts every service and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.Coordinator.Start(); err != nil {
		return fmt.Errorf("start network: %w", err)
	}

	go func() {
		if err := d.Engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[daemon] sync engine: %v", err)
		}
	}()

	if d.DB != nil && d.Config.Storage.MaxHistoryRows > 0 {
		go d.pruneLoop(ctx)
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if !d.Config.API.Enabled {
		log.Printf("[daemon] running (device %s, no API)", d.Config.Node.ID)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		d.shutdown(nil)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		d.shutdown(httpServer)
	}()

	fmt.Printf("ClipScape serving on http://%s (device %s)\n", addr, d.Config.Node.ID)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (d *Daemon) shutdown(httpServer *http.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	d.Coordinator.Stop()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// pruneLoop trims the sync history once an hour.
func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.DB.PruneHistory(d.Config.Storage.MaxHistoryRows); err != nil {
				log.Printf("[daemon] prune history: %v", err)
			} else if n > 0 {
				log.Printf("[daemon] pruned %d history rows", n)
			}
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Coordinator != nil {
		d.Coordinator.Stop()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
