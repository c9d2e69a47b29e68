// Package clipboard defines the capture/write surface the sync engine talks
// to. Per-OS capture lives behind the Device interface; the package ships an
// in-process implementation used by tests and headless runs.
package clipboard

import (
	"sync"
	"time"
)

// Snapshot is one observation of the clipboard.
type Snapshot struct {
	Payload   []byte
	Metadata  map[string]any
	Timestamp time.Time
}

// Device is the clipboard collaborator. Poll must never fail the caller:
// implementations map internal errors to an empty payload. A Device is
// single-consumer per process; the sync engine is the only caller.
type Device interface {
	Poll() Snapshot
	Write(payload []byte, metadata map[string]any) error
}

// Memory is an in-process Device. It backs tests and --headless mode, where
// the "clipboard" is whatever was last Set or Written.
type Memory struct {
	mu       sync.Mutex
	payload  []byte
	metadata map[string]any
	stamp    time.Time
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory {
	return &Memory{}
}

// Set simulates a local copy (user action).
func (m *Memory) Set(payload []byte, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(payload, metadata)
}

// SetText simulates a local copy of plain text.
func (m *Memory) SetText(text string) {
	m.Set([]byte(text), map[string]any{"type": "text", "length": len(text)})
}

// Poll returns the current clipboard contents.
func (m *Memory) Poll() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload := make([]byte, len(m.payload))
	copy(payload, m.payload)
	metadata := make(map[string]any, len(m.metadata))
	for k, v := range m.metadata {
		metadata[k] = v
	}
	return Snapshot{Payload: payload, Metadata: metadata, Timestamp: m.stamp}
}

// Write applies a remote update to the clipboard.
func (m *Memory) Write(payload []byte, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(payload, metadata)
	return nil
}

func (m *Memory) store(payload []byte, metadata map[string]any) {
	m.payload = make([]byte, len(payload))
	copy(m.payload, payload)
	if metadata == nil {
		metadata = map[string]any{"type": "text"}
	}
	m.metadata = metadata
	m.stamp = time.Now()
}
