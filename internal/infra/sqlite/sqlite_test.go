package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipscape-network/clipscape/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "clipscape.db")); os.IsNotExist(err) {
		t.Error("clipscape.db should exist")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()
	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db2.Close()
	if err := db2.Ping(); err != nil {
		t.Errorf("Ping() after reopen: %v", err)
	}
}

// ─── Sync History ───────────────────────────────────────────────────────────

func TestRecordItem_AndHistory(t *testing.T) {
	db := newTestDB(t)

	item := domain.ClipboardItem{
		Payload:        []byte("hello"),
		Metadata:       map[string]any{"type": "text"},
		OriginDeviceID: "dev-remote",
		Timestamp:      time.Now(),
	}
	if err := db.RecordItem(item, "received"); err != nil {
		t.Fatalf("RecordItem() error: %v", err)
	}

	entries, err := db.History(10)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("History() returned %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.ContentHash != item.Hash() {
		t.Errorf("content hash = %q, want %q", e.ContentHash, item.Hash())
	}
	if e.SizeBytes != 5 {
		t.Errorf("size = %d, want 5", e.SizeBytes)
	}
	if e.OriginDeviceID != "dev-remote" {
		t.Errorf("origin = %q, want dev-remote", e.OriginDeviceID)
	}
	if e.Direction != "received" {
		t.Errorf("direction = %q, want received", e.Direction)
	}
	if e.ContentType != "text" {
		t.Errorf("content type = %q, want text", e.ContentType)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	db := newTestDB(t)

	for _, origin := range []string{"dev-a", "dev-b", "dev-c"} {
		item := domain.ClipboardItem{
			Payload:        []byte(origin),
			OriginDeviceID: origin,
		}
		if err := db.RecordItem(item, "sent"); err != nil {
			t.Fatalf("RecordItem() error: %v", err)
		}
	}

	entries, err := db.History(2)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("History(2) returned %d entries, want 2", len(entries))
	}
	if entries[0].OriginDeviceID != "dev-c" || entries[1].OriginDeviceID != "dev-b" {
		t.Errorf("order = %s, %s; want dev-c, dev-b",
			entries[0].OriginDeviceID, entries[1].OriginDeviceID)
	}
}

func TestPruneHistory(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 10; i++ {
		item := domain.ClipboardItem{
			Payload:        []byte{byte(i)},
			OriginDeviceID: "dev-a",
		}
		if err := db.RecordItem(item, "sent"); err != nil {
			t.Fatalf("RecordItem() error: %v", err)
		}
	}

	pruned, err := db.PruneHistory(3)
	if err != nil {
		t.Fatalf("PruneHistory() error: %v", err)
	}
	if pruned != 7 {
		t.Errorf("pruned %d rows, want 7", pruned)
	}

	entries, err := db.History(100)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("%d entries remain, want 3", len(entries))
	}
}

// ─── Device Registry ────────────────────────────────────────────────────────

func TestUpsertDevice_InsertAndUpdate(t *testing.T) {
	db := newTestDB(t)

	info := domain.DeviceInfo{
		DeviceID: "dev-remote",
		Name:     "old-name",
		Address:  "192.168.1.5:9999",
		LastSeen: time.Now(),
	}
	if err := db.UpsertDevice(info); err != nil {
		t.Fatalf("UpsertDevice() error: %v", err)
	}

	info.Name = "new-name"
	if err := db.UpsertDevice(info); err != nil {
		t.Fatalf("UpsertDevice() update error: %v", err)
	}

	got, err := db.Device("dev-remote")
	if err != nil {
		t.Fatalf("Device() error: %v", err)
	}
	if got == nil {
		t.Fatal("Device() returned nil for known device")
	}
	if got.Name != "new-name" {
		t.Errorf("name = %q, want new-name", got.Name)
	}
	if got.Address != "192.168.1.5:9999" {
		t.Errorf("address = %q", got.Address)
	}

	devices, err := db.Devices()
	if err != nil {
		t.Fatalf("Devices() error: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("Devices() returned %d records, want 1", len(devices))
	}
}

func TestDevice_Unknown(t *testing.T) {
	db := newTestDB(t)

	got, err := db.Device("nobody")
	if err != nil {
		t.Fatalf("Device() error: %v", err)
	}
	if got != nil {
		t.Errorf("Device(unknown) = %+v, want nil", got)
	}
}
