package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ItemTypeClipboard is the only data-channel message type currently defined.
const ItemTypeClipboard = "clipboard"

var (
	ErrBadItemType   = errors.New("unknown data channel message type")
	ErrMissingOrigin = errors.New("clipboard item has no origin device id")
)

// ClipboardItem is the wire form of one clipboard update. OriginDeviceID is
// mandatory: it is the basis for echo prevention.
type ClipboardItem struct {
	Payload        []byte
	Metadata       map[string]any
	OriginDeviceID string
	Timestamp      time.Time
}

// ContentHash returns the SHA-256 hex digest of a payload. Only payload
// bytes are hashed — metadata never participates in de-duplication.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Hash returns the content hash of the item's payload.
func (it ClipboardItem) Hash() string {
	return ContentHash(it.Payload)
}

// wireItem is the JSON shape sent over the data channel. The payload is
// hex-encoded and the timestamp is RFC 3339.
type wireItem struct {
	Type           string         `json:"type"`
	Payload        string         `json:"payload"`
	Metadata       map[string]any `json:"metadata"`
	OriginDeviceID string         `json:"originDeviceId"`
	Timestamp      string         `json:"timestamp"`
}

// EncodeItem serializes an item for the data channel.
func EncodeItem(it ClipboardItem) ([]byte, error) {
	if it.OriginDeviceID == "" {
		return nil, ErrMissingOrigin
	}
	ts := it.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wireItem{
		Type:           ItemTypeClipboard,
		Payload:        hex.EncodeToString(it.Payload),
		Metadata:       it.Metadata,
		OriginDeviceID: it.OriginDeviceID,
		Timestamp:      ts.UTC().Format(time.RFC3339),
	})
}

// DecodeItem parses a data-channel message back into a ClipboardItem.
// Any malformed field yields an error; callers drop the message.
func DecodeItem(data []byte) (ClipboardItem, error) {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return ClipboardItem{}, fmt.Errorf("decode clipboard item: %w", err)
	}
	if w.Type != ItemTypeClipboard {
		return ClipboardItem{}, fmt.Errorf("%w: %q", ErrBadItemType, w.Type)
	}
	if w.OriginDeviceID == "" {
		return ClipboardItem{}, ErrMissingOrigin
	}
	payload, err := hex.DecodeString(w.Payload)
	if err != nil {
		return ClipboardItem{}, fmt.Errorf("decode clipboard payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	return ClipboardItem{
		Payload:        payload,
		Metadata:       w.Metadata,
		OriginDeviceID: w.OriginDeviceID,
		Timestamp:      ts,
	}, nil
}
