package domain

import "time"

// HistoryEntry is one persisted sync event. Only the content hash is stored,
// never the clipboard payload itself.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	ContentHash    string    `json:"contentHash"`
	ContentType    string    `json:"contentType"`
	SizeBytes      int       `json:"sizeBytes"`
	OriginDeviceID string    `json:"originDeviceId"`
	Direction      string    `json:"direction"` // "sent" or "received"
	CreatedAt      time.Time `json:"createdAt"`
}

// DeviceInfo is a device this node has synced with.
type DeviceInfo struct {
	DeviceID string    `json:"deviceId"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"lastSeen"`
}
