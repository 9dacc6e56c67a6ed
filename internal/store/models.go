package store

import "time"

// MessageRecord archives the routing metadata of one relayed message.
// Payloads are not stored; encrypted bodies are opaque to the server and
// plaintext bodies are none of its business either.
type MessageRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Source      string `gorm:"index"`
	Destination string `gorm:"index"`
	Kind        string
	ReceivedAt  time.Time
}

// SessionRecord archives one login/logout cycle.
type SessionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"index"`
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
}
