package model

import "time"

// DirectoryEntry устройство, известное ретранслятору
type DirectoryEntry struct {
	DeviceID string    `json:"device_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// Типы сообщений почтового ящика
const (
	MailboxOpen  = "open"
	MailboxData  = "data"
	MailboxClose = "close"
)

// MailboxMessage кадр канала CLOUD, ожидающий получателя на ретрансляторе
type MailboxMessage struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	LinkID    string    `json:"link_id"`
	Type      string    `json:"type"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
