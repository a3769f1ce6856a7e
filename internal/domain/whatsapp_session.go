package domain

import "time"

// Persisted session statuses
const (
	SessionReady        = "ready"
	SessionDisconnected = "disconnected"
	SessionAuthFailed   = "auth_failed"
)

// WhatsAppSession mirrors the last known state of a tenant's WhatsApp session.
// The in-memory registry is authoritative; this row only survives restarts.
type WhatsAppSession struct {
	ID             int64     `json:"id,string" gorm:"primaryKey"`
	UserId         string    `json:"user_id" gorm:"uniqueIndex;size:128"`
	Status         string    `json:"status" gorm:"size:32"`
	WhatsappNumber string    `json:"whatsapp_number" gorm:"size:32"`
	DeviceJid      string    `json:"device_jid" gorm:"size:128"` // whatsmeow store device, set after pairing
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (WhatsAppSession) TableName() string {
	return "sessions"
}
