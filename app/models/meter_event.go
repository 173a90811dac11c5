package models

import "time"

const (
	MeterTypeForms       = "forms"
	MeterTypeSubmissions = "submissions"
)

const (
	MeterIngestionPending = "pending"
	MeterIngestionSent    = "sent"
	MeterIngestionFailed  = "failed"
)

// MeterEvent is the append-only audit of every usage unit reported upstream.
// Rows are never mutated except for the pending -> sent|failed transition.
// Real-time quota decisions never read this table.
type MeterEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	EventName       string    `gorm:"type:varchar(100);not null" json:"event_name"`
	MeterType       string    `gorm:"type:varchar(20);not null;index" json:"meter_type"`
	Quantity        int64     `gorm:"not null;default:1" json:"quantity"`
	IngestionStatus string    `gorm:"type:varchar(16);not null;default:'pending';index:idx_meter_events_status_created,priority:1" json:"ingestion_status"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_meter_events_status_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
