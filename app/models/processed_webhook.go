package models

import "time"

// ProcessedWebhookRetention is how long ledger rows are kept. Providers do
// not redeliver events older than this window.
const ProcessedWebhookRetention = 7 * 24 * time.Hour

// ProcessedWebhook is the idempotency ledger. A webhook counts as processed
// the instant this row exists; the unique index on webhook_id is the gate.
type ProcessedWebhook struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WebhookID   string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"webhook_id"`
	Provider    string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	EventType   string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ProcessedAt time.Time `gorm:"autoCreateTime;index" json:"processed_at"`

	// Business failures after the claim are recorded here for operators;
	// they never release the claim.
	ProcessingError string `gorm:"type:text" json:"processing_error,omitempty"`
}
