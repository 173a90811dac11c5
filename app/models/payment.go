package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Payment is the provenance audit row written for checkout/order events.
// It carries no entitlement weight; entitlements change only through
// Subscription transitions.
type Payment struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"index" json:"user_id"`
	Provider        string          `gorm:"type:varchar(20);not null;index:ux_payments_provider_order,unique,priority:1" json:"provider"`
	ProviderOrderID string          `gorm:"type:varchar(191);not null;index:ux_payments_provider_order,unique,priority:2" json:"provider_order_id"`
	PlanName        string          `gorm:"type:varchar(50);default:''" json:"plan_name"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency        string          `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	Status          string          `gorm:"type:varchar(32);not null;default:'paid'" json:"status"`
	RawPayloadJSON  string          `gorm:"type:longtext" json:"-"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
