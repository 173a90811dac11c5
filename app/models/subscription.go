package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionProviderPolar  = "polar"
	SubscriptionProviderGenie  = "genie"
	SubscriptionProviderManual = "manual"
)

const (
	BillingPeriodMonthly    = "monthly"
	BillingPeriodHalfYearly = "half_yearly"
	BillingPeriodYearly     = "yearly"
	BillingPeriodUnknown    = "unknown"
)

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusRefunded  = "refunded"
)

// Subscription is the canonical entitlement record. One row per user may be
// in an entitling status at any instant; history rows are kept forever and
// chained via PreviousPlanID.
type Subscription struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 uint            `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	Provider               string          `gorm:"type:varchar(20);not null;index" json:"provider"`
	ProviderSubscriptionID string          `gorm:"type:varchar(191);default:'';index" json:"provider_subscription_id"`
	PlanName               string          `gorm:"type:varchar(50);not null;index" json:"plan_name"`
	BillingPeriod          string          `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_period"`
	Amount                 decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency               string          `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	Status                 string          `gorm:"type:varchar(32);not null;default:'pending';index:idx_subscriptions_user_status,priority:2" json:"status"`
	SubscriptionStart      *time.Time      `gorm:"type:timestamp;default:null" json:"subscription_start,omitempty"`
	SubscriptionEnd        *time.Time      `gorm:"type:timestamp;default:null;index" json:"subscription_end,omitempty"`
	CancelledAt            *time.Time      `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	GracePeriodEndsAt      *time.Time      `gorm:"type:timestamp;default:null" json:"grace_period_ends_at,omitempty"`
	AutoRenew              bool            `gorm:"default:true" json:"auto_renew"`
	CancelAtPeriodEnd      bool            `gorm:"default:false" json:"cancel_at_period_end"`

	// Entitlement snapshot, cached at write time so point-in-time audits do
	// not depend on later plan registry changes.
	FormLimit          int  `gorm:"not null;default:0" json:"form_limit"`
	SubmissionLimit    int  `gorm:"not null;default:0" json:"submission_limit"`
	ImageUpload        bool `gorm:"default:false" json:"image_upload"`
	EmployeeManagement bool `gorm:"default:false" json:"employee_management"`

	// Lineage.
	PreviousPlanID *uint  `gorm:"default:null" json:"previous_plan_id,omitempty"`
	UpgradeReason  string `gorm:"type:varchar(191);default:''" json:"upgrade_reason,omitempty"`
	RenewalHistory string `gorm:"type:longtext" json:"-"`

	// Version is the optimistic concurrency token; every mutation goes
	// through a conditional update keyed by the last-known value.
	Version uint `gorm:"not null;default:1" json:"-"`

	RawPayloadJSON string    `gorm:"type:longtext" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RenewalEntry is one element of the renewal history audit list.
type RenewalEntry struct {
	PaymentID string    `json:"payment_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Renewals decodes the renewal history list. An empty or unparseable column
// yields an empty list; the history is an audit aid, never a decision input.
func (s *Subscription) Renewals() []RenewalEntry {
	if s.RenewalHistory == "" {
		return nil
	}
	var entries []RenewalEntry
	if err := json.Unmarshal([]byte(s.RenewalHistory), &entries); err != nil {
		return nil
	}
	return entries
}

// AppendRenewal records a renewal. Duplicate entries are tolerated; the list
// is append-only by contract.
func (s *Subscription) AppendRenewal(paymentID string, at time.Time) error {
	entries := append(s.Renewals(), RenewalEntry{PaymentID: paymentID, Timestamp: at})
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	s.RenewalHistory = string(raw)
	return nil
}

// IsEntitling reports whether this row currently grants entitlements:
// active/trialing, or cancelled-at-period-end with the end date still ahead.
func (s *Subscription) IsEntitling(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return s.SubscriptionEnd == nil || s.SubscriptionEnd.After(now)
	case SubscriptionStatusCancelled:
		return s.SubscriptionEnd != nil && s.SubscriptionEnd.After(now)
	case SubscriptionStatusPastDue:
		return s.GracePeriodEndsAt != nil && s.GracePeriodEndsAt.After(now)
	default:
		return false
	}
}
