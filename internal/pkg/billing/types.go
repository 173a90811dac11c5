package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Envelope is the outer webhook body shared by every provider.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventKind is the canonical classification the service dispatches on.
// Each provider maps its own type strings onto this closed set.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindCheckout
	KindSubscriptionActivated
	KindSubscriptionUpdated
	KindSubscriptionCancelled
	KindSubscriptionRevoked
	KindPaymentFailed
	KindOrderRefunded
)

func (k EventKind) String() string {
	switch k {
	case KindCheckout:
		return "checkout"
	case KindSubscriptionActivated:
		return "subscription_activated"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionCancelled:
		return "subscription_cancelled"
	case KindSubscriptionRevoked:
		return "subscription_revoked"
	case KindPaymentFailed:
		return "payment_failed"
	case KindOrderRefunded:
		return "order_refunded"
	default:
		return "unknown"
	}
}

// NormalizedSubscription is the provider-agnostic shape every
// SubscriptionSource converges on before any entitlement logic runs.
type NormalizedSubscription struct {
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderPlanRef        string
	PlanName               string
	BillingPeriod          string
	Amount                 decimal.Decimal
	Currency               string
	Status                 string
	StartsAt               *time.Time
	EndsAt                 *time.Time
	CancelAtPeriodEnd      bool
	AutoRenew              bool

	// ImmediateUpgrade is set when the provider flags the event as an
	// in-place plan switch rather than a renewal of the same plan.
	ImmediateUpgrade bool
	UpgradeReason    string

	// PaymentID ties renewals to their provenance row.
	PaymentID string

	// UserID is only set by sources that address local users directly
	// (manual administration); webhook sources resolve users through the
	// external customer mapping.
	UserID uint

	RawJSON string
}

// NormalizedOrder is the checkout/order provenance shape. Orders never
// change entitlements; they only leave an audit trail.
type NormalizedOrder struct {
	Provider           string
	ProviderOrderID    string
	ProviderCustomerID string
	PlanName           string
	Amount             decimal.Decimal
	Currency           string
	Status             string
	RawJSON            string
}

// SubscriptionSource is the closed tagged union over provider payloads.
// Exactly one implementation exists per provider tag: PolarEvent,
// GenieEvent, ManualEvent. Call sites never branch on provider-specific
// payload fields.
type SubscriptionSource interface {
	// Provider returns the provider tag this source belongs to.
	Provider() string
	// Kind classifies the event onto the canonical set.
	Kind() EventKind
	// Subscription normalizes the payload into the canonical shape.
	// Only valid for subscription-affecting kinds.
	Subscription() (*NormalizedSubscription, error)
	// Order normalizes checkout/order provenance. Only valid for
	// KindCheckout and KindOrderRefunded.
	Order() (*NormalizedOrder, error)
}

func normalizeBillingPeriod(raw string) string {
	switch raw {
	case "month", "monthly":
		return "monthly"
	case "6month", "half_yearly", "half-yearly", "semiannual":
		return "half_yearly"
	case "year", "yearly", "annual":
		return "yearly"
	default:
		return "unknown"
	}
}
