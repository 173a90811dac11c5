package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/shopspring/decimal"
)

// PolarEvent is the SubscriptionSource for the metered-billing provider.
// Polar sends nested objects and amounts in cents.
type PolarEvent struct {
	Type string
	Data json.RawMessage
}

// ParsePolarEvent wraps an envelope into the Polar union member.
func ParsePolarEvent(env Envelope) (*PolarEvent, error) {
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.New("polar event is missing a type")
	}
	return &PolarEvent{Type: env.Type, Data: env.Data}, nil
}

func (e *PolarEvent) Provider() string {
	return models.SubscriptionProviderPolar
}

func (e *PolarEvent) Kind() EventKind {
	switch e.Type {
	case "checkout.created", "order.created", "order.paid":
		return KindCheckout
	case "subscription.created", "subscription.active":
		return KindSubscriptionActivated
	case "subscription.updated":
		return KindSubscriptionUpdated
	case "subscription.canceled":
		return KindSubscriptionCancelled
	case "subscription.revoked":
		return KindSubscriptionRevoked
	case "subscription.past_due":
		return KindPaymentFailed
	case "order.refunded":
		return KindOrderRefunded
	default:
		return KindUnknown
	}
}

type polarSubscriptionData struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
	Product    struct {
		Name string `json:"name"`
	} `json:"product"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	RecurringInterval  string            `json:"recurring_interval"`
	Status             string            `json:"status"`
	CurrentPeriodStart *time.Time        `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time        `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	StartedAt          *time.Time        `json:"started_at"`
	Metadata           map[string]string `json:"metadata"`
}

type polarOrderData struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Product    struct {
		Name string `json:"name"`
	} `json:"product"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (e *PolarEvent) Subscription() (*NormalizedSubscription, error) {
	var data polarSubscriptionData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("polar subscription payload: %w", err)
	}
	if strings.TrimSpace(data.ID) == "" {
		return nil, errors.New("polar subscription payload missing id")
	}
	if strings.TrimSpace(data.CustomerID) == "" {
		return nil, errors.New("polar subscription payload missing customer_id")
	}

	norm := &NormalizedSubscription{
		Provider:               e.Provider(),
		ProviderSubscriptionID: data.ID,
		ProviderCustomerID:     data.CustomerID,
		ProviderPlanRef:        data.ProductID,
		PlanName:               strings.TrimSpace(data.Product.Name),
		BillingPeriod:          normalizeBillingPeriod(data.RecurringInterval),
		Amount:                 decimal.NewFromInt(data.Amount).Div(decimal.NewFromInt(100)),
		Currency:               strings.ToUpper(strings.TrimSpace(data.Currency)),
		Status:                 polarStatus(data.Status),
		StartsAt:               data.CurrentPeriodStart,
		EndsAt:                 data.CurrentPeriodEnd,
		CancelAtPeriodEnd:      data.CancelAtPeriodEnd,
		AutoRenew:              !data.CancelAtPeriodEnd,
		RawJSON:                string(e.Data),
	}
	if norm.StartsAt == nil {
		norm.StartsAt = data.StartedAt
	}
	if from, ok := data.Metadata["upgrade_from"]; ok && strings.TrimSpace(from) != "" {
		norm.ImmediateUpgrade = true
		norm.UpgradeReason = "upgrade from " + strings.TrimSpace(from)
	}
	if id, ok := data.Metadata["payment_id"]; ok {
		norm.PaymentID = strings.TrimSpace(id)
	}
	return norm, nil
}

func (e *PolarEvent) Order() (*NormalizedOrder, error) {
	var data polarOrderData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("polar order payload: %w", err)
	}
	if strings.TrimSpace(data.ID) == "" {
		return nil, errors.New("polar order payload missing id")
	}

	status := models.PaymentStatusPaid
	if e.Kind() == KindOrderRefunded {
		status = models.PaymentStatusRefunded
	}
	return &NormalizedOrder{
		Provider:           e.Provider(),
		ProviderOrderID:    data.ID,
		ProviderCustomerID: data.CustomerID,
		PlanName:           strings.TrimSpace(data.Product.Name),
		Amount:             decimal.NewFromInt(data.Amount).Div(decimal.NewFromInt(100)),
		Currency:           strings.ToUpper(strings.TrimSpace(data.Currency)),
		Status:             status,
		RawJSON:            string(e.Data),
	}, nil
}

func polarStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due":
		return models.SubscriptionStatusPastDue
	case "canceled":
		return models.SubscriptionStatusCancelled
	case "revoked":
		return models.SubscriptionStatusExpired
	case "incomplete", "":
		return models.SubscriptionStatusPending
	default:
		return models.SubscriptionStatusPending
	}
}
