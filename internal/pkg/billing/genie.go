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

// GenieEvent is the SubscriptionSource for the legacy card-network
// provider. Genie sends flat fields, decimal-string amounts and
// upper-cased states.
type GenieEvent struct {
	Type string
	Data json.RawMessage
}

// ParseGenieEvent wraps an envelope into the Genie union member.
func ParseGenieEvent(env Envelope) (*GenieEvent, error) {
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.New("genie event is missing a type")
	}
	return &GenieEvent{Type: env.Type, Data: env.Data}, nil
}

func (e *GenieEvent) Provider() string {
	return models.SubscriptionProviderGenie
}

func (e *GenieEvent) Kind() EventKind {
	switch e.Type {
	case "order.completed":
		return KindCheckout
	case "subscription.activated", "subscription.renewed":
		return KindSubscriptionActivated
	case "subscription.updated":
		return KindSubscriptionUpdated
	case "subscription.cancelled":
		return KindSubscriptionCancelled
	case "subscription.revoked":
		return KindSubscriptionRevoked
	case "payment.failed":
		return KindPaymentFailed
	case "order.refunded":
		return KindOrderRefunded
	default:
		return KindUnknown
	}
}

type geniePayload struct {
	SubscriptionID string     `json:"subscription_id"`
	CustomerRef    string     `json:"customer_ref"`
	PlanCode       string     `json:"plan_code"`
	PlanName       string     `json:"plan_name"`
	Period         string     `json:"period"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	State          string     `json:"state"`
	StartDate      *time.Time `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	AutoRenew      *bool      `json:"auto_renew"`
	CancelAtEnd    bool       `json:"cancel_at_end"`
	OrderID        string     `json:"order_id"`
	PaymentID      string     `json:"payment_id"`
	Upgrade        bool       `json:"upgrade"`
	Reason         string     `json:"reason"`
}

func (e *GenieEvent) Subscription() (*NormalizedSubscription, error) {
	var data geniePayload
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("genie payload: %w", err)
	}
	if strings.TrimSpace(data.SubscriptionID) == "" {
		return nil, errors.New("genie payload missing subscription_id")
	}
	if strings.TrimSpace(data.CustomerRef) == "" {
		return nil, errors.New("genie payload missing customer_ref")
	}

	amount := decimal.Zero
	if strings.TrimSpace(data.Amount) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(data.Amount))
		if err != nil {
			return nil, fmt.Errorf("genie payload has malformed amount %q: %w", data.Amount, err)
		}
		amount = parsed
	}

	autoRenew := true
	if data.AutoRenew != nil {
		autoRenew = *data.AutoRenew
	}

	norm := &NormalizedSubscription{
		Provider:               e.Provider(),
		ProviderSubscriptionID: data.SubscriptionID,
		ProviderCustomerID:     data.CustomerRef,
		ProviderPlanRef:        strings.TrimSpace(data.PlanCode),
		PlanName:               strings.TrimSpace(data.PlanName),
		BillingPeriod:          normalizeBillingPeriod(strings.ToLower(strings.TrimSpace(data.Period))),
		Amount:                 amount,
		Currency:               strings.ToUpper(strings.TrimSpace(data.Currency)),
		Status:                 genieState(data.State),
		StartsAt:               data.StartDate,
		EndsAt:                 data.EndDate,
		CancelAtPeriodEnd:      data.CancelAtEnd,
		AutoRenew:              autoRenew,
		ImmediateUpgrade:       data.Upgrade,
		UpgradeReason:          strings.TrimSpace(data.Reason),
		PaymentID:              strings.TrimSpace(data.PaymentID),
		RawJSON:                string(e.Data),
	}
	return norm, nil
}

func (e *GenieEvent) Order() (*NormalizedOrder, error) {
	var data geniePayload
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("genie payload: %w", err)
	}
	if strings.TrimSpace(data.OrderID) == "" {
		return nil, errors.New("genie payload missing order_id")
	}

	amount := decimal.Zero
	if strings.TrimSpace(data.Amount) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(data.Amount))
		if err != nil {
			return nil, fmt.Errorf("genie payload has malformed amount %q: %w", data.Amount, err)
		}
		amount = parsed
	}

	status := models.PaymentStatusPaid
	switch e.Kind() {
	case KindOrderRefunded:
		status = models.PaymentStatusRefunded
	case KindPaymentFailed:
		status = models.PaymentStatusFailed
	}
	return &NormalizedOrder{
		Provider:           e.Provider(),
		ProviderOrderID:    data.OrderID,
		ProviderCustomerID: data.CustomerRef,
		PlanName:           strings.TrimSpace(data.PlanName),
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(data.Currency)),
		Status:             status,
		RawJSON:            string(e.Data),
	}, nil
}

func genieState(state string) string {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "ACTIVE":
		return models.SubscriptionStatusActive
	case "TRIAL":
		return models.SubscriptionStatusTrialing
	case "GRACE":
		return models.SubscriptionStatusPastDue
	case "CANCELLED":
		return models.SubscriptionStatusCancelled
	case "EXPIRED":
		return models.SubscriptionStatusExpired
	case "REFUNDED":
		return models.SubscriptionStatusRefunded
	default:
		return models.SubscriptionStatusPending
	}
}
