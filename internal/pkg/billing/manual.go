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

// ManualEvent is the SubscriptionSource for admin-administered plans.
// Manual events address local users directly; there is no external
// customer mapping and no money involved.
type ManualEvent struct {
	Type string
	Data json.RawMessage
}

// ParseManualEvent wraps an envelope into the manual union member.
func ParseManualEvent(env Envelope) (*ManualEvent, error) {
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.New("manual event is missing a type")
	}
	return &ManualEvent{Type: env.Type, Data: env.Data}, nil
}

func (e *ManualEvent) Provider() string {
	return models.SubscriptionProviderManual
}

func (e *ManualEvent) Kind() EventKind {
	switch e.Type {
	case "manual.plan_assigned":
		return KindSubscriptionActivated
	case "manual.plan_revoked":
		return KindSubscriptionRevoked
	default:
		return KindUnknown
	}
}

type manualPayload struct {
	UserID   uint       `json:"user_id"`
	Plan     string     `json:"plan"`
	Period   string     `json:"period"`
	Reason   string     `json:"reason"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (e *ManualEvent) Subscription() (*NormalizedSubscription, error) {
	var data manualPayload
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("manual payload: %w", err)
	}
	if data.UserID == 0 {
		return nil, errors.New("manual payload missing user_id")
	}

	return &NormalizedSubscription{
		Provider: e.Provider(),
		// Stable synthetic id so renewals of the same manual grant are
		// recognized as the same subscription.
		ProviderSubscriptionID: fmt.Sprintf("manual-%d", data.UserID),
		PlanName:               strings.TrimSpace(data.Plan),
		BillingPeriod:          normalizeBillingPeriod(strings.ToLower(strings.TrimSpace(data.Period))),
		Amount:                 decimal.Zero,
		Currency:               "USD",
		Status:                 models.SubscriptionStatusActive,
		StartsAt:               data.StartsAt,
		EndsAt:                 data.EndsAt,
		AutoRenew:              false,
		UpgradeReason:          strings.TrimSpace(data.Reason),
		UserID:                 data.UserID,
		RawJSON:                string(e.Data),
	}, nil
}

func (e *ManualEvent) Order() (*NormalizedOrder, error) {
	return nil, errors.New("manual events carry no order provenance")
}

// ParseEvent resolves a provider tag and envelope into the matching union
// member. The provider set is closed; anything else is a caller bug.
func ParseEvent(provider string, env Envelope) (SubscriptionSource, error) {
	switch provider {
	case models.SubscriptionProviderPolar:
		return ParsePolarEvent(env)
	case models.SubscriptionProviderGenie:
		return ParseGenieEvent(env)
	case models.SubscriptionProviderManual:
		return ParseManualEvent(env)
	default:
		return nil, fmt.Errorf("unknown billing provider %q", provider)
	}
}
