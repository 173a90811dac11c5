package billing

import (
	"encoding/json"
	"testing"

	"github.com/FormLoom/FormLoom/app/models"
)

func TestPolarEventNormalization(t *testing.T) {
	env := Envelope{
		Type: "subscription.active",
		Data: json.RawMessage(`{
			"id": "sub_abc",
			"customer_id": "cus_123",
			"product_id": "prod_std_m",
			"product": {"name": "Standard"},
			"amount": 900,
			"currency": "usd",
			"recurring_interval": "month",
			"status": "active",
			"cancel_at_period_end": false,
			"metadata": {"payment_id": "pay_1"}
		}`),
	}

	source, err := ParseEvent(models.SubscriptionProviderPolar, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if source.Kind() != KindSubscriptionActivated {
		t.Fatalf("expected activated kind, got %s", source.Kind())
	}

	norm, err := source.Subscription()
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if norm.ProviderSubscriptionID != "sub_abc" || norm.ProviderCustomerID != "cus_123" {
		t.Fatalf("unexpected ids: %+v", norm)
	}
	// Polar sends cents.
	if norm.Amount.String() != "9" {
		t.Fatalf("expected amount 9, got %s", norm.Amount)
	}
	if norm.Currency != "USD" {
		t.Fatalf("expected USD, got %s", norm.Currency)
	}
	if norm.BillingPeriod != models.BillingPeriodMonthly {
		t.Fatalf("expected monthly, got %s", norm.BillingPeriod)
	}
	if norm.Status != models.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", norm.Status)
	}
	if norm.PaymentID != "pay_1" {
		t.Fatalf("expected payment id, got %q", norm.PaymentID)
	}
	if !norm.AutoRenew {
		t.Fatal("expected auto renew")
	}
}

func TestPolarUpgradeMetadata(t *testing.T) {
	env := Envelope{
		Type: "subscription.created",
		Data: json.RawMessage(`{
			"id": "sub_new",
			"customer_id": "cus_123",
			"product": {"name": "Premium"},
			"status": "active",
			"metadata": {"upgrade_from": "standard"}
		}`),
	}
	source, err := ParseEvent(models.SubscriptionProviderPolar, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	norm, err := source.Subscription()
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if !norm.ImmediateUpgrade {
		t.Fatal("expected immediate upgrade flag")
	}
	if norm.UpgradeReason == "" {
		t.Fatal("expected upgrade reason")
	}
}

func TestGenieEventNormalization(t *testing.T) {
	env := Envelope{
		Type: "subscription.activated",
		Data: json.RawMessage(`{
			"subscription_id": "gen-777",
			"customer_ref": "GC-42",
			"plan_code": "STD-M",
			"plan_name": "Standard",
			"period": "MONTHLY",
			"amount": "9.00",
			"currency": "eur",
			"state": "ACTIVE",
			"auto_renew": false,
			"payment_id": "gp_9"
		}`),
	}

	source, err := ParseEvent(models.SubscriptionProviderGenie, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if source.Kind() != KindSubscriptionActivated {
		t.Fatalf("expected activated kind, got %s", source.Kind())
	}
	norm, err := source.Subscription()
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	// Genie sends decimal strings.
	if norm.Amount.String() != "9" {
		t.Fatalf("expected amount 9, got %s", norm.Amount)
	}
	if norm.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", norm.Currency)
	}
	if norm.BillingPeriod != models.BillingPeriodMonthly {
		t.Fatalf("expected monthly, got %s", norm.BillingPeriod)
	}
	if norm.AutoRenew {
		t.Fatal("expected auto renew off")
	}
	if norm.ProviderPlanRef != "STD-M" {
		t.Fatalf("expected plan code ref, got %q", norm.ProviderPlanRef)
	}
}

func TestGenieStateMapping(t *testing.T) {
	cases := map[string]string{
		"ACTIVE":    models.SubscriptionStatusActive,
		"TRIAL":     models.SubscriptionStatusTrialing,
		"GRACE":     models.SubscriptionStatusPastDue,
		"CANCELLED": models.SubscriptionStatusCancelled,
		"EXPIRED":   models.SubscriptionStatusExpired,
		"REFUNDED":  models.SubscriptionStatusRefunded,
		"whatever":  models.SubscriptionStatusPending,
	}
	for state, expected := range cases {
		if got := genieState(state); got != expected {
			t.Fatalf("state %s: expected %s, got %s", state, expected, got)
		}
	}
}

func TestGenieMalformedAmount(t *testing.T) {
	env := Envelope{
		Type: "subscription.activated",
		Data: json.RawMessage(`{"subscription_id":"g1","customer_ref":"c1","amount":"nine euros"}`),
	}
	source, err := ParseEvent(models.SubscriptionProviderGenie, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := source.Subscription(); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}

func TestManualEventSyntheticID(t *testing.T) {
	env := Envelope{
		Type: "manual.plan_assigned",
		Data: json.RawMessage(`{"user_id": 7, "plan": "Premium", "reason": "support goodwill"}`),
	}
	source, err := ParseEvent(models.SubscriptionProviderManual, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	norm, err := source.Subscription()
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if norm.ProviderSubscriptionID != "manual-7" {
		t.Fatalf("expected synthetic id manual-7, got %q", norm.ProviderSubscriptionID)
	}
	if norm.UserID != 7 {
		t.Fatalf("expected user id 7, got %d", norm.UserID)
	}
	if _, err := source.Order(); err == nil {
		t.Fatal("expected manual events to carry no order")
	}
}

func TestParseEventUnknownProvider(t *testing.T) {
	if _, err := ParseEvent("stripe", Envelope{Type: "x"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
