package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionIsEntitling(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name     string
		sub      Subscription
		expected bool
	}{
		{"active open-ended", Subscription{Status: SubscriptionStatusActive}, true},
		{"active with future end", Subscription{Status: SubscriptionStatusActive, SubscriptionEnd: &future}, true},
		{"active past end", Subscription{Status: SubscriptionStatusActive, SubscriptionEnd: &past}, false},
		{"trialing", Subscription{Status: SubscriptionStatusTrialing}, true},
		{"cancelled until period end", Subscription{Status: SubscriptionStatusCancelled, SubscriptionEnd: &future}, true},
		{"cancelled after period end", Subscription{Status: SubscriptionStatusCancelled, SubscriptionEnd: &past}, false},
		{"cancelled without end", Subscription{Status: SubscriptionStatusCancelled}, false},
		{"past_due inside grace", Subscription{Status: SubscriptionStatusPastDue, GracePeriodEndsAt: &future}, true},
		{"past_due after grace", Subscription{Status: SubscriptionStatusPastDue, GracePeriodEndsAt: &past}, false},
		{"past_due without grace", Subscription{Status: SubscriptionStatusPastDue}, false},
		{"expired", Subscription{Status: SubscriptionStatusExpired, SubscriptionEnd: &future}, false},
		{"refunded", Subscription{Status: SubscriptionStatusRefunded}, false},
		{"pending", Subscription{Status: SubscriptionStatusPending}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.sub.IsEntitling(now))
		})
	}
}

func TestSubscriptionRenewalHistory(t *testing.T) {
	sub := &Subscription{}
	assert.Empty(t, sub.Renewals())

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, sub.AppendRenewal("pay_1", first))
	require.NoError(t, sub.AppendRenewal("pay_2", first.AddDate(0, 1, 0)))

	entries := sub.Renewals()
	require.Len(t, entries, 2)
	assert.Equal(t, "pay_1", entries[0].PaymentID)
	assert.Equal(t, "pay_2", entries[1].PaymentID)
	assert.True(t, entries[1].Timestamp.After(entries[0].Timestamp))
}

func TestSubscriptionRenewalHistoryUnparseable(t *testing.T) {
	sub := &Subscription{RenewalHistory: "{broken"}
	assert.Nil(t, sub.Renewals())

	// Appending on top of garbage starts a fresh list rather than failing.
	require.NoError(t, sub.AppendRenewal("pay_1", time.Now()))
	assert.Len(t, sub.Renewals(), 1)
}
