package billing

import (
	"context"
	"errors"
	"testing"
)

func TestRetryPolicyExhaustsBudget(t *testing.T) {
	boom := errors.New("not yet")
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, Delay: 0}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 5, Delay: 0}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicyMinimumOneAttempt(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{}

	_ = policy.Do(context.Background(), func() error {
		attempts++
		return errors.New("once")
	})
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}
