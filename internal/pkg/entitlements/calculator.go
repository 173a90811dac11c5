package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
)

// SubscriptionStore is the slice of subscription persistence the calculator
// needs. Satisfied by repository.SubscriptionRepository.
type SubscriptionStore interface {
	LatestEntitling(userID uint, now time.Time) (*models.Subscription, error)
}

// SnapshotCache is an optional read-through cache in front of Limits.
// Implementations treat every failure as a miss and never return errors.
type SnapshotCache interface {
	Get(userID uint) (Entitlement, bool)
	Set(userID uint, ent Entitlement)
}

// Calculator derives the current entitlement tuple for a user. Safe to call
// repeatedly and concurrently; the only side effect is refilling the cache.
type Calculator struct {
	subs  SubscriptionStore
	cache SnapshotCache
}

func NewCalculator(subs SubscriptionStore) *Calculator {
	return &Calculator{subs: subs}
}

// NewCachedCalculator puts a snapshot cache in front of the read path. The
// billing service invalidates entries on every subscription transition; the
// cache's own TTL bounds staleness if an invalidation is lost.
func NewCachedCalculator(subs SubscriptionStore, cache SnapshotCache) *Calculator {
	return &Calculator{subs: subs, cache: cache}
}

// Limits returns the entitlement snapshot cached on the newest entitling
// subscription, or the zero entitlement when the user has no plan. The
// no-plan tuple is cached too: unpaid accounts are the ones hit hardest by
// anonymous submission traffic.
func (c *Calculator) Limits(ctx context.Context, userID uint) (Entitlement, error) {
	_ = ctx
	if c.cache != nil {
		if ent, ok := c.cache.Get(userID); ok {
			return ent, nil
		}
	}

	ent, err := c.limitsFromStore(userID)
	if err != nil {
		return Entitlement{}, err
	}
	if c.cache != nil {
		c.cache.Set(userID, ent)
	}
	return ent, nil
}

func (c *Calculator) limitsFromStore(userID uint) (Entitlement, error) {
	sub, err := c.subs.LatestEntitling(userID, time.Now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entitlement{}, nil
		}
		return Entitlement{}, err
	}
	if sub == nil {
		return Entitlement{}, nil
	}
	return Entitlement{
		PlanName:           sub.PlanName,
		FormLimit:          sub.FormLimit,
		SubmissionLimit:    sub.SubmissionLimit,
		ImageUpload:        sub.ImageUpload,
		EmployeeManagement: sub.EmployeeManagement,
	}, nil
}
