package repository

import (
	"errors"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
)

// ErrStaleSubscription is returned when a version-checked update matched no
// row: a concurrent webhook mutated the record first. Callers re-read and
// re-apply.
var ErrStaleSubscription = errors.New("subscription was modified concurrently")

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription record
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	return r.db.Create(sub).Error
}

// GetByID retrieves a subscription by its ID
func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.First(&sub, id).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByProviderSubscriptionID retrieves the subscription mirroring a
// provider-side subscription.
func (r *subscriptionRepository) GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// LatestEntitling returns the newest subscription that still grants
// entitlements: active/trialing, or cancelled-at-period-end with the end
// date ahead, or past_due inside its grace period.
func (r *subscriptionRepository) LatestEntitling(userID uint, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).
		Where(
			r.db.Where("status IN ? AND (subscription_end IS NULL OR subscription_end > ?)",
				[]string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}, now).
				Or("status = ? AND subscription_end > ?", models.SubscriptionStatusCancelled, now).
				Or("status = ? AND grace_period_ends_at > ?", models.SubscriptionStatusPastDue, now),
		).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CurrentActive returns the one active/trialing subscription for the user.
// Read immediately before every mutation to scope the write.
func (r *subscriptionRepository) CurrentActive(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ? AND status IN ?", userID,
		[]string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByUser returns the full subscription history for a user, newest first.
func (r *subscriptionRepository) ListByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

// UpdateWithVersion persists the record via a conditional update keyed by
// the last-known version. RowsAffected == 0 means a concurrent writer won.
func (r *subscriptionRepository) UpdateWithVersion(sub *models.Subscription) error {
	currentVersion := sub.Version
	sub.Version = currentVersion + 1
	tx := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, currentVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if tx.Error != nil {
		sub.Version = currentVersion
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		sub.Version = currentVersion
		return ErrStaleSubscription
	}
	return nil
}

// ExpireEnded flips ended active/trialing/cancelled rows to expired and
// returns how many rows changed. Called by the daily sweep, so expiry does
// not depend on the provider delivering a webhook.
func (r *subscriptionRepository) ExpireEnded(now time.Time) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).
		Where("status IN ? AND subscription_end IS NOT NULL AND subscription_end <= ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusCancelled}, now).
		Updates(map[string]interface{}{
			"status":  models.SubscriptionStatusExpired,
			"version": gorm.Expr("version + 1"),
		})
	return tx.RowsAffected, tx.Error
}

// ListUsersWithEndedEntitlements returns users whose newest subscription no
// longer entitles them, for the aggregate status re-evaluation sweep.
func (r *subscriptionRepository) ListUsersWithEndedEntitlements(now time.Time) ([]uint, error) {
	var userIDs []uint
	err := r.db.Model(&models.Subscription{}).
		Distinct("user_id").
		Where("status IN ? AND subscription_end IS NOT NULL AND subscription_end <= ?",
			[]string{models.SubscriptionStatusExpired, models.SubscriptionStatusCancelled}, now).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}
