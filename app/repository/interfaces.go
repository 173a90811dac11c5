package repository

import (
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
	UpdatePlanStatus(userID uint, status string, planStatus string) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// FormRepository defines the interface for form-related database operations.
// Lock/unlock mutations are set-based (by id list) so bulk plan-change
// updates stay re-runnable and narrow the lost-update window.
type FormRepository interface {
	Create(form *models.Form) error
	GetByID(id uint) (*models.Form, error)
	GetByUUID(uuid string) (*models.Form, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Form, error)
	ActiveByUser(userID uint) ([]models.Form, error)
	LockedByUser(userID uint) ([]models.Form, error)
	CountActiveByUser(userID uint) (int64, error)
	LockByIDs(ids []uint, reason string, at time.Time) (int64, error)
	UnlockByIDs(ids []uint) (int64, error)
	SubmissionCounts(formIDs []uint) (map[uint]int64, error)
	Update(form *models.Form) error
	Delete(id uint) error
}

// SubmissionRepository defines the interface for submission persistence.
type SubmissionRepository interface {
	Create(submission *models.Submission) error
	GetByID(id uint) (*models.Submission, error)
	ListByForm(formID uint, offset, limit int) ([]models.Submission, error)
	CountByFormsSince(formIDs []uint, since time.Time) (int64, error)
}

// SubscriptionRepository defines the interface for the canonical
// subscription records. Mutations go through UpdateWithVersion, a
// conditional update keyed by the optimistic concurrency token.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByProviderSubscriptionID(provider, providerSubscriptionID string) (*models.Subscription, error)
	LatestEntitling(userID uint, now time.Time) (*models.Subscription, error)
	CurrentActive(userID uint) (*models.Subscription, error)
	ListByUser(userID uint) ([]models.Subscription, error)
	UpdateWithVersion(sub *models.Subscription) error
	ExpireEnded(now time.Time) (int64, error)
	ListUsersWithEndedEntitlements(now time.Time) ([]uint, error)
}

// MeterEventRepository defines the interface for the append-only usage audit.
type MeterEventRepository interface {
	Create(event *models.MeterEvent) error
	MarkSent(id uint) error
	MarkFailed(id uint, message string) error
	ListFailedSince(since time.Time) ([]models.MeterEvent, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Form         FormRepository
	Submission   SubmissionRepository
	Subscription SubscriptionRepository
	MeterEvent   MeterEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Form:         NewFormRepository(db),
		Submission:   NewSubmissionRepository(db),
		Subscription: NewSubscriptionRepository(db),
		MeterEvent:   NewMeterEventRepository(db),
	}
}
