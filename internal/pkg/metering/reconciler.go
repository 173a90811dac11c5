package metering

import (
	"context"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Source tags for usage results. Downstream decisions and tests must be
// able to tell which path produced a number: external counts and local
// counts may diverge under retries and are never blended.
const (
	SourceExternalAPI   = "external_api"
	SourceLocalFallback = "local_fallback"
)

// Meter is one quota dimension of a usage result.
type Meter struct {
	Current  int64 `json:"current"`
	Included int64 `json:"included"`
	Overage  int64 `json:"overage"`
}

// Usage is the reconciled usage view for one user.
type Usage struct {
	PlanName    string    `json:"plan_name"`
	Forms       Meter     `json:"forms"`
	Submissions Meter     `json:"submissions"`
	Source      string    `json:"source"`
	ResetDate   time.Time `json:"reset_date"`
}

// BalanceAPI is the external metering surface the reconciler prefers.
type BalanceAPI interface {
	CustomerMeters(ctx context.Context, providerCustomerID string) (*CustomerMeters, error)
}

// CustomerStore resolves a local user to their external meter customer.
type CustomerStore interface {
	ExternalCustomerForUser(userID uint) (*models.ExternalCustomer, error)
}

// Reconciler merges external meter balances with local fallback counts.
type Reconciler struct {
	client      BalanceAPI
	customers   CustomerStore
	calc        *entitlements.Calculator
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
}

func NewReconciler(
	client BalanceAPI,
	customers CustomerStore,
	calc *entitlements.Calculator,
	forms repository.FormRepository,
	submissions repository.SubmissionRepository,
) *Reconciler {
	return &Reconciler{
		client:      client,
		customers:   customers,
		calc:        calc,
		forms:       forms,
		submissions: submissions,
	}
}

// Usage returns the user's current usage per meter. The external metering
// API is the primary path; any failure there (network, missing mapping,
// malformed response) silently degrades to direct local counts, tagged
// local_fallback, with a warning for operators.
func (r *Reconciler) Usage(ctx context.Context, userID uint) (*Usage, error) {
	ent, err := r.calc.Limits(ctx, userID)
	if err != nil {
		return nil, err
	}

	usage, extErr := r.externalUsage(ctx, userID, ent)
	if extErr == nil {
		return usage, nil
	}
	log.Warnf("metering: external meter unavailable for user %d, using local fallback: %v", userID, extErr)

	return r.localUsage(ctx, userID, ent)
}

func (r *Reconciler) externalUsage(ctx context.Context, userID uint, ent entitlements.Entitlement) (*Usage, error) {
	customer, err := r.customers.ExternalCustomerForUser(userID)
	if err != nil {
		return nil, err
	}
	meters, err := r.client.CustomerMeters(ctx, customer.ProviderCustomerID)
	if err != nil {
		return nil, err
	}

	return &Usage{
		PlanName:    ent.PlanName,
		Forms:       toMeter(meters.Forms, int64(ent.FormLimit)),
		Submissions: toMeter(meters.Submissions, int64(ent.SubmissionLimit)),
		Source:      SourceExternalAPI,
		ResetDate:   nextMonthStart(time.Now()),
	}, nil
}

func (r *Reconciler) localUsage(ctx context.Context, userID uint, ent entitlements.Entitlement) (*Usage, error) {
	_ = ctx
	formCount, err := r.forms.CountActiveByUser(userID)
	if err != nil {
		return nil, err
	}

	active, err := r.forms.ActiveByUser(userID)
	if err != nil {
		return nil, err
	}
	formIDs := lo.Map(active, func(f models.Form, _ int) uint { return f.ID })

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	submissionCount, err := r.submissions.CountByFormsSince(formIDs, monthStart)
	if err != nil {
		return nil, err
	}

	return &Usage{
		PlanName:    ent.PlanName,
		Forms:       newMeter(formCount, int64(ent.FormLimit)),
		Submissions: newMeter(submissionCount, int64(ent.SubmissionLimit)),
		Source:      SourceLocalFallback,
		ResetDate:   nextMonthStart(now),
	}, nil
}

func toMeter(balance MeterBalance, planIncluded int64) Meter {
	included := balance.CreditedUnits
	if included == 0 {
		included = planIncluded
	}
	return newMeter(balance.ConsumedUnits, included)
}

func newMeter(current, included int64) Meter {
	overage := current - included
	if overage < 0 {
		overage = 0
	}
	return Meter{Current: current, Included: included, Overage: overage}
}

func nextMonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
}

// Store is the gorm-backed CustomerStore.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ExternalCustomerForUser(userID uint) (*models.ExternalCustomer, error) {
	var customer models.ExternalCustomer
	err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}
