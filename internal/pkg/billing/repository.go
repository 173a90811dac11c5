package billing

import (
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the billing-specific DB operations: the webhook
// idempotency ledger, customer mappings, plan mappings and payment
// provenance. Subscription rows live in the shared repository layer.
type Repository interface {
	ClaimWebhook(event *models.ProcessedWebhook) (bool, error)
	RecordWebhookError(webhookID string, processingError string) error
	ReleaseWebhook(webhookID string) error
	PurgeProcessedWebhooksBefore(cutoff time.Time) (int64, error)

	GetExternalCustomer(provider, providerCustomerID string) (*models.ExternalCustomer, error)
	UpsertExternalCustomer(customer *models.ExternalCustomer) error

	FindActivePlanMapping(provider, providerPlanRef, billingPeriod string) (*models.PlanMapping, error)

	UpsertPayment(payment *models.Payment) error
	MarkPaymentRefunded(provider, providerOrderID string) error

	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(us *models.UserSettings) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// ClaimWebhook atomically inserts the idempotency row. The insert IS the
// gate: insert-then-process, never check-then-insert, so two concurrent
// deliveries cannot both win. Returns created=false when another delivery
// already holds the claim (row found or insert race lost, treated alike).
func (r *gormRepository) ClaimWebhook(event *models.ProcessedWebhook) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "webhook_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) RecordWebhookError(webhookID string, processingError string) error {
	return r.db.Model(&models.ProcessedWebhook{}).
		Where("webhook_id = ?", webhookID).
		Update("processing_error", processingError).Error
}

// ReleaseWebhook drops the claim so a provider redelivery is processed
// again. Only used for the customer-mapping race, where redelivery is the
// intended outer retry loop.
func (r *gormRepository) ReleaseWebhook(webhookID string) error {
	return r.db.Where("webhook_id = ?", webhookID).
		Delete(&models.ProcessedWebhook{}).Error
}

func (r *gormRepository) PurgeProcessedWebhooksBefore(cutoff time.Time) (int64, error) {
	tx := r.db.Where("processed_at < ?", cutoff).Delete(&models.ProcessedWebhook{})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) GetExternalCustomer(provider, providerCustomerID string) (*models.ExternalCustomer, error) {
	var customer models.ExternalCustomer
	err := r.db.Where("provider = ? AND provider_customer_id = ?", provider, providerCustomerID).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *gormRepository) UpsertExternalCustomer(customer *models.ExternalCustomer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"email",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND provider_customer_id = ?", customer.Provider, customer.ProviderCustomerID).
		First(customer).Error
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPlanRef, billingPeriod string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.
		Where("provider = ? AND provider_plan_ref = ? AND billing_period = ? AND is_active = ?",
			provider, providerPlanRef, billingPeriod, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) UpsertPayment(payment *models.Payment) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_order_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"plan_name",
			"amount",
			"currency",
			"status",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(payment).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND provider_order_id = ?", payment.Provider, payment.ProviderOrderID).
		First(payment).Error
}

func (r *gormRepository) MarkPaymentRefunded(provider, providerOrderID string) error {
	return r.db.Model(&models.Payment{}).
		Where("provider = ? AND provider_order_id = ?", provider, providerOrderID).
		Update("status", models.PaymentStatusRefunded).Error
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(us *models.UserSettings) error {
	return r.db.Save(us).Error
}
