package repository

import (
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
)

// meterEventRepository implements the MeterEventRepository interface
type meterEventRepository struct {
	db *gorm.DB
}

// NewMeterEventRepository creates a new meter event repository instance
func NewMeterEventRepository(db *gorm.DB) MeterEventRepository {
	return &meterEventRepository{db: db}
}

// Create appends a new meter event in pending state
func (r *meterEventRepository) Create(event *models.MeterEvent) error {
	if event.IngestionStatus == "" {
		event.IngestionStatus = models.MeterIngestionPending
	}
	return r.db.Create(event).Error
}

// MarkSent transitions an event to sent and clears any previous error.
func (r *meterEventRepository) MarkSent(id uint) error {
	return r.db.Model(&models.MeterEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ingestion_status": models.MeterIngestionSent,
			"error_message":    "",
		}).Error
}

// MarkFailed transitions an event to failed and records the error message.
func (r *meterEventRepository) MarkFailed(id uint, message string) error {
	return r.db.Model(&models.MeterEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ingestion_status": models.MeterIngestionFailed,
			"error_message":    message,
		}).Error
}

// ListFailedSince returns failed events created at or after the cutoff,
// oldest first, for the hourly retry sweep.
func (r *meterEventRepository) ListFailedSince(since time.Time) ([]models.MeterEvent, error) {
	var events []models.MeterEvent
	err := r.db.Where("ingestion_status = ? AND created_at >= ?", models.MeterIngestionFailed, since).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
