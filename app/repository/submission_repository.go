package repository

import (
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
)

// submissionRepository implements the SubmissionRepository interface
type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository creates a new submission repository instance
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

// Create creates a new submission in the database
func (r *submissionRepository) Create(submission *models.Submission) error {
	return r.db.Create(submission).Error
}

// GetByID retrieves a submission by its ID
func (r *submissionRepository) GetByID(id uint) (*models.Submission, error) {
	var submission models.Submission
	err := r.db.First(&submission, id).Error
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListByForm retrieves submissions for a form with pagination
func (r *submissionRepository) ListByForm(formID uint, offset, limit int) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.Where("form_id = ?", formID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&submissions).Error
	return submissions, err
}

// CountByFormsSince counts submissions across the given forms created at or
// after the cutoff. Used by the local usage fallback (calendar-month bucket).
func (r *submissionRepository) CountByFormsSince(formIDs []uint, since time.Time) (int64, error) {
	if len(formIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.Model(&models.Submission{}).
		Where("form_id IN ? AND created_at >= ?", formIDs, since).
		Count(&count).Error
	return count, err
}
