package repository

import (
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"gorm.io/gorm"
)

// formRepository implements the FormRepository interface
type formRepository struct {
	db *gorm.DB
}

// NewFormRepository creates a new form repository instance
func NewFormRepository(db *gorm.DB) FormRepository {
	return &formRepository{db: db}
}

// Create creates a new form in the database
func (r *formRepository) Create(form *models.Form) error {
	return r.db.Create(form).Error
}

// GetByID retrieves a form by its ID
func (r *formRepository) GetByID(id uint) (*models.Form, error) {
	var form models.Form
	err := r.db.First(&form, id).Error
	if err != nil {
		return nil, err
	}
	return &form, nil
}

// GetByUUID retrieves a form by its public UUID
func (r *formRepository) GetByUUID(uuid string) (*models.Form, error) {
	var form models.Form
	err := r.db.Where("uuid = ?", uuid).First(&form).Error
	if err != nil {
		return nil, err
	}
	return &form, nil
}

// GetByUserID retrieves forms for a user with pagination
func (r *formRepository) GetByUserID(userID uint, offset, limit int) ([]models.Form, error) {
	var forms []models.Form
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&forms).Error
	return forms, err
}

// ActiveByUser returns the user's active, unlocked forms ordered
// most-recent-first. This ordering is the recency tie-break the plan-change
// engine relies on.
func (r *formRepository) ActiveByUser(userID uint) ([]models.Form, error) {
	var forms []models.Form
	err := r.db.Where("user_id = ? AND is_active = ? AND locked_at IS NULL", userID, true).
		Order("created_at DESC").
		Find(&forms).Error
	return forms, err
}

// LockedByUser returns the user's quota-locked forms ordered most-recent-first.
func (r *formRepository) LockedByUser(userID uint) ([]models.Form, error) {
	var forms []models.Form
	err := r.db.Where("user_id = ? AND locked_at IS NOT NULL", userID).
		Order("created_at DESC").
		Find(&forms).Error
	return forms, err
}

// CountActiveByUser counts the user's active, unlocked forms.
func (r *formRepository) CountActiveByUser(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Form{}).
		Where("user_id = ? AND is_active = ? AND locked_at IS NULL", userID, true).
		Count(&count).Error
	return count, err
}

// LockByIDs sets lock fields on all given forms in one statement. Forms
// already locked keep their original lock timestamp, which makes repeated
// application a no-op.
func (r *formRepository) LockByIDs(ids []uint, reason string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.Model(&models.Form{}).
		Where("id IN ? AND locked_at IS NULL", ids).
		Updates(map[string]interface{}{
			"locked_at":   at,
			"lock_reason": reason,
		})
	return tx.RowsAffected, tx.Error
}

// UnlockByIDs clears lock fields on all given forms in one statement.
func (r *formRepository) UnlockByIDs(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.Model(&models.Form{}).
		Where("id IN ? AND locked_at IS NOT NULL", ids).
		Updates(map[string]interface{}{
			"locked_at":   nil,
			"lock_reason": "",
		})
	return tx.RowsAffected, tx.Error
}

// SubmissionCounts returns submission totals per form id.
func (r *formRepository) SubmissionCounts(formIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(formIDs))
	if len(formIDs) == 0 {
		return counts, nil
	}

	type row struct {
		FormID uint
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.Submission{}).
		Select("form_id, COUNT(*) as total").
		Where("form_id IN ?", formIDs).
		Group("form_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, rr := range rows {
		counts[rr.FormID] = rr.Total
	}
	return counts, nil
}

// Update updates an existing form
func (r *formRepository) Update(form *models.Form) error {
	return r.db.Save(form).Error
}

// Delete soft-deletes a form
func (r *formRepository) Delete(id uint) error {
	return r.db.Delete(&models.Form{}, id).Error
}
