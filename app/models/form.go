package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	FormTypeContact  = "contact"
	FormTypeSurvey   = "survey"
	FormTypeFeedback = "feedback"
	FormTypeCustom   = "custom"
)

// Form is a user-owned resource whose active count is bounded by the plan
// quota. Locking is orthogonal to activation: a form can be active but
// locked (soft-disabled because the quota shrank) or simply inactive.
type Form struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UUID        string         `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	UserID      uint           `gorm:"not null;index:idx_forms_user_active,priority:1" json:"user_id"`
	Name        string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=1,max=150"`
	Description string         `gorm:"type:text" json:"description" validate:"max=2000"`
	FormType    string         `gorm:"type:varchar(30);not null;default:'custom'" json:"form_type" validate:"oneof=contact survey feedback custom"`
	IsActive    bool           `gorm:"default:true;index:idx_forms_user_active,priority:2" json:"is_active"`
	LockedAt    *time.Time     `gorm:"type:timestamp;default:null;index" json:"locked_at,omitempty"`
	LockReason  string         `gorm:"type:varchar(191);default:''" json:"lock_reason,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (f *Form) Validate() error {
	v := validator.New()
	return v.Struct(f)
}

// IsLocked reports whether the form is currently quota-locked.
func (f *Form) IsLocked() bool {
	return f.LockedAt != nil
}
