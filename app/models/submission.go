package models

import "time"

// Submission is one response collected by a form. The created_at column is
// the month bucket used by the local usage fallback counts.
type Submission struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FormID      uint      `gorm:"not null;index:idx_submissions_form_created,priority:1" json:"form_id"`
	PayloadJSON string    `gorm:"type:longtext;not null" json:"payload_json"`
	SubmitterIP string    `gorm:"type:varchar(45);default:''" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_submissions_form_created,priority:2" json:"created_at"`
}
