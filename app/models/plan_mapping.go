package models

import "time"

// PlanMapping maps provider-specific plan/price references to internal plan
// names. Normalizers consult this table first and fall back to the plan name
// carried in the payload.
type PlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_plan_mappings_ref,unique,priority:1" json:"provider"`
	ProviderPlanRef string    `gorm:"type:varchar(191);not null;index:ux_plan_mappings_ref,unique,priority:2" json:"provider_plan_ref"`
	InternalPlan    string    `gorm:"type:varchar(50);not null" json:"internal_plan"`
	BillingPeriod   string    `gorm:"type:varchar(16);not null;default:'unknown';index:ux_plan_mappings_ref,unique,priority:3" json:"billing_period"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
