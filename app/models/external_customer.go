package models

import "time"

// ExternalCustomer links a provider-side customer identity to a local user.
// Providers create customers asynchronously, so subscription events can race
// the creation of this row; lookups retry before giving up.
type ExternalCustomer struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index:ux_external_customers_user_provider,unique,priority:1" json:"user_id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_external_customers_user_provider,unique,priority:2;index:ux_external_customers_provider_customer,unique,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:ux_external_customers_provider_customer,unique,priority:2" json:"provider_customer_id"`
	Email              string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
