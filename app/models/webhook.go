package models

import "time"

// WebhookEndpoint is a tenant-configured receiver for platform events.
type WebhookEndpoint struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index;not null" json:"tenant_id"`
	Event     string    `gorm:"type:varchar(128);index;not null" json:"event" validate:"required,max=128"`
	URL       string    `gorm:"type:varchar(1024);not null" json:"url" validate:"required,url"`
	Secret    string    `gorm:"type:varchar(255)" json:"-"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WebhookLog records one delivery attempt.
type WebhookLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EndpointID uint      `gorm:"index" json:"endpoint_id"`
	TenantID   uint      `gorm:"index" json:"tenant_id"`
	Event      string    `gorm:"type:varchar(128)" json:"event"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
