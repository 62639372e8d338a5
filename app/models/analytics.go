package models

import "time"

// AnalyticsEvent lives in the tenant schema.
type AnalyticsEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(128);index;not null" json:"name"`
	SessionID  string    `gorm:"type:varchar(64)" json:"session_id,omitempty"`
	Properties string    `gorm:"type:text" json:"properties"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AnalyticsLog is the platform-side outcome of persisting one analytics event.
type AnalyticsLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index" json:"tenant_id"`
	EventName string    `gorm:"type:varchar(128)" json:"event_name"`
	Attempts  int       `json:"attempts"`
	Success   bool      `json:"success"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
