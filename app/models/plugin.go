package models

import (
	"encoding/json"
	"time"
)

// TenantPlugin status values.
const (
	TenantPluginInstalled   = "installed"
	TenantPluginDeactivated = "deactivated"
	TenantPluginRevoked     = "revoked"
)

// Plugin log levels.
const (
	PluginLogDebug = "debug"
	PluginLogInfo  = "info"
	PluginLogWarn  = "warn"
	PluginLogError = "error"
)

// AvailablePlugin is the central plugin registry row. A plugin must be approved
// by a platform administrator before any tenant binding is activated at boot.
type AvailablePlugin struct {
	ID             string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	Version        string    `gorm:"type:varchar(64)" json:"version"`
	Description    string    `gorm:"type:text" json:"description"`
	MinCoreVersion string    `gorm:"type:varchar(64)" json:"min_core_version"`
	MaxCoreVersion string    `gorm:"type:varchar(64)" json:"max_core_version"`
	Dependencies   string    `gorm:"type:text" json:"-"`
	IsApproved     bool      `gorm:"default:false" json:"is_approved"`
	SourcePath     string    `gorm:"type:varchar(512)" json:"source_path"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DependencyList decodes the stored dependency list.
func (p *AvailablePlugin) DependencyList() []string {
	if p.Dependencies == "" {
		return nil
	}
	var deps []string
	if err := json.Unmarshal([]byte(p.Dependencies), &deps); err != nil {
		return nil
	}
	return deps
}

// SetDependencyList encodes deps into the Dependencies column.
func (p *AvailablePlugin) SetDependencyList(deps []string) {
	if len(deps) == 0 {
		p.Dependencies = ""
		return
	}
	raw, _ := json.Marshal(deps)
	p.Dependencies = string(raw)
}

// TenantPlugin is the activation of a plugin for one tenant.
type TenantPlugin struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    uint       `gorm:"not null;uniqueIndex:idx_tenant_plugin" json:"tenant_id"`
	PluginID    string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_tenant_plugin;index" json:"plugin_id"`
	IsActive    bool       `gorm:"default:true;index" json:"is_active"`
	Status      string     `gorm:"type:varchar(32);not null;default:installed" json:"status"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Plugin *AvailablePlugin `gorm:"foreignKey:PluginID;references:ID" json:"plugin,omitempty"`
}

// PluginLog mirrors sandbox log output and invocation timings.
type PluginLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PluginID   string    `gorm:"type:varchar(128);index;not null" json:"plugin_id"`
	TenantID   *uint     `gorm:"index" json:"tenant_id,omitempty"`
	Level      string    `gorm:"type:varchar(16);not null" json:"level"`
	Message    string    `gorm:"type:text" json:"message"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
