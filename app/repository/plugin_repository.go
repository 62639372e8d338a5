package repository

import (
	"time"

	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pluginRepository implements the PluginRepository interface
type pluginRepository struct {
	db *gorm.DB
}

// NewPluginRepository creates a new plugin repository instance
func NewPluginRepository(db *gorm.DB) PluginRepository {
	return &pluginRepository{db: db}
}

// Upsert inserts or refreshes discovered plugin metadata. Approval is owned
// by platform administrators and never touched here.
func (r *pluginRepository) Upsert(plugin *models.AvailablePlugin) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "version", "description",
			"min_core_version", "max_core_version",
			"dependencies", "source_path", "updated_at",
		}),
	}).Create(plugin).Error
}

// GetByID retrieves a plugin by its ID
func (r *pluginRepository) GetByID(id string) (*models.AvailablePlugin, error) {
	var plugin models.AvailablePlugin
	if err := r.db.Where("id = ?", id).First(&plugin).Error; err != nil {
		return nil, err
	}
	return &plugin, nil
}

// List retrieves all registered plugins
func (r *pluginRepository) List() ([]models.AvailablePlugin, error) {
	var plugins []models.AvailablePlugin
	err := r.db.Order("id ASC").Find(&plugins).Error
	return plugins, err
}

// SetApproved approves or revokes a plugin
func (r *pluginRepository) SetApproved(id string, approved bool) error {
	res := r.db.Model(&models.AvailablePlugin{}).Where("id = ?", id).Update("is_approved", approved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeactivateForPlugin switches off every active binding of a plugin
func (r *pluginRepository) DeactivateForPlugin(pluginID string) (int64, error) {
	res := r.db.Model(&models.TenantPlugin{}).
		Where("plugin_id = ? AND is_active = ?", pluginID, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"status":    models.TenantPluginDeactivated,
		})
	return res.RowsAffected, res.Error
}

// ListActiveBindings returns all active tenant bindings with their plugin
func (r *pluginRepository) ListActiveBindings() ([]models.TenantPlugin, error) {
	var bindings []models.TenantPlugin
	err := r.db.Preload("Plugin").
		Where("is_active = ?", true).
		Order("tenant_id ASC, plugin_id ASC").
		Find(&bindings).Error
	return bindings, err
}

// ListBindingsByTenant returns every binding of one tenant
func (r *pluginRepository) ListBindingsByTenant(tenantID uint) ([]models.TenantPlugin, error) {
	var bindings []models.TenantPlugin
	err := r.db.Preload("Plugin").
		Where("tenant_id = ?", tenantID).
		Order("plugin_id ASC").
		Find(&bindings).Error
	return bindings, err
}

// InstallForTenant activates a plugin for a tenant, reusing an existing row
func (r *pluginRepository) InstallForTenant(tenantID uint, pluginID string) (*models.TenantPlugin, error) {
	now := time.Now()
	binding := &models.TenantPlugin{
		TenantID:    tenantID,
		PluginID:    pluginID,
		IsActive:    true,
		Status:      models.TenantPluginInstalled,
		InstalledAt: &now,
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "plugin_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "status", "installed_at", "updated_at"}),
	}).Create(binding).Error
	if err != nil {
		return nil, err
	}

	var stored models.TenantPlugin
	if err := r.db.Preload("Plugin").
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
