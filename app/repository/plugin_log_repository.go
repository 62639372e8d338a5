package repository

import (
	"time"

	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
)

type pluginLogRepository struct {
	db *gorm.DB
}

// NewPluginLogRepository creates a new plugin log repository instance
func NewPluginLogRepository(db *gorm.DB) PluginLogRepository {
	return &pluginLogRepository{db: db}
}

func (r *pluginLogRepository) Create(entry *models.PluginLog) error {
	return r.db.Create(entry).Error
}

// ListByPlugin returns the newest log rows of a plugin
func (r *pluginLogRepository) ListByPlugin(pluginID string, limit int) ([]models.PluginLog, error) {
	var logs []models.PluginLog
	err := r.db.Where("plugin_id = ?", pluginID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// PruneOlderThan deletes rows created before cutoff
func (r *pluginLogRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", cutoff).Delete(&models.PluginLog{})
	return res.RowsAffected, res.Error
}
