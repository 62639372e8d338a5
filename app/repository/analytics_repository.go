package repository

import (
	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
)

type analyticsEventRepository struct {
	db *gorm.DB
}

// NewAnalyticsEventRepository creates a repository for tenant analytics events
func NewAnalyticsEventRepository(db *gorm.DB) AnalyticsEventRepository {
	return &analyticsEventRepository{db: db}
}

func (r *analyticsEventRepository) Create(event *models.AnalyticsEvent) error {
	return r.db.Create(event).Error
}

func (r *analyticsEventRepository) CountByName(name string) (int64, error) {
	var count int64
	err := r.db.Model(&models.AnalyticsEvent{}).Where("name = ?", name).Count(&count).Error
	return count, err
}

type analyticsLogRepository struct {
	db *gorm.DB
}

// NewAnalyticsLogRepository creates a repository for platform analytics outcomes
func NewAnalyticsLogRepository(db *gorm.DB) AnalyticsLogRepository {
	return &analyticsLogRepository{db: db}
}

func (r *analyticsLogRepository) Create(entry *models.AnalyticsLog) error {
	return r.db.Create(entry).Error
}
