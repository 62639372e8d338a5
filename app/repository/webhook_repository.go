package repository

import (
	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
)

// webhookRepository implements the WebhookRepository interface
type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new webhook repository instance
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) CreateEndpoint(endpoint *models.WebhookEndpoint) error {
	return r.db.Create(endpoint).Error
}

func (r *webhookRepository) GetEndpoint(id uint) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint
	if err := r.db.First(&endpoint, id).Error; err != nil {
		return nil, err
	}
	return &endpoint, nil
}

func (r *webhookRepository) ListEndpoints(tenantID uint) ([]models.WebhookEndpoint, error) {
	var endpoints []models.WebhookEndpoint
	err := r.db.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&endpoints).Error
	return endpoints, err
}

// ListActiveEndpointsForEvent returns the receivers subscribed to event
func (r *webhookRepository) ListActiveEndpointsForEvent(tenantID uint, event string) ([]models.WebhookEndpoint, error) {
	var endpoints []models.WebhookEndpoint
	err := r.db.Where("tenant_id = ? AND event = ? AND is_active = ?", tenantID, event, true).
		Order("id ASC").
		Find(&endpoints).Error
	return endpoints, err
}

// DeleteEndpoint removes an endpoint owned by tenantID
func (r *webhookRepository) DeleteEndpoint(tenantID, id uint) error {
	res := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&models.WebhookEndpoint{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *webhookRepository) CreateLog(entry *models.WebhookLog) error {
	return r.db.Create(entry).Error
}

// ListLogs returns delivery attempts for an endpoint in attempt order
func (r *webhookRepository) ListLogs(endpointID uint) ([]models.WebhookLog, error) {
	var logs []models.WebhookLog
	err := r.db.Where("endpoint_id = ?", endpointID).Order("id ASC").Find(&logs).Error
	return logs, err
}
