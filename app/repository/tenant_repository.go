package repository

import (
	"fmt"

	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
)

// tenantRepository implements the TenantRepository interface
type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository instance
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

// Create inserts a new tenant
func (r *tenantRepository) Create(tenant *models.Tenant) error {
	if tenant.Plan == "" {
		tenant.Plan = models.PlanFree
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusTrial
	}
	if err := tenant.Validate(); err != nil {
		return err
	}
	return r.db.Create(tenant).Error
}

// GetByID retrieves a tenant by its ID
func (r *tenantRepository) GetByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.First(&tenant, id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetBySubdomain retrieves a tenant by its subdomain
func (r *tenantRepository) GetBySubdomain(subdomain string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.Where("subdomain = ?", subdomain).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// List retrieves tenants ordered by id
func (r *tenantRepository) List(offset, limit int) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&tenants).Error
	return tenants, err
}

// ListAll retrieves every tenant
func (r *tenantRepository) ListAll() ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.Order("id ASC").Find(&tenants).Error
	return tenants, err
}

// Count returns the number of tenants
func (r *tenantRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Tenant{}).Count(&count).Error
	return count, err
}

// UpdateStatus moves a tenant to another lifecycle status
func (r *tenantRepository) UpdateStatus(id uint, status string) error {
	if !models.IsValidTenantStatus(status) {
		return fmt.Errorf("invalid tenant status %q", status)
	}
	return r.updateColumn(id, "status", status)
}

// UpdatePlan changes the plan tier
func (r *tenantRepository) UpdatePlan(id uint, plan string) error {
	return r.updateColumn(id, "plan", models.NormalizePlan(plan))
}

// UpdateRegion changes the data residency region
func (r *tenantRepository) UpdateRegion(id uint, region *string) error {
	return r.updateColumn(id, "data_residency_region", region)
}

// subdomain is deliberately not updatable
func (r *tenantRepository) updateColumn(id uint, column string, value interface{}) error {
	res := r.db.Model(&models.Tenant{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
