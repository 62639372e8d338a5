package repository

import (
	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
)

// productRepository implements the ProductRepository interface
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository bound to a tenant handle
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create validates and stores a product
func (r *productRepository) Create(product *models.Product) error {
	if product.Currency == "" {
		product.Currency = "EUR"
	}
	if err := product.Validate(); err != nil {
		return err
	}
	return createKeepingInactive(r.db, product, product.IsActive)
}

// GetByID retrieves a product by its ID
func (r *productRepository) GetByID(id uint) (*models.Product, error) {
	var product models.Product
	if err := r.db.First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetBySlug retrieves an active product by its slug
func (r *productRepository) GetBySlug(slug string) (*models.Product, error) {
	var product models.Product
	err := r.db.Where("slug = ? AND is_active = ?", slug, true).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// List retrieves a page of products ordered by name
func (r *productRepository) List(offset, limit int, activeOnly bool) ([]models.Product, error) {
	var products []models.Product
	q := r.db.Order("name ASC").Offset(offset).Limit(limit)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&products).Error
	return products, err
}

// Update saves an existing product
func (r *productRepository) Update(product *models.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	return r.db.Save(product).Error
}

// Delete soft deletes a product by its ID
func (r *productRepository) Delete(id uint) error {
	return r.db.Delete(&models.Product{}, id).Error
}

// SlugExists checks if a slug already exists
func (r *productRepository) SlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Product{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// createKeepingInactive inserts a row whose is_active column defaults to true.
// GORM skips zero values for defaulted columns, so a false flag is written after the insert.
func createKeepingInactive(db *gorm.DB, row interface{}, active bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if active {
			return nil
		}
		return tx.Model(row).Update("is_active", false).Error
	})
}
