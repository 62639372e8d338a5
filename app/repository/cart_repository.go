package repository

import (
	"errors"

	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cartRepository implements the CartRepository interface
type cartRepository struct {
	db *gorm.DB
}

// NewCartRepository creates a new cart repository bound to a tenant handle
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

// GetOrCreateOpen returns the open cart of a session, creating one if needed
func (r *cartRepository) GetOrCreateOpen(sessionID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.Preload("Items.Product").
		Where("session_id = ? AND status = ?", sessionID, models.CartStatusOpen).
		First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cart = models.Cart{SessionID: sessionID, Status: models.CartStatusOpen}
	if err := r.db.Create(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// Get loads a cart with its items and products
func (r *cartRepository) Get(cartID uint) (*models.Cart, error) {
	var cart models.Cart
	if err := r.db.Preload("Items.Product").First(&cart, cartID).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItem adds quantity of a product to the cart, merging with an existing line
func (r *cartRepository) AddItem(cartID, productID uint, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}

	var item models.CartItem
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.First(&cart, cartID).Error; err != nil {
			return err
		}
		if cart.Status != models.CartStatusOpen {
			return ErrCartClosed
		}

		var product models.Product
		if err := tx.Where("is_active = ?", true).First(&product, productID).Error; err != nil {
			return err
		}

		err := tx.Where("cart_id = ? AND product_id = ?", cartID, productID).First(&item).Error
		switch {
		case err == nil:
			item.Quantity += quantity
			item.UnitPriceCents = product.PriceCents
			return tx.Save(&item).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = models.CartItem{
				CartID:         cartID,
				ProductID:      productID,
				Quantity:       quantity,
				UnitPriceCents: product.PriceCents,
			}
			return tx.Create(&item).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveItem deletes one line from the cart
func (r *cartRepository) RemoveItem(cartID, itemID uint) error {
	res := r.db.Where("cart_id = ? AND id = ?", cartID, itemID).Delete(&models.CartItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Checkout turns an open cart into a pending order and reserves stock
func (r *cartRepository) Checkout(cartID uint, email string) (*models.Order, error) {
	var order models.Order
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Preload("Items").First(&cart, cartID).Error; err != nil {
			return err
		}
		if cart.Status != models.CartStatusOpen {
			return ErrCartClosed
		}
		if len(cart.Items) == 0 {
			return ErrEmptyCart
		}

		currency := ""
		for _, item := range cart.Items {
			var product models.Product
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, item.ProductID).Error; err != nil {
				return err
			}
			if product.Stock < item.Quantity {
				return ErrInsufficientStock
			}
			if err := tx.Model(&product).Update("stock", product.Stock-item.Quantity).Error; err != nil {
				return err
			}
			if currency == "" {
				currency = product.Currency
			}
		}

		order = models.Order{
			CartID:     cart.ID,
			Email:      email,
			TotalCents: cart.TotalCents(),
			Currency:   currency,
			Status:     models.OrderStatusPending,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return tx.Model(&cart).Update("status", models.CartStatusCheckedOut).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}
