package models

import "time"

const (
	CartStatusOpen       = "open"
	CartStatusCheckedOut = "checked_out"
)

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

// Cart belongs to a storefront session in the tenant schema.
type Cart struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	SessionID string     `gorm:"type:varchar(64);index;not null" json:"-"`
	Status    string     `gorm:"type:varchar(32);not null;default:open" json:"status"`
	Items     []CartItem `gorm:"foreignKey:CartID" json:"items"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TotalCents sums the line items.
func (c *Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}

type CartItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CartID         uint      `gorm:"index;not null" json:"cart_id"`
	ProductID      uint      `gorm:"not null" json:"product_id"`
	Quantity       int       `gorm:"not null" json:"quantity"`
	UnitPriceCents int64     `gorm:"not null" json:"unit_price_cents"`
	Product        *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Order struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CartID     uint      `gorm:"uniqueIndex;not null" json:"cart_id"`
	Email      string    `gorm:"type:varchar(255);not null" json:"email"`
	TotalCents int64     `gorm:"not null" json:"total_cents"`
	Currency   string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status     string    `gorm:"type:varchar(32);not null;default:pending" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
