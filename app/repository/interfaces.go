package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/Tenantly/app/models"
	"gorm.io/gorm"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCartClosed        = errors.New("cart is already checked out")
)

// ============================================================================
// Platform repositories (primary database, public schema)
// ============================================================================

// TenantRepository defines the tenant directory operations
type TenantRepository interface {
	Create(tenant *models.Tenant) error
	GetByID(id uint) (*models.Tenant, error)
	GetBySubdomain(subdomain string) (*models.Tenant, error)
	List(offset, limit int) ([]models.Tenant, error)
	ListAll() ([]models.Tenant, error)
	Count() (int64, error)
	UpdateStatus(id uint, status string) error
	UpdatePlan(id uint, plan string) error
	UpdateRegion(id uint, region *string) error
}

// PluginRepository defines registry and activation operations
type PluginRepository interface {
	Upsert(plugin *models.AvailablePlugin) error
	GetByID(id string) (*models.AvailablePlugin, error)
	List() ([]models.AvailablePlugin, error)
	SetApproved(id string, approved bool) error
	DeactivateForPlugin(pluginID string) (int64, error)
	ListActiveBindings() ([]models.TenantPlugin, error)
	ListBindingsByTenant(tenantID uint) ([]models.TenantPlugin, error)
	InstallForTenant(tenantID uint, pluginID string) (*models.TenantPlugin, error)
}

// PluginLogRepository persists sandbox log output
type PluginLogRepository interface {
	Create(entry *models.PluginLog) error
	ListByPlugin(pluginID string, limit int) ([]models.PluginLog, error)
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// WebhookRepository defines endpoint and delivery log operations
type WebhookRepository interface {
	CreateEndpoint(endpoint *models.WebhookEndpoint) error
	GetEndpoint(id uint) (*models.WebhookEndpoint, error)
	ListEndpoints(tenantID uint) ([]models.WebhookEndpoint, error)
	ListActiveEndpointsForEvent(tenantID uint, event string) ([]models.WebhookEndpoint, error)
	DeleteEndpoint(tenantID, id uint) error
	CreateLog(entry *models.WebhookLog) error
	ListLogs(endpointID uint) ([]models.WebhookLog, error)
}

// AnalyticsLogRepository records the outcome of analytics persistence
type AnalyticsLogRepository interface {
	Create(entry *models.AnalyticsLog) error
}

// ============================================================================
// Tenant repositories (tenant schema handle)
// ============================================================================

// PageRepository defines the interface for page-related operations
type PageRepository interface {
	Create(page *models.Page) error
	GetByID(id uint) (*models.Page, error)
	GetBySlug(slug string) (*models.Page, error)
	GetAll() ([]models.Page, error)
	GetActive() ([]models.Page, error)
	Update(page *models.Page) error
	Delete(id uint) error
	SlugExists(slug string) (bool, error)
	SlugExistsExceptID(slug string, id uint) (bool, error)
}

// ProductRepository defines catalog operations
type ProductRepository interface {
	Create(product *models.Product) error
	GetByID(id uint) (*models.Product, error)
	GetBySlug(slug string) (*models.Product, error)
	List(offset, limit int, activeOnly bool) ([]models.Product, error)
	Update(product *models.Product) error
	Delete(id uint) error
	SlugExists(slug string) (bool, error)
}

// CartRepository defines cart and checkout operations
type CartRepository interface {
	GetOrCreateOpen(sessionID string) (*models.Cart, error)
	Get(cartID uint) (*models.Cart, error)
	AddItem(cartID, productID uint, quantity int) (*models.CartItem, error)
	RemoveItem(cartID, itemID uint) error
	Checkout(cartID uint, email string) (*models.Order, error)
}

// AnalyticsEventRepository stores tenant analytics events
type AnalyticsEventRepository interface {
	Create(event *models.AnalyticsEvent) error
	CountByName(name string) (int64, error)
}

// Repositories struct holds all platform repository instances
type Repositories struct {
	Tenant       TenantRepository
	Plugin       PluginRepository
	PluginLog    PluginLogRepository
	Webhook      WebhookRepository
	AnalyticsLog AnalyticsLogRepository
}

// NewRepositories creates the platform repositories on the primary handle
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Tenant:       NewTenantRepository(db),
		Plugin:       NewPluginRepository(db),
		PluginLog:    NewPluginLogRepository(db),
		Webhook:      NewWebhookRepository(db),
		AnalyticsLog: NewAnalyticsLogRepository(db),
	}
}

// TenantRepositories is the set of repositories bound to one tenant handle.
// It is cheap to build and is created per request.
type TenantRepositories struct {
	Page      PageRepository
	Product   ProductRepository
	Cart      CartRepository
	Analytics AnalyticsEventRepository
}

// ForTenant binds the tenant-scoped repositories to a tenant database handle
func ForTenant(db *gorm.DB) *TenantRepositories {
	return &TenantRepositories{
		Page:      NewPageRepository(db),
		Product:   NewProductRepository(db),
		Cart:      NewCartRepository(db),
		Analytics: NewAnalyticsEventRepository(db),
	}
}
