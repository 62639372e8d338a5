package tenantctx

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

// Locals keys shared by middlewares and controllers
const (
	KeyTenantContext = "TENANT_CONTEXT"
	KeyCartSession   = "cart_session_id"
)

// TenantContext is the resolved tenant of a request plus its database handle
type TenantContext struct {
	Tenant *models.Tenant
	Handle *tenantdb.Handle
}

// Set stores the tenant context on the request
func Set(c *fiber.Ctx, tc TenantContext) {
	c.Locals(KeyTenantContext, tc)
}

// Get returns the tenant context, if the request resolved a tenant
func Get(c *fiber.Ctx) (TenantContext, bool) {
	tc, ok := c.Locals(KeyTenantContext).(TenantContext)
	if !ok || tc.Tenant == nil {
		return TenantContext{}, false
	}
	return tc, true
}

// TenantID returns the current tenant id, or 0 on public routes
func TenantID(c *fiber.Ctx) uint {
	if tc, ok := Get(c); ok {
		return tc.Tenant.ID
	}
	return 0
}

// Plan returns the current tenant plan, defaulting to free
func Plan(c *fiber.Ctx) string {
	if tc, ok := Get(c); ok {
		return models.NormalizePlan(tc.Tenant.Plan)
	}
	return models.PlanFree
}

// DB returns the tenant-scoped database handle
func DB(c *fiber.Ctx) *gorm.DB {
	if tc, ok := Get(c); ok && tc.Handle != nil {
		return tc.Handle.DB
	}
	return nil
}

// Repos binds the tenant repositories to the request's handle
func Repos(c *fiber.Ctx) *repository.TenantRepositories {
	db := DB(c)
	if db == nil {
		return nil
	}
	return repository.ForTenant(db.WithContext(c.UserContext()))
}
