package middleware

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/directory"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

const HeaderTenantID = "X-Tenant-ID"

// TenantResolver finds a tenant by numeric id or subdomain.
type TenantResolver interface {
	Resolve(ctx context.Context, key string) (*models.Tenant, error)
}

// ConnectionSource hands out the tenant's database handle.
type ConnectionSource interface {
	GetConnectionAsync(ctx context.Context, tenantID uint) (*tenantdb.Handle, error)
}

type TenantConfig struct {
	Resolver    TenantResolver
	Connections ConnectionSource
	BaseDomain  string
	// Optional lets requests without any tenant hint through untouched.
	Optional bool
}

// TenantMiddleware resolves the tenant of a request from the X-Tenant-ID
// header, then from the Host subdomain, and stores it with its database
// handle in the request locals.
func TenantMiddleware(cfg TenantConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Get(HeaderTenantID))
		if key == "" {
			key = SubdomainFromHost(c.Hostname(), cfg.BaseDomain)
		}
		if key == "" {
			if cfg.Optional {
				return c.Next()
			}
			return respondError(c, fiber.StatusNotFound, "tenant_not_found", "No tenant for this host")
		}

		tenant, err := cfg.Resolver.Resolve(c.UserContext(), key)
		switch {
		case errors.Is(err, directory.ErrTenantNotFound):
			return respondError(c, fiber.StatusNotFound, "tenant_not_found", fmt.Sprintf("Unknown tenant %q", key))
		case err != nil:
			log.Errorf("[Tenant] Resolving %q failed: %v", key, err)
			return respondError(c, fiber.StatusServiceUnavailable, "tenant_lookup_failed", "Tenant lookup failed")
		}

		if !tenant.IsServing() {
			return respondError(c, fiber.StatusForbidden, "tenant_inactive", fmt.Sprintf("Tenant is %s", tenant.Status))
		}

		handle, err := cfg.Connections.GetConnectionAsync(c.UserContext(), tenant.ID)
		if err != nil {
			log.Errorf("[Tenant] No connection for tenant %d: %v", tenant.ID, err)
			return respondError(c, fiber.StatusServiceUnavailable, "tenant_unavailable", "Tenant database unavailable")
		}

		tenantctx.Set(c, tenantctx.TenantContext{Tenant: tenant, Handle: handle})
		return c.Next()
	}
}

// RequireTenant rejects requests that did not resolve a tenant.
func RequireTenant(c *fiber.Ctx) error {
	if _, ok := tenantctx.Get(c); !ok {
		return respondError(c, fiber.StatusNotFound, "tenant_not_found", "No tenant for this host")
	}
	return c.Next()
}

// SubdomainFromHost returns the single label in front of baseDomain, or ""
// for the apex, www and foreign hosts.
func SubdomainFromHost(host, baseDomain string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	base := strings.ToLower(strings.Trim(baseDomain, ". "))
	if base == "" || !strings.HasSuffix(host, "."+base) {
		return ""
	}
	sub := strings.TrimSuffix(host, "."+base)
	if sub == "" || sub == "www" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

// respondError answers JSON under /api and a minimal HTML page elsewhere.
func respondError(c *fiber.Ctx, status int, code, message string) error {
	if wantsJSON(c) {
		return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).SendString(fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>%d</title></head><body><h1>%d</h1><p>%s</p></body></html>",
		status, status, html.EscapeString(message)))
}

func wantsJSON(c *fiber.Ctx) bool {
	p := c.Path()
	return strings.HasPrefix(p, "/api") || strings.HasPrefix(p, "/platform/api") ||
		strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}
