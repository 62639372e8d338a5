package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/controllers"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/config"
	"github.com/ManuelReschke/Tenantly/internal/pkg/middleware"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginloader"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// TenantDirectory resolves tenants for the middleware and forgets them on
// status changes.
type TenantDirectory interface {
	middleware.TenantResolver
	controllers.TenantCache
}

// Connections is the tenant connection router as seen by HTTP handlers.
type Connections interface {
	middleware.ConnectionSource
	controllers.ConnectionEvictor
}

// Deps carries everything the routers build controllers from.
type Deps struct {
	Config      *config.Config
	Repos       *repository.Repositories
	Directory   TenantDirectory
	Connections Connections
	Provisioner controllers.TenantProvisioner

	Hooks        controllers.HookCaller
	Plugins      controllers.PluginAdmin
	PluginRoutes *pluginloader.RouteTable

	Tracker   controllers.EventTracker
	Publisher controllers.EventPublisher
	Sessions  controllers.CartSessions

	// LimiterStorage backs the API rate limiter. Nil keeps counters in memory.
	LimiterStorage fiber.Storage
	Checks         map[string]controllers.Pinger
}

func InstallRouter(app *fiber.App, deps Deps) {
	// The platform API goes first: its routes run without tenant resolution.
	// Plugin routes are registered last inside the API router so the fixed
	// storefront paths win.
	setup(app, NewPlatformRouter(deps), NewApiRouter(deps), NewHttpRouter(deps))

	// lets PlanTimeout answer 504 while a slow handler is still running
	app.Server().Handler = middleware.DetachOnDeadline(app.Server().Handler)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

func (d Deps) tenantMiddleware(optional bool) fiber.Handler {
	return middleware.TenantMiddleware(middleware.TenantConfig{
		Resolver:    d.Directory,
		Connections: d.Connections,
		BaseDomain:  d.Config.BaseDomain,
		Optional:    optional,
	})
}

func (d Deps) adminAuth() fiber.Handler {
	return middleware.AdminAuth(d.Config.AdminUser, d.Config.AdminPasswordHash, d.Config.AdminAPIKeyHash)
}
