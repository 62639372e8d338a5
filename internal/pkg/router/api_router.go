package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/Tenantly/internal/pkg/middleware"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginloader"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

const (
	apiRateLimit       = 120
	apiRateLimitWindow = time.Minute
)

// ApiRouter serves the tenant-scoped JSON API and the plugin namespace.
type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api",
		cors.New(),
		h.deps.tenantMiddleware(false),
		limiter.New(limiter.Config{
			Max:        apiRateLimit,
			Expiration: apiRateLimitWindow,
			Storage:    h.deps.LimiterStorage,
			KeyGenerator: func(c *fiber.Ctx) string {
				return strconv.FormatUint(uint64(tenantctx.TenantID(c)), 10) + ":" + c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":   "rate_limited",
					"message": "Too many requests",
				})
			},
		}),
		middleware.PlanTimeout(h.deps.Config.PlanTimeout),
	)

	h.registerPublicRoutes(api)
	h.registerAdminRoutes(api)

	api.All("/plugin/:pluginId/*", pluginloader.ProxyHandler(h.deps.PluginRoutes, h.deps.Repos.PluginLog))
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
