package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/ManuelReschke/Tenantly/app/controllers"
	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
)

// HttpRouter serves the HTML storefront, the marketing page and the
// operational endpoints.
type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	mainController := controllers.NewMainController(h.deps.Checks)
	pageController := controllers.NewPageController(h.deps.Hooks, h.deps.Tracker)

	app.Get("/healthz", mainController.HandleHealth)
	app.Get("/metrics", h.deps.adminAuth(), adaptor.HTTPHandler(metrics.Handler()))

	// a missing tenant is fine here: "/" falls back to the marketing page
	site := app.Group("", h.deps.tenantMiddleware(true))
	site.Get("/", mainController.HandleHome)
	site.Get("/p/:slug", pageController.HandleRender)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
