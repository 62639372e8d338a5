package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/controllers"
)

// registerAdminRoutes installs the tenant back office API. It uses the
// platform credentials.
func (h ApiRouter) registerAdminRoutes(api fiber.Router) {
	products := controllers.NewProductController(h.deps.Hooks, h.deps.Tracker)
	pages := controllers.NewPageController(h.deps.Hooks, h.deps.Tracker)
	webhooks := controllers.NewWebhookController(h.deps.Repos.Webhook)
	plugins := controllers.NewPluginController(h.deps.Repos.Plugin)

	adminGroup := api.Group("/admin", h.deps.adminAuth())

	// Product management
	adminGroup.Get("/products", products.HandleList(false))
	adminGroup.Post("/products", products.HandleCreate)
	adminGroup.Put("/products/:id", products.HandleUpdate)
	adminGroup.Delete("/products/:id", products.HandleDelete)

	// Page management
	adminGroup.Get("/pages", pages.HandleAdminList)
	adminGroup.Post("/pages", pages.HandleCreate)
	adminGroup.Put("/pages/:id", pages.HandleUpdate)
	adminGroup.Delete("/pages/:id", pages.HandleDelete)

	// Webhooks
	adminGroup.Get("/webhooks", webhooks.HandleList)
	adminGroup.Post("/webhooks", webhooks.HandleCreate)
	adminGroup.Delete("/webhooks/:id", webhooks.HandleDelete)
	adminGroup.Get("/webhooks/:id/logs", webhooks.HandleLogs)

	adminGroup.Get("/plugins", plugins.HandleList)
}
