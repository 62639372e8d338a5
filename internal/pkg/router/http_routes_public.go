package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/controllers"
)

func (h ApiRouter) registerPublicRoutes(api fiber.Router) {
	products := controllers.NewProductController(h.deps.Hooks, h.deps.Tracker)
	pages := controllers.NewPageController(h.deps.Hooks, h.deps.Tracker)
	cart := controllers.NewCartController(h.deps.Sessions, h.deps.Hooks, h.deps.Tracker, h.deps.Publisher)
	analytics := controllers.NewAnalyticsController(h.deps.Tracker)

	// Catalog
	api.Get("/products", products.HandleList(true))
	api.Get("/products/:slug", products.HandleGet)

	// Page editor content
	api.Get("/pages", pages.HandleList)
	api.Get("/pages/:slug", pages.HandleGet)

	// Cart and checkout
	api.Get("/cart", cart.HandleGet)
	api.Post("/cart/items", cart.HandleAddItem)
	api.Delete("/cart/items/:id", cart.HandleRemoveItem)
	api.Post("/cart/checkout", cart.HandleCheckout)

	api.Post("/analytics/events", analytics.HandleTrack)
}
