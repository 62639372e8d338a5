package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/analytics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/hooks"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// ProductController serves the tenant catalog.
type ProductController struct {
	hooks   HookCaller
	tracker EventTracker
}

func NewProductController(hooks HookCaller, tracker EventTracker) *ProductController {
	return &ProductController{hooks: hooks, tracker: tracker}
}

type productInput struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"price_cents"`
	Currency    *string `json:"currency"`
	Stock       *int    `json:"stock"`
	IsActive    *bool   `json:"is_active"`
}

func (in productInput) apply(p *models.Product) {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Slug != nil {
		p.Slug = *in.Slug
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.PriceCents != nil {
		p.PriceCents = *in.PriceCents
	}
	if in.Currency != nil {
		p.Currency = *in.Currency
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
}

// HandleList returns active products, or all of them on the admin API.
func (pc *ProductController) HandleList(activeOnly bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		repos := tenantctx.Repos(c)
		if repos == nil {
			return noTenant(c)
		}
		offset, limit := pagination(c)
		products, err := repos.Product.List(offset, limit, activeOnly)
		if err != nil {
			return repoError(c, err, "products")
		}
		return c.JSON(fiber.Map{"products": products, "offset": offset, "limit": limit})
	}
}

// HandleGet returns one active product and records the view.
func (pc *ProductController) HandleGet(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	product, err := repos.Product.GetBySlug(c.Params("slug"))
	if err != nil {
		return repoError(c, err, "product")
	}

	tenantID := tenantctx.TenantID(c)
	ctx := c.UserContext()
	pc.hooks.CallHook(ctx, hooks.ProductViewed, fiber.Map{
		"id":   product.ID,
		"slug": product.Slug,
	}, pluginapi.HookMeta{TenantID: tenantID})
	pc.tracker.TrackBestEffort(ctx, jobqueue.AnalyticsEventPayload{
		TenantID:   tenantID,
		Name:       analytics.EventProductView,
		Path:       c.Path(),
		Properties: map[string]interface{}{"product_id": product.ID},
	})

	return c.JSON(product)
}

func (pc *ProductController) HandleCreate(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	var in productInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}

	product := &models.Product{IsActive: true}
	in.apply(product)
	if product.Slug != "" {
		exists, err := repos.Product.SlugExists(product.Slug)
		if err != nil {
			return repoError(c, err, "product")
		}
		if exists {
			return jsonError(c, fiber.StatusConflict, "slug_taken", "A product with this slug already exists")
		}
	}
	if err := repos.Product.Create(product); err != nil {
		return repoError(c, err, "product")
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

func (pc *ProductController) HandleUpdate(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid product id")
	}
	product, err := repos.Product.GetByID(id)
	if err != nil {
		return repoError(c, err, "product")
	}

	var in productInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	in.apply(product)
	if err := repos.Product.Update(product); err != nil {
		return repoError(c, err, "product")
	}
	return c.JSON(product)
}

func (pc *ProductController) HandleDelete(c *fiber.Ctx) error {
	repos := tenantctx.Repos(c)
	if repos == nil {
		return noTenant(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid product id")
	}
	if _, err := repos.Product.GetByID(id); err != nil {
		return repoError(c, err, "product")
	}
	if err := repos.Product.Delete(id); err != nil {
		return repoError(c, err, "product")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
