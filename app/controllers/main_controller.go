package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// MainController serves the landing page and the health probe.
type MainController struct {
	checks map[string]Pinger
}

func NewMainController(checks map[string]Pinger) *MainController {
	return &MainController{checks: checks}
}

// HandleHome renders the marketing page, or the storefront index when the
// host resolves to a tenant.
func (mc *MainController) HandleHome(c *fiber.Ctx) error {
	isDEV := env.IsDev()
	tc, ok := tenantctx.Get(c)
	if !ok {
		return c.Render("index", fiber.Map{
			"Title": "Tenantly",
			"IsDev": isDEV,
			"Year":  time.Now().Year(),
		}, "layouts/main")
	}

	repos := tenantctx.Repos(c)
	pages, err := repos.Page.GetActive()
	if err != nil {
		return repoError(c, err, "pages")
	}
	products, err := repos.Product.List(0, 12, true)
	if err != nil {
		return repoError(c, err, "products")
	}
	return c.Render("storefront", fiber.Map{
		"Title":    tc.Tenant.Name,
		"Tenant":   tc.Tenant,
		"Pages":    pages,
		"Products": products,
		"IsDev":    isDEV,
		"Year":     time.Now().Year(),
	}, "layouts/main")
}

// HandleHealth answers 200 when every dependency responds, 503 otherwise.
func (mc *MainController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := fiber.Map{}
	for name, check := range mc.checks {
		if err := check.Ping(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return c.Status(status).JSON(fiber.Map{"status": statusText(status), "checks": results})
}

func statusText(status int) string {
	if status == fiber.StatusOK {
		return "ok"
	}
	return "degraded"
}
