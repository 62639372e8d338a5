package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// PluginController is the tenant's read-only view of its plugin bindings.
type PluginController struct {
	repo repository.PluginRepository
}

func NewPluginController(repo repository.PluginRepository) *PluginController {
	return &PluginController{repo: repo}
}

func (pc *PluginController) HandleList(c *fiber.Ctx) error {
	tenantID := tenantctx.TenantID(c)
	if tenantID == 0 {
		return noTenant(c)
	}
	bindings, err := pc.repo.ListBindingsByTenant(tenantID)
	if err != nil {
		return repoError(c, err, "plugins")
	}
	return c.JSON(fiber.Map{"plugins": bindings})
}
