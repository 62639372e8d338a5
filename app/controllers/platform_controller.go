package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/hooks"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginloader"
	"github.com/ManuelReschke/Tenantly/internal/pkg/provisioning"
)

// TenantProvisioner creates and migrates tenant schemas.
type TenantProvisioner interface {
	Provision(ctx context.Context, tenant *models.Tenant) (*provisioning.State, error)
}

// ConnectionEvictor drops cached tenant and region connections.
type ConnectionEvictor interface {
	EvictTenant(tenantID uint) error
	EvictRegion(region string) error
}

// TenantCache forgets cached tenant records.
type TenantCache interface {
	Invalidate(ctx context.Context, t *models.Tenant)
}

// PluginAdmin changes plugin approval and tenant bindings at runtime.
type PluginAdmin interface {
	Approve(pluginID string) error
	Revoke(pluginID string) error
	Install(ctx context.Context, tenantID uint, pluginID string) (*models.TenantPlugin, error)
}

// PlatformController is the operator API. It runs without a tenant.
type PlatformController struct {
	repos       *repository.Repositories
	provisioner TenantProvisioner
	connections ConnectionEvictor
	cache       TenantCache
	plugins     PluginAdmin
	hooks       HookCaller
}

func NewPlatformController(repos *repository.Repositories, provisioner TenantProvisioner, connections ConnectionEvictor, cache TenantCache, plugins PluginAdmin, hooks HookCaller) *PlatformController {
	return &PlatformController{
		repos:       repos,
		provisioner: provisioner,
		connections: connections,
		cache:       cache,
		plugins:     plugins,
		hooks:       hooks,
	}
}

type tenantInput struct {
	Subdomain string  `json:"subdomain"`
	Name      string  `json:"name"`
	Plan      string  `json:"plan"`
	Region    *string `json:"data_residency_region"`
}

type statusInput struct {
	Status string `json:"status"`
}

func (pc *PlatformController) HandleListTenants(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	tenants, err := pc.repos.Tenant.List(offset, limit)
	if err != nil {
		return repoError(c, err, "tenants")
	}
	total, err := pc.repos.Tenant.Count()
	if err != nil {
		return repoError(c, err, "tenants")
	}
	return c.JSON(fiber.Map{"tenants": tenants, "total": total, "offset": offset, "limit": limit})
}

// HandleCreateTenant stores the tenant and provisions its schema. A failed
// provisioning leaves the tenant in place so it can be retried from the CLI.
func (pc *PlatformController) HandleCreateTenant(c *fiber.Ctx) error {
	var in tenantInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}

	tenant := &models.Tenant{
		Subdomain: strings.ToLower(strings.TrimSpace(in.Subdomain)),
		Name:      strings.TrimSpace(in.Name),
		Plan:      models.NormalizePlan(in.Plan),
	}
	if in.Region != nil && strings.TrimSpace(*in.Region) != "" {
		region := strings.ToLower(strings.TrimSpace(*in.Region))
		tenant.DataResidencyRegion = &region
	}

	if existing, err := pc.repos.Tenant.GetBySubdomain(tenant.Subdomain); err == nil && existing != nil {
		return jsonError(c, fiber.StatusConflict, "subdomain_taken", "A tenant with this subdomain already exists")
	}
	if err := pc.repos.Tenant.Create(tenant); err != nil {
		if strings.Contains(err.Error(), "invalid subdomain") {
			return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
		}
		return repoError(c, err, "tenant")
	}

	state, err := pc.provisioner.Provision(c.UserContext(), tenant)
	if err != nil {
		log.Errorf("[Platform] Provisioning tenant %d failed: %v", tenant.ID, err)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"tenant":      tenant,
			"provisioned": false,
			"error":       "provisioning_failed",
		})
	}

	pc.hooks.CallHook(c.UserContext(), hooks.TenantCreated, fiber.Map{
		"id":        tenant.ID,
		"subdomain": tenant.Subdomain,
		"plan":      tenant.Plan,
	}, pluginapi.HookMeta{TenantID: tenant.ID})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"tenant":         tenant,
		"provisioned":    true,
		"schema_version": state.Version,
	})
}

// HandleUpdateStatus moves a tenant through its lifecycle. Suspending or
// cancelling also drops its cached connection.
func (pc *PlatformController) HandleUpdateStatus(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid tenant id")
	}
	var in statusInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	if !models.IsValidTenantStatus(in.Status) {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "unknown status "+in.Status)
	}

	if err := pc.repos.Tenant.UpdateStatus(id, in.Status); err != nil {
		return repoError(c, err, "tenant")
	}
	tenant, err := pc.repos.Tenant.GetByID(id)
	if err != nil {
		return repoError(c, err, "tenant")
	}
	pc.cache.Invalidate(c.UserContext(), tenant)
	if !tenant.IsServing() {
		if err := pc.connections.EvictTenant(id); err != nil {
			log.Warnf("[Platform] Evicting tenant %d after status change: %v", id, err)
		}
	}
	return c.JSON(tenant)
}

func (pc *PlatformController) HandleEvictTenant(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid tenant id")
	}
	if err := pc.connections.EvictTenant(id); err != nil {
		return repoError(c, err, "connection")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (pc *PlatformController) HandleEvictRegion(c *fiber.Ctx) error {
	region := strings.ToLower(strings.TrimSpace(c.Params("region")))
	if region == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_region", "Region is required")
	}
	if err := pc.connections.EvictRegion(region); err != nil {
		return repoError(c, err, "connection")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (pc *PlatformController) HandleListPlugins(c *fiber.Ctx) error {
	plugins, err := pc.repos.Plugin.List()
	if err != nil {
		return repoError(c, err, "plugins")
	}
	return c.JSON(fiber.Map{"plugins": plugins})
}

func (pc *PlatformController) HandleApprovePlugin(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := pc.plugins.Approve(id); err != nil {
		return repoError(c, err, "plugin")
	}
	return c.JSON(fiber.Map{"id": id, "is_approved": true})
}

// HandleRevokePlugin takes effect immediately for every tenant.
func (pc *PlatformController) HandleRevokePlugin(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := pc.plugins.Revoke(id); err != nil {
		return repoError(c, err, "plugin")
	}
	return c.JSON(fiber.Map{"id": id, "is_approved": false})
}

func (pc *PlatformController) HandleInstallPlugin(c *fiber.Ctx) error {
	tenantID, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid tenant id")
	}
	if _, err := pc.repos.Tenant.GetByID(tenantID); err != nil {
		return repoError(c, err, "tenant")
	}

	binding, err := pc.plugins.Install(c.UserContext(), tenantID, c.Params("pluginId"))
	switch {
	case errors.Is(err, pluginloader.ErrPluginNotFound):
		return jsonError(c, fiber.StatusNotFound, "plugin_not_found", err.Error())
	case errors.Is(err, pluginloader.ErrPluginNotApproved):
		return jsonError(c, fiber.StatusForbidden, "plugin_not_approved", err.Error())
	case errors.Is(err, pluginloader.ErrIncompatible):
		return jsonError(c, fiber.StatusConflict, "plugin_incompatible", err.Error())
	case err != nil && binding != nil:
		// bound, but the sandbox did not come up; the next boot retries
		log.Errorf("[Platform] Plugin %s installed for tenant %d but not started: %v", c.Params("pluginId"), tenantID, err)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"binding": binding, "started": false})
	case err != nil:
		return repoError(c, err, "plugin binding")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"binding": binding, "started": true})
}
