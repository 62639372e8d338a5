package controllers

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// WebhookController manages the current tenant's webhook endpoints.
type WebhookController struct {
	repo     repository.WebhookRepository
	validate *validator.Validate
}

func NewWebhookController(repo repository.WebhookRepository) *WebhookController {
	return &WebhookController{repo: repo, validate: validator.New()}
}

type webhookInput struct {
	Event  string `json:"event"`
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

func (wc *WebhookController) HandleList(c *fiber.Ctx) error {
	tenantID := tenantctx.TenantID(c)
	if tenantID == 0 {
		return noTenant(c)
	}
	endpoints, err := wc.repo.ListEndpoints(tenantID)
	if err != nil {
		return repoError(c, err, "webhooks")
	}
	return c.JSON(fiber.Map{"webhooks": endpoints})
}

// HandleCreate registers an endpoint. The signing secret is only returned
// in this response.
func (wc *WebhookController) HandleCreate(c *fiber.Ctx) error {
	tenantID := tenantctx.TenantID(c)
	if tenantID == 0 {
		return noTenant(c)
	}
	var in webhookInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}

	endpoint := &models.WebhookEndpoint{
		TenantID: tenantID,
		Event:    in.Event,
		URL:      in.URL,
		Secret:   in.Secret,
		IsActive: true,
	}
	if err := wc.validate.Struct(endpoint); err != nil {
		return repoError(c, err, "webhook")
	}
	if endpoint.Secret == "" {
		secret, err := newSecret()
		if err != nil {
			return repoError(c, err, "webhook")
		}
		endpoint.Secret = secret
	}
	if err := wc.repo.CreateEndpoint(endpoint); err != nil {
		return repoError(c, err, "webhook")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"webhook": endpoint,
		"secret":  endpoint.Secret,
	})
}

func (wc *WebhookController) HandleDelete(c *fiber.Ctx) error {
	tenantID := tenantctx.TenantID(c)
	if tenantID == 0 {
		return noTenant(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid webhook id")
	}
	if err := wc.repo.DeleteEndpoint(tenantID, id); err != nil {
		return repoError(c, err, "webhook")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleLogs lists delivery attempts of one of the tenant's endpoints.
func (wc *WebhookController) HandleLogs(c *fiber.Ctx) error {
	tenantID := tenantctx.TenantID(c)
	if tenantID == 0 {
		return noTenant(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid webhook id")
	}
	endpoint, err := wc.repo.GetEndpoint(id)
	if err != nil {
		return repoError(c, err, "webhook")
	}
	if endpoint.TenantID != tenantID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "webhook not found")
	}
	logs, err := wc.repo.ListLogs(id)
	if err != nil {
		return repoError(c, err, "webhook logs")
	}
	return c.JSON(fiber.Map{"logs": logs})
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
