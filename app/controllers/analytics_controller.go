package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// AnalyticsController accepts client-side storefront events.
type AnalyticsController struct {
	tracker EventTracker
}

func NewAnalyticsController(tracker EventTracker) *AnalyticsController {
	return &AnalyticsController{tracker: tracker}
}

type eventInput struct {
	Name       string                 `json:"name"`
	SessionID  string                 `json:"session_id"`
	Path       string                 `json:"path"`
	Properties map[string]interface{} `json:"properties"`
}

// HandleTrack enqueues the event; persistence happens in the background.
func (ac *AnalyticsController) HandleTrack(c *fiber.Ctx) error {
	tenantID := tenantctx.TenantID(c)
	if tenantID == 0 {
		return noTenant(c)
	}
	var in eventInput
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Request body must be JSON")
	}
	if in.Name == "" {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "name is required")
	}

	err := ac.tracker.Track(c.UserContext(), jobqueue.AnalyticsEventPayload{
		TenantID:   tenantID,
		Name:       in.Name,
		SessionID:  in.SessionID,
		Path:       in.Path,
		Properties: in.Properties,
	})
	if err != nil {
		log.Warnf("[Analytics] Rejected event %q for tenant %d: %v", in.Name, tenantID, err)
		return jsonError(c, fiber.StatusUnprocessableEntity, "event_rejected", err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}
