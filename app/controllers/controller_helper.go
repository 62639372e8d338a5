package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// HookCaller runs registered hook handlers.
type HookCaller interface {
	CallHook(ctx context.Context, hook string, payload any, meta pluginapi.HookMeta) any
}

// EventTracker enqueues analytics events.
type EventTracker interface {
	Track(ctx context.Context, e jobqueue.AnalyticsEventPayload) error
	TrackBestEffort(ctx context.Context, e jobqueue.AnalyticsEventPayload)
}

// EventPublisher fans platform events out to webhook endpoints.
type EventPublisher interface {
	PublishBestEffort(ctx context.Context, tenantID uint, event string, data map[string]interface{})
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// repoError maps repository failures onto HTTP responses.
func repoError(c *fiber.Ctx, err error, what string) error {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", what+" not found")
	case errors.As(err, &verrs):
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", verrs.Error())
	}
	log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to process "+what)
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func pagination(c *fiber.Ctx) (offset, limit int) {
	limit = c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

func noTenant(c *fiber.Ctx) error {
	return jsonError(c, fiber.StatusNotFound, "tenant_not_found", "No tenant for this host")
}
