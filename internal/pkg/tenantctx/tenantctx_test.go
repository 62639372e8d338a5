package tenantctx

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Tenantly/app/models"
)

func TestGetWithoutTenant(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		_, ok := Get(c)
		assert.False(t, ok)
		assert.Zero(t, TenantID(c))
		assert.Equal(t, models.PlanFree, Plan(c))
		assert.Nil(t, Repos(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestSetAndGet(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		Set(c, TenantContext{Tenant: &models.Tenant{ID: 4, Plan: "Enterprise"}})
		assert.Equal(t, uint(4), TenantID(c))
		assert.Equal(t, models.PlanEnterprise, Plan(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
