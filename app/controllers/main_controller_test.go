package controllers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantStatus int
		wantText   string
	}{
		{
			name:       "all up",
			checks:     map[string]Pinger{"database": PingFunc(func(context.Context) error { return nil })},
			wantStatus: 200,
			wantText:   "ok",
		},
		{
			name: "redis down",
			checks: map[string]Pinger{
				"database": PingFunc(func(context.Context) error { return nil }),
				"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
			},
			wantStatus: 503,
			wantText:   "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTenantApp(nil, nil)
			app.Get("/healthz", NewMainController(tt.checks).HandleHealth)

			resp, body := doJSON(t, app, "GET", "/healthz", nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantText, body["status"])
		})
	}
}

func TestHomeMarketingPage(t *testing.T) {
	app := newTenantApp(nil, nil)
	app.Get("/", NewMainController(nil).HandleHome)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	html, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(html), "Run your shop on Tenantly")
}

func TestHomeStorefront(t *testing.T) {
	db := tenantDB(t)
	repos := repository.ForTenant(db)
	require.NoError(t, repos.Product.Create(&models.Product{Name: "Blue Mug", Slug: "blue-mug", PriceCents: 1200, IsActive: true}))
	require.NoError(t, repos.Product.Create(&models.Product{Name: "Hidden", Slug: "hidden", PriceCents: 1, IsActive: false}))
	require.NoError(t, repos.Page.Create(&models.Page{Title: "About us", Slug: "about", Content: "hi", IsActive: true}))

	app := newTenantApp(acme, db)
	app.Get("/", NewMainController(nil).HandleHome)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	html, _ := io.ReadAll(resp.Body)
	body := string(html)
	assert.Contains(t, body, "Blue Mug")
	assert.Contains(t, body, `href="/p/about"`)
	assert.NotContains(t, body, "Hidden")
}
