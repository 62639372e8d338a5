package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Tenantly/app/controllers"
	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/config"
	"github.com/ManuelReschke/Tenantly/internal/pkg/directory"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginloader"
	"github.com/ManuelReschke/Tenantly/internal/pkg/provisioning"
	"github.com/ManuelReschke/Tenantly/internal/pkg/session"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
	"github.com/ManuelReschke/Tenantly/views"
)

type stubDirectory struct{ tenants map[string]*models.Tenant }

func (s *stubDirectory) Resolve(_ context.Context, key string) (*models.Tenant, error) {
	if t, ok := s.tenants[key]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", directory.ErrTenantNotFound, key)
}

func (s *stubDirectory) Invalidate(context.Context, *models.Tenant) {}

type stubConnections struct{ db *gorm.DB }

func (s *stubConnections) GetConnectionAsync(_ context.Context, id uint) (*tenantdb.Handle, error) {
	return &tenantdb.Handle{DB: s.db, TenantID: id}, nil
}
func (s *stubConnections) EvictTenant(uint) error   { return nil }
func (s *stubConnections) EvictRegion(string) error { return nil }

type stubProvisioner struct{}

func (stubProvisioner) Provision(_ context.Context, t *models.Tenant) (*provisioning.State, error) {
	return &provisioning.State{Schema: t.SchemaName()}, nil
}

type stubPlugins struct{}

func (stubPlugins) Approve(string) error { return nil }
func (stubPlugins) Revoke(string) error  { return nil }
func (stubPlugins) Install(context.Context, uint, string) (*models.TenantPlugin, error) {
	return nil, pluginloader.ErrPluginNotFound
}

type passthroughHooks struct{}

func (passthroughHooks) CallHook(_ context.Context, _ string, payload any, _ pluginapi.HookMeta) any {
	return payload
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, jobqueue.AnalyticsEventPayload) error { return nil }
func (nopTracker) TrackBestEffort(context.Context, jobqueue.AnalyticsEventPayload) {}

type nopPublisher struct{}

func (nopPublisher) PublishBestEffort(context.Context, uint, string, map[string]interface{}) {}

// echoPlugin answers every route with the tenant it was called for.
type echoPlugin struct{ pluginapi.Plugin }

func (echoPlugin) ID() string { return "echo" }

func (echoPlugin) CallRoute(_ context.Context, method, path string, req pluginapi.RouteRequest) (*pluginapi.RouteResponse, error) {
	return &pluginapi.RouteResponse{Body: map[string]any{"tenant": req.TenantID, "route": method + " " + path}}, nil
}

func openDB(t *testing.T, name string, models ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func newTestApp(t *testing.T) *fiber.App {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{
		BaseDomain:        "tenantly.test",
		AdminUser:         "admin",
		AdminPasswordHash: string(hash),
		PlanTimeouts:      map[string]time.Duration{"free": 10 * time.Second},
	}

	routes := pluginloader.NewRouteTable()
	routes.Add(7, "echo", "GET", "/hello", echoPlugin{})

	deps := Deps{
		Config: cfg,
		Repos:  repository.NewRepositories(openDB(t, "platform.db", models.PlatformModels()...)),
		Directory: &stubDirectory{tenants: map[string]*models.Tenant{
			"acme": {ID: 7, Subdomain: "acme", Name: "Acme", Plan: models.PlanFree, Status: models.TenantStatusActive},
		}},
		Connections:  &stubConnections{db: openDB(t, "tenant.db", models.TenantModels()...)},
		Provisioner:  stubProvisioner{},
		Hooks:        passthroughHooks{},
		Plugins:      stubPlugins{},
		PluginRoutes: routes,
		Tracker:      nopTracker{},
		Publisher:    nopPublisher{},
		Sessions:     session.New(nil),
		Checks: map[string]controllers.Pinger{
			"database": controllers.PingFunc(func(context.Context) error { return nil }),
		},
	}

	app := fiber.New(fiber.Config{Views: views.NewEngine(false)})
	InstallRouter(app, deps)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRoutes(t *testing.T) {
	app := newTestApp(t)

	tenantReq := func(method, path string) *http.Request {
		req := httptest.NewRequest(method, path, nil)
		req.Host = "acme.tenantly.test"
		return req
	}
	platformReq := func(method, path string) *http.Request {
		req := httptest.NewRequest(method, path, nil)
		req.SetBasicAuth("admin", "secret")
		return req
	}

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantBody   string
	}{
		{"health", httptest.NewRequest("GET", "/healthz", nil), 200, `"status":"ok"`},
		{"marketing page", httptest.NewRequest("GET", "/", nil), 200, "Run your shop on Tenantly"},
		{"storefront home", tenantReq("GET", "/"), 200, "Acme"},
		{"api without tenant", httptest.NewRequest("GET", "/api/products", nil), 404, "tenant_not_found"},
		{"api unknown tenant", func() *http.Request {
			req := httptest.NewRequest("GET", "/api/products", nil)
			req.Header.Set("X-Tenant-ID", "ghost")
			return req
		}(), 404, "tenant_not_found"},
		{"api products", tenantReq("GET", "/api/products"), 200, `"products"`},
		{"tenant admin needs credentials", tenantReq("GET", "/api/admin/products"), 401, "unauthorized"},
		{"plugin route", tenantReq("GET", "/api/plugin/echo/hello"), 200, `"route":"GET /hello"`},
		{"plugin route missing", tenantReq("GET", "/api/plugin/echo/nope"), 404, "route_not_found"},
		{"platform needs credentials", httptest.NewRequest("GET", "/platform/api/tenants", nil), 401, "unauthorized"},
		{"platform tenants", platformReq("GET", "/platform/api/tenants"), 200, `"total":0`},
		{"platform install unknown plugin", platformReq("POST", "/platform/api/tenants/1/plugins/x"), 404, "not_found"},
		{"metrics need credentials", httptest.NewRequest("GET", "/metrics", nil), 401, ""},
		{"metrics", platformReq("GET", "/metrics"), 200, "tenantly_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.req)
			assert.Equal(t, tt.wantStatus, status, body)
			if tt.wantBody != "" {
				assert.Contains(t, body, tt.wantBody)
			}
		})
	}
}
