package pluginloader

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

type fakePlugin struct {
	delay time.Duration
	resp  *pluginapi.RouteResponse
	err   error
	last  pluginapi.RouteRequest
}

func (f *fakePlugin) ID() string { return "fake" }
func (f *fakePlugin) Metadata(context.Context) (*pluginapi.Metadata, error) {
	return &pluginapi.Metadata{ID: "fake"}, nil
}
func (f *fakePlugin) Register(context.Context, uint, map[string]any) (*pluginapi.Registration, error) {
	return &pluginapi.Registration{}, nil
}
func (f *fakePlugin) RegisterHook(context.Context, string) error          { return nil }
func (f *fakePlugin) RegisterRoute(context.Context, string, string) error { return nil }
func (f *fakePlugin) CallRoute(_ context.Context, _, _ string, req pluginapi.RouteRequest) (*pluginapi.RouteResponse, error) {
	f.last = req
	time.Sleep(f.delay)
	return f.resp, f.err
}
func (f *fakePlugin) CallHook(context.Context, string, any, pluginapi.HookMeta) (*pluginapi.HookResult, error) {
	return &pluginapi.HookResult{}, nil
}
func (f *fakePlugin) Stop() error { return nil }

type memoryLogs struct {
	entries []models.PluginLog
	fail    bool
}

func (m *memoryLogs) Create(entry *models.PluginLog) error {
	if m.fail {
		return fmt.Errorf("database is read-only")
	}
	m.entries = append(m.entries, *entry)
	return nil
}
func (m *memoryLogs) ListByPlugin(string, int) ([]models.PluginLog, error) { return m.entries, nil }
func (m *memoryLogs) PruneOlderThan(time.Time) (int64, error)              { return 0, nil }

func newProxyApp(routes *RouteTable, logs *memoryLogs) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		tenantctx.Set(c, tenantctx.TenantContext{Tenant: &models.Tenant{ID: 7}})
		return c.Next()
	})
	app.All("/api/plugin/:pluginId/*", ProxyHandler(routes, logs))
	return app
}

func TestProxyHandler(t *testing.T) {
	tests := []struct {
		name       string
		plugin     *fakePlugin
		wantStatus int
		wantBody   string
	}{
		{"defaults", &fakePlugin{}, fiber.StatusOK, "{}"},
		{"plugin status", &fakePlugin{resp: &pluginapi.RouteResponse{Status: 201, Body: map[string]any{"ok": true}}}, fiber.StatusCreated, `{"ok":true}`},
		{"timeout", &fakePlugin{err: fmt.Errorf("call: %w", pluginapi.ErrTimeout)}, fiber.StatusGatewayTimeout, "plugin_timeout"},
		{"missing in worker", &fakePlugin{err: pluginapi.ErrRouteNotFound}, fiber.StatusNotFound, "route_not_found"},
		{"failure", &fakePlugin{err: fmt.Errorf("boom")}, fiber.StatusInternalServerError, "plugin_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := NewRouteTable()
			routes.Add(7, "my plugin", "GET", "/stats", tt.plugin)
			app := newProxyApp(routes, &memoryLogs{})

			resp, err := app.Test(httptest.NewRequest("GET", "/api/plugin/my%20plugin/stats?range=7d", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			raw, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(raw), tt.wantBody)
		})
	}
}

func TestProxyHandler_UnknownRoute(t *testing.T) {
	routes := NewRouteTable()
	routes.Add(8, "reviews", "GET", "/list", &fakePlugin{})
	app := newProxyApp(routes, &memoryLogs{})

	for _, target := range []string{"/api/plugin/reviews/list", "/api/plugin/reviews/other", "/api/plugin/seo/list"} {
		resp, err := app.Test(httptest.NewRequest("GET", target, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, target)
	}
}

func TestProxyHandler_ForwardsRequest(t *testing.T) {
	plugin := &fakePlugin{}
	routes := NewRouteTable()
	routes.Add(7, "reviews", "POST", "/add", plugin)
	logs := &memoryLogs{}
	app := newProxyApp(routes, logs)

	req := httptest.NewRequest("POST", "/api/plugin/reviews/add/?sort=new", strings.NewReader(`{"text":"great"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, uint(7), plugin.last.TenantID)
	assert.Equal(t, "/add", plugin.last.Path)
	assert.Equal(t, "new", plugin.last.Query["sort"])
	assert.Equal(t, map[string]any{"text": "great"}, plugin.last.Body)
	assert.NotContains(t, plugin.last.Headers, "Authorization")

	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.PluginLogInfo, logs.entries[0].Level)
	require.NotNil(t, logs.entries[0].DurationMs)
}

func TestProxyHandler_SlowInvocationWarns(t *testing.T) {
	routes := NewRouteTable()
	routes.Add(7, "reviews", "GET", "/slow", &fakePlugin{delay: SlowInvocation + 100*time.Millisecond})
	logs := &memoryLogs{}
	app := newProxyApp(routes, logs)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/plugin/reviews/slow", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Len(t, logs.entries, 2)
	assert.Equal(t, models.PluginLogWarn, logs.entries[1].Level)
	assert.GreaterOrEqual(t, *logs.entries[1].DurationMs, SlowInvocation.Milliseconds())
}

func TestProxyHandler_LogFailureIsIgnored(t *testing.T) {
	routes := NewRouteTable()
	routes.Add(7, "reviews", "GET", "/list", &fakePlugin{})
	app := newProxyApp(routes, &memoryLogs{fail: true})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/plugin/reviews/list", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
