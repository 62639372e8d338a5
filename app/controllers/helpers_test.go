package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
	"github.com/ManuelReschke/Tenantly/views"
)

func openDB(t *testing.T, name string, models ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func tenantDB(t *testing.T) *gorm.DB {
	return openDB(t, "tenant.db", models.TenantModels()...)
}

func platformDB(t *testing.T) *gorm.DB {
	return openDB(t, "platform.db", models.PlatformModels()...)
}

// newTenantApp returns an app whose requests all belong to tenant.
func newTenantApp(tenant *models.Tenant, db *gorm.DB) *fiber.App {
	app := fiber.New(fiber.Config{Views: views.NewEngine(false)})
	app.Use(func(c *fiber.Ctx) error {
		if tenant != nil {
			tenantctx.Set(c, tenantctx.TenantContext{
				Tenant: tenant,
				Handle: &tenantdb.Handle{DB: db, TenantID: tenant.ID},
			})
		}
		return c.Next()
	})
	return app
}

type hookCall struct {
	hook    string
	payload any
	meta    pluginapi.HookMeta
}

type fakeHooks struct {
	mu     sync.Mutex
	calls  []hookCall
	render func(payload any) any
}

func (f *fakeHooks) CallHook(_ context.Context, hook string, payload any, meta pluginapi.HookMeta) any {
	f.mu.Lock()
	f.calls = append(f.calls, hookCall{hook: hook, payload: payload, meta: meta})
	f.mu.Unlock()
	if hook == "page.render" && f.render != nil {
		return f.render(payload)
	}
	return payload
}

func (f *fakeHooks) named(hook string) []hookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hookCall
	for _, c := range f.calls {
		if c.hook == hook {
			out = append(out, c)
		}
	}
	return out
}

type fakeTracker struct {
	mu     sync.Mutex
	events []jobqueue.AnalyticsEventPayload
	err    error
}

func (f *fakeTracker) Track(_ context.Context, e jobqueue.AnalyticsEventPayload) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeTracker) TrackBestEffort(ctx context.Context, e jobqueue.AnalyticsEventPayload) {
	_ = f.Track(ctx, e)
}

type published struct {
	tenantID uint
	event    string
	data     map[string]interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) PublishBestEffort(_ context.Context, tenantID uint, event string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{tenantID: tenantID, event: event, data: data})
}

type fakeSessions struct {
	id     string
	resets int
}

func (f *fakeSessions) CartSessionID(*fiber.Ctx, uint) (string, error) { return f.id, nil }

func (f *fakeSessions) ResetCart(*fiber.Ctx, uint) error {
	f.resets++
	f.id += "-next"
	return nil
}

// fiberAppBundle is an app plus the fakes its controllers were built with.
type fiberAppBundle struct {
	app       *fiber.App
	hooks     *fakeHooks
	tracker   *fakeTracker
	publisher *fakePublisher
	sessions  *fakeSessions
}

func itoa(n int) string { return strconv.Itoa(n) }

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}
