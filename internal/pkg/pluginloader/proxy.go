package pluginloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/besteffort"
	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// SlowInvocation is the duration above which a plugin route call is flagged.
const SlowInvocation = 500 * time.Millisecond

// ProxyHandler serves ALL /api/plugin/:pluginId/* by forwarding to the
// plugin instance registered for the current tenant.
func ProxyHandler(routes *RouteTable, logs repository.PluginLogRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pluginID, err := url.PathUnescape(c.Params("pluginId"))
		if err != nil {
			pluginID = c.Params("pluginId")
		}
		path := pluginapi.NormalizePath(c.Params("*"))
		method := c.Method()
		tenantID := tenantctx.TenantID(c)

		p, ok := routes.Lookup(tenantID, pluginID, method, path)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":   "route_not_found",
				"message": fmt.Sprintf("plugin %s has no route %s", pluginID, pluginapi.RouteKey(method, path)),
			})
		}

		req := pluginapi.RouteRequest{
			Method:   method,
			Path:     path,
			Query:    c.Queries(),
			Headers:  requestHeaders(c),
			Body:     requestBody(c),
			TenantID: tenantID,
		}

		timer := metrics.NewTimer()
		resp, err := p.CallRoute(c.UserContext(), method, path, req)
		elapsed := timer.ObserveDurationVec(metrics.PluginRouteDuration, pluginID)
		recordInvocation(logs, pluginID, tenantID, pluginapi.RouteKey(method, path), elapsed)

		if err != nil {
			switch {
			case errors.Is(err, pluginapi.ErrTimeout):
				return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
					"error":   "plugin_timeout",
					"message": fmt.Sprintf("plugin %s did not answer in time", pluginID),
				})
			case errors.Is(err, pluginapi.ErrRouteNotFound):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error":   "route_not_found",
					"message": err.Error(),
				})
			}
			log.Errorf("[PluginProxy] %s %s failed: %v", pluginID, path, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "plugin_error",
				"message": "plugin failed to handle the request",
			})
		}

		resp = resp.WithDefaults()
		for k, v := range resp.Headers {
			c.Set(k, v)
		}
		c.Status(resp.Status)
		if s, ok := resp.Body.(string); ok && resp.Headers["Content-Type"] != "" {
			return c.SendString(s)
		}
		return c.JSON(resp.Body)
	}
}

// recordInvocation persists the duration of a route call. Calls slower than
// SlowInvocation additionally get a warn row and a log line.
func recordInvocation(logs repository.PluginLogRepository, pluginID string, tenantID uint, key string, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	var tid *uint
	if tenantID != 0 {
		tid = &tenantID
	}

	besteffort.Do("PluginInvocation", func() error {
		return logs.Create(&models.PluginLog{
			PluginID:   pluginID,
			TenantID:   tid,
			Level:      models.PluginLogInfo,
			Message:    "route " + key,
			DurationMs: &ms,
		})
	})

	if elapsed <= SlowInvocation {
		return
	}
	metrics.PluginSlowInvocations.WithLabelValues(pluginID).Inc()
	log.Warnf("[PluginProxy] Slow invocation of %s %s: %dms", pluginID, key, ms)
	besteffort.Do("PluginInvocation", func() error {
		return logs.Create(&models.PluginLog{
			PluginID:   pluginID,
			TenantID:   tid,
			Level:      models.PluginLogWarn,
			Message:    fmt.Sprintf("slow invocation of %s took %dms", key, ms),
			DurationMs: &ms,
		})
	})
}

// Credentials never reach plugin code.
var strippedHeaders = map[string]struct{}{
	fiber.HeaderAuthorization: {},
	fiber.HeaderCookie:        {},
	"X-Api-Key":               {},
}

func requestHeaders(c *fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		name := string(k)
		if _, secret := strippedHeaders[name]; secret {
			return
		}
		headers[name] = string(v)
	})
	return headers
}

func requestBody(c *fiber.Ctx) any {
	raw := c.Body()
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
