package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"

	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantctx"
)

// KeyDeadline holds the time.Time by which the request should be answered.
const KeyDeadline = "request_deadline"

// deadlineKey is the fasthttp user value PlanTimeout reports its deadline on.
const deadlineKey = "tenantly.deadline"

const gatewayTimeoutBody = `{"error":"gateway_timeout","message":"The request took longer than your plan allows"}`

// PlanTimeout gives each request the API deadline of its tenant's plan.
// Under DetachOnDeadline the client gets a 504 as soon as the deadline passes.
// Without it, a handler that returns late has its response replaced by 504.
// The handler itself is never interrupted, so work it started still finishes.
func PlanTimeout(timeoutFor func(plan string) time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		plan := tenantctx.Plan(c)
		limit := timeoutFor(plan)
		if limit <= 0 {
			return c.Next()
		}

		start := time.Now()
		deadline := start.Add(limit)
		c.Locals(KeyDeadline, deadline)
		if ch, ok := c.Context().UserValue(deadlineKey).(chan time.Time); ok {
			select {
			case ch <- deadline:
			default:
			}
		}

		err := c.Next()
		if elapsed := time.Since(start); elapsed > limit {
			log.Warnf("[Timeout] %s %s exceeded the %s plan limit of %s (%s)", c.Method(), c.Path(), plan, limit, elapsed.Round(time.Millisecond))
			c.Response().Reset()
			c.Status(fiber.StatusGatewayTimeout).Type("json")
			return c.SendString(gatewayTimeoutBody)
		}
		return err
	}
}

// DetachOnDeadline wraps the server handler so a request whose PlanTimeout
// deadline passes is answered with 504 right away. The fiber handler keeps
// running on the detached RequestCtx and its late writes are dropped.
func DetachOnDeadline(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		deadlines := make(chan time.Time, 1)
		done := make(chan struct{})
		ctx.SetUserValue(deadlineKey, deadlines)

		go func() {
			defer close(done)
			next(ctx)
		}()

		var deadline time.Time
		select {
		case <-done:
			return
		case deadline = <-deadlines:
		}

		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			log.Warnf("[Timeout] %s %s detached at its plan deadline", ctx.Method(), ctx.Path())
			resp := fasthttp.AcquireResponse()
			defer fasthttp.ReleaseResponse(resp)
			resp.SetStatusCode(fiber.StatusGatewayTimeout)
			resp.Header.SetContentType(fiber.MIMEApplicationJSON)
			resp.SetBodyString(gatewayTimeoutBody)
			ctx.TimeoutErrorWithResponse(resp)
		}
	}
}

// Deadline returns the request deadline set by PlanTimeout.
func Deadline(c *fiber.Ctx) (time.Time, bool) {
	d, ok := c.Locals(KeyDeadline).(time.Time)
	return d, ok
}
