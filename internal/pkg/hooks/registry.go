// Package hooks is the in-memory hook registry. Handlers run in registration
// order, local handlers before sandboxed ones, and a failing handler never
// stops the chain.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

// Hook names used by the platform.
const (
	// PageRender is the processing hook: handlers may replace the payload.
	PageRender    = "page.render"
	OrderCreated  = "order.created"
	ProductViewed = "product.viewed"
	TenantCreated = "tenant.created"
	CartItemAdded = "cart.item_added"
)

// DomainHooks are subscribed for every registered plugin binding.
var DomainHooks = []string{OrderCreated}

// LocalHandler runs in process. A nil return leaves the payload unchanged.
type LocalHandler func(ctx context.Context, payload any, meta pluginapi.HookMeta) (any, error)

// Invoker is the part of a plugin the registry calls.
type Invoker interface {
	CallHook(ctx context.Context, hook string, payload any, meta pluginapi.HookMeta) (*pluginapi.HookResult, error)
}

type handler struct {
	pluginID string
	local    LocalHandler
	sandbox  Invoker
	tenantID *uint
}

// Registry is rebuilt on every boot and never persisted.
type Registry struct {
	mu        sync.RWMutex
	local     map[string][]handler
	sandboxed map[string][]handler
}

func NewRegistry() *Registry {
	return &Registry{
		local:     make(map[string][]handler),
		sandboxed: make(map[string][]handler),
	}
}

// IsProcessing reports whether a hook folds handler results into the payload.
// Every other hook is side-effect fan-out.
func IsProcessing(hook string) bool {
	return hook == PageRender
}

func (r *Registry) RegisterLocal(hook, pluginID string, fn LocalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[hook] = append(r.local[hook], handler{pluginID: pluginID, local: fn})
}

// RegisterSandboxHandler adds a plugin-backed handler. A non-nil tenantID
// restricts it to invocations for that tenant.
func (r *Registry) RegisterSandboxHandler(hook, pluginID string, p Invoker, tenantID *uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sandboxed[hook] = append(r.sandboxed[hook], handler{pluginID: pluginID, sandbox: p, tenantID: tenantID})
}

// RemovePlugin drops every handler owned by pluginID and returns how many
// were removed.
func (r *Registry) RemovePlugin(pluginID string) int {
	return r.remove(func(h handler) bool { return h.pluginID == pluginID })
}

// RemovePluginForTenant drops the handlers pluginID registered for one
// tenant. Unfiltered handlers of the plugin stay.
func (r *Registry) RemovePluginForTenant(pluginID string, tenantID uint) int {
	return r.remove(func(h handler) bool {
		return h.pluginID == pluginID && h.tenantID != nil && *h.tenantID == tenantID
	})
}

func (r *Registry) remove(match func(handler) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, lists := range []map[string][]handler{r.local, r.sandboxed} {
		for hook, hs := range lists {
			kept := hs[:0]
			for _, h := range hs {
				if match(h) {
					removed++
					continue
				}
				kept = append(kept, h)
			}
			if len(kept) == 0 {
				delete(lists, hook)
			} else {
				lists[hook] = kept
			}
		}
	}
	return removed
}

// Count returns the number of local and sandboxed handlers for hook.
func (r *Registry) Count(hook string) (local, sandboxed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.local[hook]), len(r.sandboxed[hook])
}

// CallHook runs every handler for hook and returns the resulting payload.
// For the processing hook a non-nil local return, or a sandbox result
// flagged as modified, replaces the working payload; for all other hooks the
// input payload is returned unchanged.
func (r *Registry) CallHook(ctx context.Context, hook string, payload any, meta pluginapi.HookMeta) any {
	r.mu.RLock()
	locals := append([]handler(nil), r.local[hook]...)
	sandboxed := append([]handler(nil), r.sandboxed[hook]...)
	r.mu.RUnlock()

	processing := IsProcessing(hook)
	working := payload

	for _, h := range locals {
		out, err := runLocal(ctx, h, working, meta)
		if err != nil {
			log.Errorf("[Hooks] %s handler of %s failed: %v", hook, h.pluginID, err)
			continue
		}
		if processing && out != nil {
			working = out
		}
	}

	for _, h := range sandboxed {
		if h.tenantID != nil && *h.tenantID != meta.TenantID {
			continue
		}
		res, err := runSandboxed(ctx, hook, h, working, meta)
		if err != nil {
			log.Errorf("[Hooks] %s sandbox handler of %s failed: %v", hook, h.pluginID, err)
			continue
		}
		if processing && res != nil && res.Modified {
			working = res.Payload
		}
	}

	return working
}

func runLocal(ctx context.Context, h handler, payload any, meta pluginapi.HookMeta) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.local(ctx, payload, meta)
}

func runSandboxed(ctx context.Context, hook string, h handler, payload any, meta pluginapi.HookMeta) (res *pluginapi.HookResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.sandbox.CallHook(ctx, hook, payload, meta)
}
