package hooks

import (
	"context"

	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

// CorePluginID owns the handlers the platform registers itself.
const CorePluginID = "core"

// RegisterBuiltins adds the platform's own local handlers. They count domain
// events and never touch the payload, so plugins see it unchanged.
func RegisterBuiltins(r *Registry) {
	for _, hook := range []string{ProductViewed, CartItemAdded, OrderCreated, TenantCreated} {
		r.RegisterLocal(hook, CorePluginID, countEvent(hook))
	}
}

func countEvent(hook string) LocalHandler {
	counter := metrics.DomainEvents.WithLabelValues(hook)
	return func(context.Context, any, pluginapi.HookMeta) (any, error) {
		counter.Inc()
		return nil, nil
	}
}
