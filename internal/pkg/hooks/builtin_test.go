package hooks

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

func TestBuiltinsCountEventsBeforePlugins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	sb := &fakeSandbox{result: &pluginapi.HookResult{}}
	r.RegisterSandboxHandler(OrderCreated, "reviews", sb, nil)

	local, sandboxed := r.Count(OrderCreated)
	assert.Equal(t, 1, local)
	assert.Equal(t, 1, sandboxed)

	counter := metrics.DomainEvents.WithLabelValues(OrderCreated)
	before := testutil.ToFloat64(counter)
	payload := map[string]any{"id": 9}
	out := r.CallHook(context.Background(), OrderCreated, payload, pluginapi.HookMeta{TenantID: 1})

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.Equal(t, payload, out)
	assert.Equal(t, []any{payload}, sb.seen)
}

func TestBuiltinsLeaveProcessingHookAlone(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	local, _ := r.Count(PageRender)
	assert.Zero(t, local)
	assert.Equal(t, "<p>hi</p>", r.CallHook(context.Background(), PageRender, "<p>hi</p>", pluginapi.HookMeta{}))
}

func TestRevokingPluginKeepsBuiltins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	r.RegisterSandboxHandler(ProductViewed, "reviews", &fakeSandbox{}, nil)

	assert.Equal(t, 1, r.RemovePlugin("reviews"))
	local, _ := r.Count(ProductViewed)
	assert.Equal(t, 1, local)
}
