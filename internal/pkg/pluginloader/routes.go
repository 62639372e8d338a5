package pluginloader

import (
	"sync"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

// RouteTable maps (tenant, plugin, method+path) to the plugin instance that
// serves it. Lookups run on every proxied request; writes only at boot,
// install and revocation.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[uint]map[string]map[string]pluginapi.Plugin
}

func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[uint]map[string]map[string]pluginapi.Plugin)}
}

// Add registers a route; re-adding the same key replaces the instance.
func (t *RouteTable) Add(tenantID uint, pluginID, method, path string, p pluginapi.Plugin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byPlugin, ok := t.routes[tenantID]
	if !ok {
		byPlugin = make(map[string]map[string]pluginapi.Plugin)
		t.routes[tenantID] = byPlugin
	}
	byKey, ok := byPlugin[pluginID]
	if !ok {
		byKey = make(map[string]pluginapi.Plugin)
		byPlugin[pluginID] = byKey
	}
	byKey[pluginapi.RouteKey(method, path)] = p
}

func (t *RouteTable) Lookup(tenantID uint, pluginID, method, path string) (pluginapi.Plugin, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.routes[tenantID][pluginID][pluginapi.RouteKey(method, path)]
	return p, ok
}

// RemovePlugin drops every route of a plugin across tenants and returns how
// many were removed.
func (t *RouteTable) RemovePlugin(pluginID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for tenantID, byPlugin := range t.routes {
		n += len(byPlugin[pluginID])
		delete(byPlugin, pluginID)
		if len(byPlugin) == 0 {
			delete(t.routes, tenantID)
		}
	}
	return n
}

// RemovePluginForTenant drops the routes of one plugin for one tenant.
func (t *RouteTable) RemovePluginForTenant(pluginID string, tenantID uint) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	byPlugin := t.routes[tenantID]
	n := len(byPlugin[pluginID])
	delete(byPlugin, pluginID)
	if len(byPlugin) == 0 {
		delete(t.routes, tenantID)
	}
	return n
}

// Routes lists the route keys registered for a tenant and plugin.
func (t *RouteTable) Routes(tenantID uint, pluginID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.routes[tenantID][pluginID]))
	for k := range t.routes[tenantID][pluginID] {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the total number of routes.
func (t *RouteTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, byPlugin := range t.routes {
		for _, byKey := range byPlugin {
			n += len(byKey)
		}
	}
	return n
}
