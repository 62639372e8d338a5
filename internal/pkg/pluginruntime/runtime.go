// Package pluginruntime executes Lua plugins. The same runtime backs the
// plugin worker process and the in-process fallback used when a worker cannot
// be started.
//
// A plugin file returns a table:
//
//	return {
//	  id = "reviews", name = "Reviews", version = "1.2.0",
//	  hooks = { ["order.created"] = function(payload, meta) ... end },
//	  routes = { ["GET /list"] = function(req) return { status = 200, body = {...} } end },
//	  register = function(tenant_id, ctx) host.log("info", "ready") end,
//	}
//
// The global host table exposes log(level, msg) and register_hook(name[, fn]).
package pluginruntime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

const DefaultCallTimeout = 10 * time.Second

var ErrInvalidPlugin = errors.New("plugin file must return a table")

// Emitter receives messages a plugin produces on its own.
type Emitter interface {
	Log(entry pluginapi.LogEntry)
	RegisteredHook(hook string)
}

// EmitterFuncs adapts plain functions to Emitter. Nil fields are ignored.
type EmitterFuncs struct {
	LogFunc  func(entry pluginapi.LogEntry)
	HookFunc func(hook string)
}

func (e EmitterFuncs) Log(entry pluginapi.LogEntry) {
	if e.LogFunc != nil {
		e.LogFunc(entry)
	}
}

func (e EmitterFuncs) RegisteredHook(hook string) {
	if e.HookFunc != nil {
		e.HookFunc(hook)
	}
}

// Runtime holds one loaded plugin. It is not safe for concurrent use.
type Runtime struct {
	id          string
	path        string
	L           *lua.LState
	plugin      *lua.LTable
	emit        Emitter
	callTimeout time.Duration

	hooks    map[string]*lua.LFunction
	enabled  map[string]bool
	routes   map[string]*lua.LFunction
	tenantID uint
}

// Load evaluates the plugin file in a restricted Lua state.
func Load(ctx context.Context, path, id string, emit Emitter) (*Runtime, error) {
	if emit == nil {
		emit = EmitterFuncs{}
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	rt := &Runtime{
		id:          id,
		path:        path,
		L:           L,
		emit:        emit,
		callTimeout: DefaultCallTimeout,
		hooks:       make(map[string]*lua.LFunction),
		enabled:     make(map[string]bool),
		routes:      make(map[string]*lua.LFunction),
	}
	rt.installHost()

	fn, err := L.LoadFile(path)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("load plugin %s: %w", path, err)
	}
	ret, err := rt.call(ctx, fn)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("evaluate plugin %s: %w", path, err)
	}
	table, ok := ret.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlugin, path)
	}
	rt.plugin = table

	if declared := luaString(table.RawGetString("id")); declared != "" {
		rt.id = declared
	}
	if hooks, ok := table.RawGetString("hooks").(*lua.LTable); ok {
		hooks.ForEach(func(k, v lua.LValue) {
			if fn, ok := v.(*lua.LFunction); ok {
				rt.hooks[k.String()] = fn
			}
		})
	}
	if routes, ok := table.RawGetString("routes").(*lua.LTable); ok {
		routes.ForEach(func(k, v lua.LValue) {
			def, ok := pluginapi.ParseRouteKey(k.String())
			fn, isFn := v.(*lua.LFunction)
			if ok && isFn {
				rt.routes[def.Key()] = fn
			}
		})
	}
	return rt, nil
}

// SetCallTimeout bounds every Lua invocation.
func (r *Runtime) SetCallTimeout(d time.Duration) {
	if d > 0 {
		r.callTimeout = d
	}
}

func (r *Runtime) ID() string { return r.id }

// Metadata reports the declared plugin information.
func (r *Runtime) Metadata() *pluginapi.Metadata {
	t := r.plugin
	md := &pluginapi.Metadata{
		ID:             r.id,
		Name:           luaString(t.RawGetString("name")),
		Version:        luaString(t.RawGetString("version")),
		Description:    luaString(t.RawGetString("description")),
		MinCoreVersion: firstString(t, "minCoreVersion", "min_core_version"),
		MaxCoreVersion: firstString(t, "maxCoreVersion", "max_core_version"),
		Dependencies:   stringList(t.RawGetString("dependencies")),
		Hooks:          r.hookNames(),
		Routes:         r.routeDefs(),
	}
	if md.Name == "" {
		md.Name = r.id
	}
	return md
}

// Register runs the plugin's register function for a tenant.
func (r *Runtime) Register(ctx context.Context, tenantID uint, pctx map[string]any) (*pluginapi.Registration, error) {
	r.tenantID = tenantID
	r.L.SetGlobal("tenant_id", lua.LNumber(tenantID))

	if fn, ok := r.plugin.RawGetString("register").(*lua.LFunction); ok {
		if _, err := r.call(ctx, fn, lua.LNumber(tenantID), toLua(r.L, pctx)); err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
	}
	return &pluginapi.Registration{Hooks: r.hookNames(), Routes: r.routeDefs()}, nil
}

// EnableHook marks a hook as subscribed by the host.
func (r *Runtime) EnableHook(hook string) {
	if !r.enabled[hook] {
		r.enabled[hook] = true
		r.emit.RegisteredHook(hook)
	}
}

// EnsureRoute fails when the plugin does not declare method+path.
func (r *Runtime) EnsureRoute(method, path string) error {
	key := pluginapi.RouteKey(method, path)
	if _, ok := r.routes[key]; !ok {
		return fmt.Errorf("%w: %s", pluginapi.ErrRouteNotFound, key)
	}
	return nil
}

// CallRoute invokes a declared route handler.
func (r *Runtime) CallRoute(ctx context.Context, method, path string, req pluginapi.RouteRequest) (*pluginapi.RouteResponse, error) {
	key := pluginapi.RouteKey(method, path)
	fn, ok := r.routes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pluginapi.ErrRouteNotFound, key)
	}

	reqValue, err := Normalize(req)
	if err != nil {
		return nil, err
	}
	ret, err := r.call(ctx, fn, toLua(r.L, reqValue))
	if err != nil {
		return nil, err
	}
	return toRouteResponse(ret), nil
}

// CallHook invokes the plugin's handler for hook. A non-nil return value is
// reported as a modification.
func (r *Runtime) CallHook(ctx context.Context, hook string, payload any, meta pluginapi.HookMeta) (*pluginapi.HookResult, error) {
	fn, ok := r.hooks[hook]
	if !ok || !r.enabled[hook] {
		return &pluginapi.HookResult{}, nil
	}

	metaValue, err := Normalize(meta)
	if err != nil {
		return nil, err
	}
	ret, err := r.call(ctx, fn, toLua(r.L, payload), toLua(r.L, metaValue))
	if err != nil {
		return nil, err
	}
	if ret == lua.LNil {
		return &pluginapi.HookResult{}, nil
	}
	return &pluginapi.HookResult{Modified: true, Payload: toGo(ret)}, nil
}

func (r *Runtime) Close() {
	r.L.Close()
}

func (r *Runtime) call(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", pluginapi.ErrTimeout, err)
		}
		return nil, err
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	return ret, nil
}

func (r *Runtime) installHost() {
	host := r.L.NewTable()
	r.L.SetField(host, "plugin_id", lua.LString(r.id))
	r.L.SetField(host, "log", r.L.NewFunction(func(L *lua.LState) int {
		level := strings.ToLower(L.CheckString(1))
		msg := L.OptString(2, "")
		switch level {
		case "debug", "info", "warn", "error":
		default:
			level = "info"
		}
		r.emit.Log(pluginapi.LogEntry{Level: level, Message: msg})
		return 0
	}))
	r.L.SetField(host, "register_hook", r.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if fn, ok := L.Get(2).(*lua.LFunction); ok {
			r.hooks[name] = fn
		}
		r.EnableHook(name)
		return 0
	}))
	r.L.SetGlobal("host", host)

	// stdout belongs to the protocol; print becomes an info log
	r.L.SetGlobal("print", r.L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		r.emit.Log(pluginapi.LogEntry{Level: "info", Message: strings.Join(parts, "\t")})
		return 0
	}))
}

func (r *Runtime) hookNames() []string {
	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) routeDefs() []pluginapi.RouteDef {
	keys := make([]string, 0, len(r.routes))
	for key := range r.routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	defs := make([]pluginapi.RouteDef, 0, len(keys))
	for _, key := range keys {
		def, _ := pluginapi.ParseRouteKey(key)
		defs = append(defs, def)
	}
	return defs
}

// openSafeLibraries opens base, table, string and math only. io, os, debug
// and package stay closed and the file loaders are removed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func toRouteResponse(ret lua.LValue) *pluginapi.RouteResponse {
	t, ok := ret.(*lua.LTable)
	if !ok {
		return (&pluginapi.RouteResponse{Body: toGo(ret)}).WithDefaults()
	}

	status := t.RawGetString("status")
	body := t.RawGetString("body")
	headers := t.RawGetString("headers")
	if status == lua.LNil && body == lua.LNil && headers == lua.LNil {
		return (&pluginapi.RouteResponse{Body: toGo(t)}).WithDefaults()
	}

	resp := &pluginapi.RouteResponse{
		Body:    toGo(body),
		Headers: stringMap(headers),
	}
	if n, ok := status.(lua.LNumber); ok {
		resp.Status = int(n)
	}
	return resp.WithDefaults()
}

func luaString(lv lua.LValue) string {
	if s, ok := lv.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func firstString(t *lua.LTable, keys ...string) string {
	for _, k := range keys {
		if s := luaString(t.RawGetString(k)); s != "" {
			return s
		}
	}
	return ""
}
