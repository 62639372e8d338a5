// Package pluginapi is the contract between the host and plugin code. Every
// plugin implementation, whether it runs in a worker process or in process,
// is driven through the Plugin interface and the messages defined here.
package pluginapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeout       = errors.New("plugin call timed out")
	ErrRouteNotFound = errors.New("plugin route not found")
)

// Error codes carried in Envelope.Code so sentinel errors survive the
// process boundary.
const (
	CodeTimeout       = "timeout"
	CodeRouteNotFound = "route_not_found"
)

// Plugin is the capability-scoped surface the host uses to talk to a plugin.
type Plugin interface {
	ID() string
	Metadata(ctx context.Context) (*Metadata, error)
	Register(ctx context.Context, tenantID uint, pctx map[string]any) (*Registration, error)
	RegisterHook(ctx context.Context, hook string) error
	RegisterRoute(ctx context.Context, method, path string) error
	CallRoute(ctx context.Context, method, path string, req RouteRequest) (*RouteResponse, error)
	CallHook(ctx context.Context, hook string, payload any, meta HookMeta) (*HookResult, error)
	Stop() error
}

// Metadata is what a plugin declares about itself.
type Metadata struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Version        string     `json:"version"`
	Description    string     `json:"description,omitempty"`
	MinCoreVersion string     `json:"minCoreVersion,omitempty"`
	MaxCoreVersion string     `json:"maxCoreVersion,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	Hooks          []string   `json:"hooks,omitempty"`
	Routes         []RouteDef `json:"routes,omitempty"`
}

// Registration is returned after a plugin was registered for a tenant.
type Registration struct {
	Hooks  []string   `json:"hooks,omitempty"`
	Routes []RouteDef `json:"routes,omitempty"`
}

type RouteDef struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Key is the canonical "METHOD /path" form used in plugin route tables.
func (r RouteDef) Key() string {
	return RouteKey(r.Method, r.Path)
}

// RouteKey normalises a method and path pair.
func RouteKey(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + NormalizePath(path)
}

// NormalizePath makes sure the path starts with a slash and has no trailing one.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// ParseRouteKey splits "METHOD /path".
func ParseRouteKey(key string) (RouteDef, bool) {
	method, path, ok := strings.Cut(strings.TrimSpace(key), " ")
	if !ok || method == "" {
		return RouteDef{}, false
	}
	return RouteDef{Method: strings.ToUpper(method), Path: NormalizePath(path)}, true
}

// RouteRequest is the request handed to a plugin route handler.
type RouteRequest struct {
	Method   string            `json:"method"`
	Path     string            `json:"path"`
	Query    map[string]string `json:"query,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     any               `json:"body,omitempty"`
	TenantID uint              `json:"tenantId"`
}

// RouteResponse is what a plugin route handler answers. Zero values mean
// 200 with an empty JSON object.
type RouteResponse struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// WithDefaults fills in the 200/{} defaults.
func (r *RouteResponse) WithDefaults() *RouteResponse {
	out := RouteResponse{}
	if r != nil {
		out = *r
	}
	if out.Status == 0 {
		out.Status = 200
	}
	if out.Body == nil {
		out.Body = map[string]any{}
	}
	return &out
}

// HookMeta travels with every hook invocation.
type HookMeta struct {
	TenantID uint           `json:"tenantId,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// HookResult reports whether a sandboxed handler changed the payload.
type HookResult struct {
	Modified bool `json:"modified"`
	Payload  any  `json:"payload,omitempty"`
}

type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Message types exchanged with the worker process.
const (
	// worker -> host
	TypeReady          = "ready"
	TypeLog            = "log"
	TypeRegisteredHook = "registeredHook"
	TypeResponse       = "response"

	// host -> worker
	TypeMetadata      = "metadata"
	TypeRegister      = "register"
	TypeRegisterHook  = "registerHook"
	TypeRegisterRoute = "registerRoute"
	TypeCallRoute     = "callRoute"
	TypeCallHook      = "callHook"
)

// Envelope is one line of the line-delimited JSON protocol. Requests carry a
// correlation ID that the response echoes back.
type Envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Err rebuilds the error carried by a response envelope.
func (e Envelope) Err() error {
	if e.Error == "" && e.Code == "" {
		return nil
	}
	switch e.Code {
	case CodeTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, e.Error)
	case CodeRouteNotFound:
		return fmt.Errorf("%w: %s", ErrRouteNotFound, e.Error)
	}
	return errors.New(e.Error)
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrRouteNotFound):
		return CodeRouteNotFound
	}
	return ""
}

type RegisterRequest struct {
	TenantID uint           `json:"tenantId"`
	Context  map[string]any `json:"context,omitempty"`
}

type HookRequest struct {
	Hook    string   `json:"hook"`
	Payload any      `json:"payload,omitempty"`
	Meta    HookMeta `json:"meta"`
}

type RouteCall struct {
	Method  string       `json:"method"`
	Path    string       `json:"path"`
	Request RouteRequest `json:"request"`
}

// HookName is the body of registerHook requests and registeredHook notices.
type HookName struct {
	Hook string `json:"hook"`
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(typ, id string, data any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return env, err
		}
		env.Data = raw
	}
	return env, nil
}
