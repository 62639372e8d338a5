package pluginruntime

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

var ErrStopped = errors.New("in-process plugin stopped")

// InProcess runs a plugin inside the host process. The loader falls back to it
// when a worker process cannot be started; it offers no crash isolation.
type InProcess struct {
	mu      sync.Mutex
	rt      *Runtime
	stopped bool
}

var _ pluginapi.Plugin = (*InProcess)(nil)

// NewInProcess loads the plugin file directly.
func NewInProcess(ctx context.Context, path, id string, emit Emitter) (*InProcess, error) {
	rt, err := Load(ctx, path, id, emit)
	if err != nil {
		return nil, err
	}
	return &InProcess{rt: rt}, nil
}

func (p *InProcess) ID() string {
	return p.rt.ID()
}

func (p *InProcess) Metadata(context.Context) (*pluginapi.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	return p.rt.Metadata(), nil
}

func (p *InProcess) Register(ctx context.Context, tenantID uint, pctx map[string]any) (*pluginapi.Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	normalized, err := Normalize(pctx)
	if err != nil {
		return nil, err
	}
	m, _ := normalized.(map[string]any)
	return p.rt.Register(ctx, tenantID, m)
}

func (p *InProcess) RegisterHook(_ context.Context, hook string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.rt.EnableHook(hook)
	return nil
}

func (p *InProcess) RegisterRoute(_ context.Context, method, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	return p.rt.EnsureRoute(method, path)
}

func (p *InProcess) CallRoute(ctx context.Context, method, path string, req pluginapi.RouteRequest) (*pluginapi.RouteResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	return p.rt.CallRoute(ctx, method, path, req)
}

// CallHook passes payload through JSON first so handlers see the same shape
// they would see in a worker process.
func (p *InProcess) CallHook(ctx context.Context, hook string, payload any, meta pluginapi.HookMeta) (*pluginapi.HookResult, error) {
	normalized, err := Normalize(payload)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	return p.rt.CallHook(ctx, hook, normalized, meta)
}

func (p *InProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	p.rt.Close()
	return nil
}
