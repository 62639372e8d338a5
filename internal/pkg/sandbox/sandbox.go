// Package sandbox supervises plugin worker processes. Each Sandbox owns one
// OS process speaking line-delimited JSON over stdin/stdout and exposes the
// pluginapi.Plugin RPCs with correlation ids and fixed timeouts.
package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/Tenantly/internal/pkg/besteffort"
	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

const (
	DefaultStartTimeout   = 3 * time.Second
	DefaultRequestTimeout = 10 * time.Second

	maxLineSize = 4 * 1024 * 1024
)

var (
	ErrStartTimeout   = errors.New("sandbox did not become ready in time")
	ErrRequestTimeout = fmt.Errorf("sandbox request timed out: %w", pluginapi.ErrTimeout)
	ErrSandboxStopped = errors.New("sandbox stopped")
	ErrNotReady       = errors.New("sandbox is not ready")
	ErrWorkerExited   = errors.New("sandbox worker exited")
)

type State int32

const (
	StateCreated State = iota
	StateStarting
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// LogSink persists a plugin log line. Failures are swallowed.
type LogSink func(pluginID string, tenantID *uint, entry pluginapi.LogEntry) error

// CommandFunc builds the worker command for a plugin file.
type CommandFunc func(pluginPath, pluginID string) *exec.Cmd

type Options struct {
	// WorkerPath is the plugin-worker binary used by the default command.
	WorkerPath     string
	Command        CommandFunc
	StartTimeout   time.Duration
	RequestTimeout time.Duration
	LogSink        LogSink
	// TenantID scopes log rows to the tenant this sandbox serves.
	TenantID *uint
}

type result struct {
	env pluginapi.Envelope
	err error
}

// Sandbox is safe for concurrent use.
type Sandbox struct {
	pluginID   string
	pluginPath string
	opts       Options

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan result

	writeMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
	stopOnce  sync.Once
}

var _ pluginapi.Plugin = (*Sandbox)(nil)

// New creates a sandbox in the created state.
func New(pluginPath, pluginID string, opts Options) *Sandbox {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Command == nil {
		worker := opts.WorkerPath
		if worker == "" {
			worker = "plugin-worker"
		}
		opts.Command = func(pluginPath, pluginID string) *exec.Cmd {
			return exec.Command(worker, "--plugin", pluginPath, "--id", pluginID)
		}
	}
	return &Sandbox{
		pluginID:   pluginID,
		pluginPath: pluginPath,
		opts:       opts,
		state:      StateCreated,
		pending:    make(map[string]chan result),
		ready:      make(chan struct{}),
		exited:     make(chan struct{}),
	}
}

func (s *Sandbox) ID() string { return s.pluginID }

func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of in-flight requests.
func (s *Sandbox) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start spawns the worker and waits for its ready signal.
func (s *Sandbox) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("sandbox %s cannot start from state %s", s.pluginID, state)
	}
	s.state = StateStarting

	cmd := s.opts.Command(s.pluginPath, s.pluginID)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("sandbox %s stdin: %w", s.pluginID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("sandbox %s stdout: %w", s.pluginID, err)
	}
	if err := cmd.Start(); err != nil {
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("sandbox %s spawn: %w", s.pluginID, err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.mu.Unlock()

	metrics.SandboxesRunning.Inc()
	go s.readLoop(stdout)

	timer := time.NewTimer(s.opts.StartTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		s.mu.Lock()
		if s.state == StateStarting {
			s.state = StateReady
		}
		s.mu.Unlock()
		log.Debugf("[Sandbox] %s ready (pid %d)", s.pluginID, cmd.Process.Pid)
		return nil
	case <-s.exited:
		_ = s.Stop()
		return fmt.Errorf("%w before ready: %s", ErrWorkerExited, s.pluginID)
	case <-timer.C:
		_ = s.Stop()
		return fmt.Errorf("%w: %s after %s", ErrStartTimeout, s.pluginID, s.opts.StartTimeout)
	case <-ctx.Done():
		_ = s.Stop()
		return ctx.Err()
	}
}

// Stop kills the worker and rejects every pending request. In-flight work
// is abandoned.
func (s *Sandbox) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.cmd != nil
		s.state = StateStopped
		pending := s.pending
		s.pending = make(map[string]chan result)
		cmd := s.cmd
		stdin := s.stdin
		s.mu.Unlock()

		for _, ch := range pending {
			ch <- result{err: ErrSandboxStopped}
		}

		if !started {
			return
		}
		if stdin != nil {
			_ = stdin.Close()
		}
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		select {
		case <-s.exited:
		case <-time.After(2 * time.Second):
			log.Warnf("[Sandbox] %s did not exit after kill", s.pluginID)
		}
		metrics.SandboxesRunning.Dec()
	})
	return nil
}

func (s *Sandbox) readLoop(stdout io.Reader) {
	defer func() {
		if s.cmd != nil {
			_ = s.cmd.Wait()
		}
		s.failPending(ErrWorkerExited)
		close(s.exited)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var env pluginapi.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			log.Debugf("[Sandbox] %s dropped malformed message: %v", s.pluginID, err)
			continue
		}
		s.dispatch(env)
	}
	if err := scanner.Err(); err != nil {
		log.Warnf("[Sandbox] %s read error: %v", s.pluginID, err)
	}
}

func (s *Sandbox) dispatch(env pluginapi.Envelope) {
	switch env.Type {
	case pluginapi.TypeReady:
		s.readyOnce.Do(func() { close(s.ready) })

	case pluginapi.TypeLog:
		var entry pluginapi.LogEntry
		if err := json.Unmarshal(env.Data, &entry); err != nil {
			return
		}
		s.mirrorLog(entry)
		if s.opts.LogSink != nil {
			besteffort.Do("PluginLog", func() error {
				return s.opts.LogSink(s.pluginID, s.opts.TenantID, entry)
			})
		}

	case pluginapi.TypeRegisteredHook:
		var body pluginapi.HookName
		if err := json.Unmarshal(env.Data, &body); err == nil {
			log.Debugf("[Sandbox] %s registered hook %s", s.pluginID, body.Hook)
		}

	case pluginapi.TypeResponse:
		s.resolve(env.ID, result{env: env})

	default:
		log.Debugf("[Sandbox] %s dropped unknown message type %q", s.pluginID, env.Type)
	}
}

func (s *Sandbox) mirrorLog(entry pluginapi.LogEntry) {
	switch entry.Level {
	case "error":
		log.Errorf("[Plugin:%s] %s", s.pluginID, entry.Message)
	case "warn":
		log.Warnf("[Plugin:%s] %s", s.pluginID, entry.Message)
	case "debug":
		log.Debugf("[Plugin:%s] %s", s.pluginID, entry.Message)
	default:
		log.Infof("[Plugin:%s] %s", s.pluginID, entry.Message)
	}
}

// resolve settles a pending request. Unknown ids (late or foreign
// responses) are dropped.
func (s *Sandbox) resolve(id string, r result) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		log.Debugf("[Sandbox] %s dropped unmatched response %s", s.pluginID, id)
		return
	}
	ch <- r
}

func (s *Sandbox) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan result)
	if s.state != StateStopped {
		s.state = StateStopped
	}
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (s *Sandbox) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// request sends one RPC and waits for the correlated response.
func (s *Sandbox) request(ctx context.Context, typ string, data, out any) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrRequestTimeout):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		timer.ObserveDurationVec(metrics.SandboxRPCDuration, typ, outcome)
	}()

	id := uuid.NewString()
	env, err := pluginapi.NewEnvelope(typ, id, data)
	if err != nil {
		return err
	}
	line, err := json.Marshal(env)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	ch := make(chan result, 1)
	s.mu.Lock()
	switch s.state {
	case StateReady:
	case StateStopped:
		s.mu.Unlock()
		return ErrSandboxStopped
	default:
		s.mu.Unlock()
		return ErrNotReady
	}
	s.pending[id] = ch
	stdin := s.stdin
	s.mu.Unlock()

	s.writeMu.Lock()
	_, err = stdin.Write(line)
	s.writeMu.Unlock()
	if err != nil {
		s.forget(id)
		return fmt.Errorf("sandbox %s write: %w", s.pluginID, err)
	}

	deadline := time.NewTimer(s.opts.RequestTimeout)
	defer deadline.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if err := r.env.Err(); err != nil {
			return err
		}
		if out != nil && len(r.env.Data) > 0 {
			if err := json.Unmarshal(r.env.Data, out); err != nil {
				return fmt.Errorf("sandbox %s decode %s response: %w", s.pluginID, typ, err)
			}
		}
		return nil
	case <-deadline.C:
		s.forget(id)
		return fmt.Errorf("%w: %s %s after %s", ErrRequestTimeout, s.pluginID, typ, s.opts.RequestTimeout)
	case <-ctx.Done():
		s.forget(id)
		return ctx.Err()
	}
}

func (s *Sandbox) Metadata(ctx context.Context) (*pluginapi.Metadata, error) {
	var md pluginapi.Metadata
	if err := s.request(ctx, pluginapi.TypeMetadata, nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

func (s *Sandbox) Register(ctx context.Context, tenantID uint, pctx map[string]any) (*pluginapi.Registration, error) {
	var reg pluginapi.Registration
	err := s.request(ctx, pluginapi.TypeRegister, pluginapi.RegisterRequest{TenantID: tenantID, Context: pctx}, &reg)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *Sandbox) RegisterHook(ctx context.Context, hook string) error {
	return s.request(ctx, pluginapi.TypeRegisterHook, pluginapi.HookName{Hook: hook}, nil)
}

func (s *Sandbox) RegisterRoute(ctx context.Context, method, path string) error {
	return s.request(ctx, pluginapi.TypeRegisterRoute, pluginapi.RouteDef{Method: method, Path: path}, nil)
}

func (s *Sandbox) CallRoute(ctx context.Context, method, path string, req pluginapi.RouteRequest) (*pluginapi.RouteResponse, error) {
	var resp pluginapi.RouteResponse
	call := pluginapi.RouteCall{Method: method, Path: path, Request: req}
	if err := s.request(ctx, pluginapi.TypeCallRoute, call, &resp); err != nil {
		return nil, err
	}
	return resp.WithDefaults(), nil
}

func (s *Sandbox) CallHook(ctx context.Context, hook string, payload any, meta pluginapi.HookMeta) (*pluginapi.HookResult, error) {
	var res pluginapi.HookResult
	if err := s.request(ctx, pluginapi.TypeCallHook, pluginapi.HookRequest{Hook: hook, Payload: payload, Meta: meta}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
