package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginruntime"
)

const (
	workerModeEnv   = "TENANTLY_SANDBOX_TEST_WORKER"
	workerPluginEnv = "TENANTLY_SANDBOX_TEST_PLUGIN"
	workerIDEnv     = "TENANTLY_SANDBOX_TEST_ID"

	reviewsPlugin = "../pluginruntime/testdata/reviews.lua"
)

// TestMain doubles as the worker process: the sandbox re-executes the test
// binary with workerModeEnv set.
func TestMain(m *testing.M) {
	switch os.Getenv(workerModeEnv) {
	case "":
		os.Exit(m.Run())
	case "lua":
		err := pluginruntime.RunWorker(context.Background(), os.Getenv(workerPluginEnv), os.Getenv(workerIDEnv), os.Stdin, os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "silent":
		_, _ = bufio.NewReader(os.Stdin).ReadString(0)
		os.Exit(0)
	case "echo":
		runEchoWorker(false)
	case "crash":
		runEchoWorker(true)
	}
}

func runEchoWorker(crashOnRequest bool) {
	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	write := func(env pluginapi.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(env)
	}

	fmt.Fprintln(os.Stdout, "this is not json")
	write(pluginapi.Envelope{Type: pluginapi.TypeReady})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if crashOnRequest {
			os.Exit(3)
		}
		var req pluginapi.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		var call pluginapi.RouteCall
		_ = json.Unmarshal(req.Data, &call)

		go func() {
			switch call.Path {
			case "/slow":
				time.Sleep(300 * time.Millisecond)
			case "/hang":
				return
			case "/foreign":
				write(pluginapi.Envelope{Type: pluginapi.TypeResponse, ID: "not-a-request"})
			}
			env, _ := pluginapi.NewEnvelope(pluginapi.TypeResponse, req.ID, pluginapi.RouteResponse{Status: 200, Body: call.Path})
			write(env)
		}()
	}
	os.Exit(0)
}

func helperCommand(mode string) CommandFunc {
	return func(pluginPath, pluginID string) *exec.Cmd {
		cmd := exec.Command(os.Args[0])
		cmd.Env = append(os.Environ(),
			workerModeEnv+"="+mode,
			workerPluginEnv+"="+pluginPath,
			workerIDEnv+"="+pluginID,
		)
		return cmd
	}
}

type logRecorder struct {
	mu      sync.Mutex
	entries []pluginapi.LogEntry
	tenants []*uint
}

func (r *logRecorder) sink(pluginID string, tenantID *uint, entry pluginapi.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	r.tenants = append(r.tenants, tenantID)
	return nil
}

func startSandbox(t *testing.T, mode string, opts Options) *Sandbox {
	t.Helper()
	opts.Command = helperCommand(mode)
	sb := New(reviewsPlugin, "reviews", opts)
	require.NoError(t, sb.Start(context.Background()))
	t.Cleanup(func() { _ = sb.Stop() })
	return sb
}

func TestLuaWorkerRoundTrip(t *testing.T) {
	rec := &logRecorder{}
	tenantID := uint(7)
	sb := startSandbox(t, "lua", Options{LogSink: rec.sink, TenantID: &tenantID})
	ctx := context.Background()

	assert.Equal(t, StateReady, sb.State())

	md, err := sb.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reviews", md.ID)
	assert.Equal(t, "1.2.0", md.Version)

	reg, err := sb.Register(ctx, 7, map[string]any{"region": "eu"})
	require.NoError(t, err)
	assert.Contains(t, reg.Hooks, "product.viewed")

	rec.mu.Lock()
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "registered for tenant 7 in eu", rec.entries[0].Message)
	assert.Equal(t, &tenantID, rec.tenants[0])
	rec.mu.Unlock()

	require.NoError(t, sb.RegisterHook(ctx, "page.render"))
	res, err := sb.CallHook(ctx, "page.render", map[string]any{"content": "a"}, pluginapi.HookMeta{TenantID: 7})
	require.NoError(t, err)
	assert.True(t, res.Modified)
	assert.Equal(t, map[string]any{"content": "a<!-- reviews -->"}, res.Payload)

	require.NoError(t, sb.RegisterRoute(ctx, "GET", "/list"))
	assert.ErrorIs(t, sb.RegisterRoute(ctx, "GET", "/missing"), pluginapi.ErrRouteNotFound)

	resp, err := sb.CallRoute(ctx, "GET", "/empty", pluginapi.RouteRequest{TenantID: 7})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{}, resp.Body)

	require.NoError(t, sb.Stop())
	assert.Equal(t, StateStopped, sb.State())
	_, err = sb.CallRoute(ctx, "GET", "/list", pluginapi.RouteRequest{})
	assert.ErrorIs(t, err, ErrSandboxStopped)
}

func TestStartTimeout(t *testing.T) {
	sb := New(reviewsPlugin, "reviews", Options{
		Command:      helperCommand("silent"),
		StartTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	err := sb.Start(context.Background())
	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateStopped, sb.State())
}

func TestWorkerExitBeforeReady(t *testing.T) {
	sb := New("does-not-exist.lua", "ghost", Options{Command: helperCommand("lua")})
	err := sb.Start(context.Background())
	assert.ErrorIs(t, err, ErrWorkerExited)
}

func TestRequestBeforeStart(t *testing.T) {
	sb := New(reviewsPlugin, "reviews", Options{Command: helperCommand("echo")})
	_, err := sb.CallRoute(context.Background(), "GET", "/x", pluginapi.RouteRequest{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRequestTimeoutIgnoresLateResponse(t *testing.T) {
	sb := startSandbox(t, "echo", Options{RequestTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	_, err := sb.CallRoute(ctx, "GET", "/slow", pluginapi.RouteRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestTimeout))
	assert.True(t, errors.Is(err, pluginapi.ErrTimeout))
	assert.Equal(t, 0, sb.Pending())

	// let the late response arrive; it must not settle anything
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 0, sb.Pending())

	resp, err := sb.CallRoute(ctx, "GET", "/fast", pluginapi.RouteRequest{})
	require.NoError(t, err)
	assert.Equal(t, "/fast", resp.Body)
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	sb := startSandbox(t, "echo", Options{})

	resp, err := sb.CallRoute(context.Background(), "GET", "/foreign", pluginapi.RouteRequest{})
	require.NoError(t, err)
	assert.Equal(t, "/foreign", resp.Body)
}

func TestConcurrentRequestsAreCorrelated(t *testing.T) {
	sb := startSandbox(t, "echo", Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/item/%d", i)
			resp, err := sb.CallRoute(context.Background(), "GET", path, pluginapi.RouteRequest{})
			if assert.NoError(t, err) {
				assert.Equal(t, path, resp.Body)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, sb.Pending())
}

func TestStopRejectsPending(t *testing.T) {
	sb := startSandbox(t, "echo", Options{RequestTimeout: 5 * time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := sb.CallRoute(context.Background(), "GET", "/hang", pluginapi.RouteRequest{})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return sb.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, sb.Stop())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSandboxStopped)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected")
	}
}

func TestWorkerCrashRejectsPending(t *testing.T) {
	sb := startSandbox(t, "crash", Options{RequestTimeout: 5 * time.Second})

	_, err := sb.CallRoute(context.Background(), "GET", "/x", pluginapi.RouteRequest{})
	assert.ErrorIs(t, err, ErrWorkerExited)
	assert.Equal(t, StateStopped, sb.State())
}
