package pluginruntime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

// maxLineSize bounds one protocol message.
const maxLineSize = 4 * 1024 * 1024

// lineWriter serialises envelopes as one JSON document per line.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (w *lineWriter) send(env pluginapi.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(env)
}

func (w *lineWriter) notify(typ string, data any) {
	env, err := pluginapi.NewEnvelope(typ, "", data)
	if err != nil {
		return
	}
	if err := w.send(env); err != nil {
		log.Errorf("[PluginWorker] Failed to write %s message: %v", typ, err)
	}
}

func (w *lineWriter) Log(entry pluginapi.LogEntry) {
	w.notify(pluginapi.TypeLog, entry)
}

func (w *lineWriter) RegisteredHook(hook string) {
	w.notify(pluginapi.TypeRegisteredHook, pluginapi.HookName{Hook: hook})
}

// RunWorker loads the plugin, announces readiness and serves requests from
// in until it is closed. Any load failure ends the process before ready is
// sent, which the host sees as an early exit.
func RunWorker(ctx context.Context, pluginPath, pluginID string, in io.Reader, out io.Writer) error {
	w := newLineWriter(out)

	rt, err := Load(ctx, pluginPath, pluginID, w)
	if err != nil {
		return err
	}
	defer rt.Close()

	w.notify(pluginapi.TypeReady, map[string]string{"id": rt.ID()})
	return serve(ctx, rt, in, w)
}

// serve handles requests one at a time; the Lua state is single threaded.
func serve(ctx context.Context, rt *Runtime, in io.Reader, w *lineWriter) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var req pluginapi.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			log.Warnf("[PluginWorker] Dropping malformed message: %v", err)
			continue
		}
		if req.ID == "" {
			log.Warnf("[PluginWorker] Dropping %s message without id", req.Type)
			continue
		}

		resp := handle(ctx, rt, req)
		if err := w.send(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func handle(ctx context.Context, rt *Runtime, req pluginapi.Envelope) pluginapi.Envelope {
	result, err := dispatch(ctx, rt, req)
	if err != nil {
		return pluginapi.Envelope{
			Type:  pluginapi.TypeResponse,
			ID:    req.ID,
			Error: err.Error(),
			Code:  pluginapi.ErrorCode(err),
		}
	}
	env, err := pluginapi.NewEnvelope(pluginapi.TypeResponse, req.ID, result)
	if err != nil {
		return pluginapi.Envelope{Type: pluginapi.TypeResponse, ID: req.ID, Error: err.Error()}
	}
	return env
}

func dispatch(ctx context.Context, rt *Runtime, req pluginapi.Envelope) (any, error) {
	switch req.Type {
	case pluginapi.TypeMetadata:
		return rt.Metadata(), nil

	case pluginapi.TypeRegister:
		var body pluginapi.RegisterRequest
		if err := decode(req.Data, &body); err != nil {
			return nil, err
		}
		return rt.Register(ctx, body.TenantID, body.Context)

	case pluginapi.TypeRegisterHook:
		var body pluginapi.HookName
		if err := decode(req.Data, &body); err != nil {
			return nil, err
		}
		rt.EnableHook(body.Hook)
		return nil, nil

	case pluginapi.TypeRegisterRoute:
		var body pluginapi.RouteDef
		if err := decode(req.Data, &body); err != nil {
			return nil, err
		}
		return nil, rt.EnsureRoute(body.Method, body.Path)

	case pluginapi.TypeCallRoute:
		var body pluginapi.RouteCall
		if err := decode(req.Data, &body); err != nil {
			return nil, err
		}
		return rt.CallRoute(ctx, body.Method, body.Path, body.Request)

	case pluginapi.TypeCallHook:
		var body pluginapi.HookRequest
		if err := decode(req.Data, &body); err != nil {
			return nil, err
		}
		return rt.CallHook(ctx, body.Hook, body.Payload, body.Meta)
	}
	return nil, fmt.Errorf("unknown message type %q", req.Type)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
