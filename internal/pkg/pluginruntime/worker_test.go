package pluginruntime

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
)

type workerConn struct {
	in  *io.PipeWriter
	out *bufio.Scanner
}

func (c *workerConn) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(c.in, line+"\n")
	require.NoError(t, err)
}

func (c *workerConn) next(t *testing.T) pluginapi.Envelope {
	t.Helper()
	require.True(t, c.out.Scan(), "worker closed stdout")
	var env pluginapi.Envelope
	require.NoError(t, json.Unmarshal(c.out.Bytes(), &env))
	return env
}

func startWorker(t *testing.T) *workerConn {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- RunWorker(context.Background(), "testdata/reviews.lua", "reviews", inR, outW)
		outW.Close()
	}()
	t.Cleanup(func() {
		inW.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not exit after stdin closed")
		}
	})
	return &workerConn{in: inW, out: bufio.NewScanner(outR)}
}

func TestWorkerProtocol(t *testing.T) {
	c := startWorker(t)

	ready := c.next(t)
	assert.Equal(t, pluginapi.TypeReady, ready.Type)

	// malformed and id-less lines are dropped without a response
	c.send(t, `{not json`)
	c.send(t, `{"type":"metadata"}`)

	c.send(t, `{"type":"metadata","id":"m1"}`)
	resp := c.next(t)
	assert.Equal(t, pluginapi.TypeResponse, resp.Type)
	assert.Equal(t, "m1", resp.ID)
	var md pluginapi.Metadata
	require.NoError(t, json.Unmarshal(resp.Data, &md))
	assert.Equal(t, "reviews", md.ID)

	c.send(t, `{"type":"register","id":"r1","data":{"tenantId":4,"context":{"region":"eu"}}}`)
	logMsg := c.next(t)
	assert.Equal(t, pluginapi.TypeLog, logMsg.Type)
	hookMsg := c.next(t)
	assert.Equal(t, pluginapi.TypeRegisteredHook, hookMsg.Type)
	resp = c.next(t)
	assert.Equal(t, "r1", resp.ID)
	assert.Empty(t, resp.Error)

	c.send(t, `{"type":"registerRoute","id":"rr1","data":{"method":"GET","path":"/nope"}}`)
	resp = c.next(t)
	assert.ErrorIs(t, resp.Err(), pluginapi.ErrRouteNotFound)

	c.send(t, `{"type":"callRoute","id":"c1","data":{"method":"GET","path":"/list","request":{"tenantId":4}}}`)
	resp = c.next(t)
	var rr pluginapi.RouteResponse
	require.NoError(t, json.Unmarshal(resp.Data, &rr))
	assert.Equal(t, 200, rr.Status)

	c.send(t, `{"type":"bogus","id":"b1"}`)
	resp = c.next(t)
	assert.Contains(t, resp.Error, "unknown message type")
}
