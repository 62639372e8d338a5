package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/retry"
)

var fastPolicy = retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 5}

func newWebhookRepo(t *testing.T) repository.WebhookRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "webhooks.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.PlatformModels()...))
	return repository.NewWebhookRepository(db)
}

// flakyServer fails the first n requests with 503.
func flakyServer(t *testing.T, n int32, secret string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.Equal(t, Sign(secret, raw), r.Header.Get(HeaderSignature))
		assert.Equal(t, "order.created", r.Header.Get(HeaderEvent))

		if calls.Add(1) <= n {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDeliver_FailuresThenSuccess(t *testing.T) {
	for _, failures := range []int32{0, 1, 3} {
		repo := newWebhookRepo(t)
		srv, calls := flakyServer(t, failures, "s3cret")
		endpoint := &models.WebhookEndpoint{TenantID: 1, Event: "order.created", URL: srv.URL, Secret: "s3cret"}
		require.NoError(t, repo.CreateEndpoint(endpoint))

		d := NewDispatcher(repo, fastPolicy)
		attempts, err := d.Deliver(context.Background(), endpoint, &jobqueue.WebhookDeliveryPayload{
			EndpointID: endpoint.ID, TenantID: 1, Event: "order.created",
			Data: map[string]interface{}{"order_id": 42},
		})
		require.NoError(t, err)
		assert.Equal(t, int(failures)+1, attempts)
		assert.Equal(t, failures+1, calls.Load())

		logs, err := repo.ListLogs(endpoint.ID)
		require.NoError(t, err)
		require.Len(t, logs, int(failures)+1)

		var failed, succeeded int
		for i, entry := range logs {
			assert.Equal(t, i+1, entry.Attempt)
			if entry.Success {
				succeeded++
				assert.Equal(t, http.StatusNoContent, entry.StatusCode)
			} else {
				failed++
				assert.Equal(t, http.StatusServiceUnavailable, entry.StatusCode)
				assert.NotEmpty(t, entry.Error)
			}
		}
		assert.Equal(t, int(failures), failed)
		assert.Equal(t, 1, succeeded)
	}
}

func TestDeliver_Exhausted(t *testing.T) {
	repo := newWebhookRepo(t)
	srv, _ := flakyServer(t, 100, "")
	endpoint := &models.WebhookEndpoint{TenantID: 1, Event: "order.created", URL: srv.URL}
	require.NoError(t, repo.CreateEndpoint(endpoint))

	policy := fastPolicy
	policy.MaxAttempts = 3
	attempts, err := NewDispatcher(repo, policy).Deliver(context.Background(), endpoint, &jobqueue.WebhookDeliveryPayload{Event: "order.created", TenantID: 1})
	assert.ErrorIs(t, err, ErrDeliveryExhausted)
	assert.Equal(t, 3, attempts)

	logs, err := repo.ListLogs(endpoint.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, entry := range logs {
		assert.False(t, entry.Success)
	}
}

func TestHandleJob(t *testing.T) {
	repo := newWebhookRepo(t)
	srv, calls := flakyServer(t, 0, "")
	d := NewDispatcher(repo, fastPolicy)

	missing := &jobqueue.Job{Payload: jobqueue.WebhookDeliveryPayload{EndpointID: 99, TenantID: 1, Event: "order.created"}.ToMap()}
	assert.ErrorIs(t, d.HandleJob(context.Background(), missing), jobqueue.ErrPermanent)

	endpoint := &models.WebhookEndpoint{TenantID: 1, Event: "order.created", URL: srv.URL}
	require.NoError(t, repo.CreateEndpoint(endpoint))

	foreign := &jobqueue.Job{Payload: jobqueue.WebhookDeliveryPayload{EndpointID: endpoint.ID, TenantID: 2, Event: "order.created"}.ToMap()}
	require.NoError(t, d.HandleJob(context.Background(), foreign))
	assert.Zero(t, calls.Load(), "endpoints of another tenant are never called")

	job := &jobqueue.Job{Payload: jobqueue.WebhookDeliveryPayload{EndpointID: endpoint.ID, TenantID: 1, Event: "order.created"}.ToMap()}
	require.NoError(t, d.HandleJob(context.Background(), job))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPublish(t *testing.T) {
	repo := newWebhookRepo(t)
	s := miniredis.RunT(t)
	queue := jobqueue.NewQueue(redis.NewClient(&redis.Options{Addr: s.Addr()}), 1)

	require.NoError(t, repo.CreateEndpoint(&models.WebhookEndpoint{TenantID: 1, Event: "order.created", URL: "https://a.example.com/hook"}))
	require.NoError(t, repo.CreateEndpoint(&models.WebhookEndpoint{TenantID: 1, Event: "order.created", URL: "https://b.example.com/hook"}))
	require.NoError(t, repo.CreateEndpoint(&models.WebhookEndpoint{TenantID: 1, Event: "tenant.created", URL: "https://c.example.com/hook"}))
	require.NoError(t, repo.CreateEndpoint(&models.WebhookEndpoint{TenantID: 2, Event: "order.created", URL: "https://d.example.com/hook"}))

	n, err := NewPublisher(repo, queue).Publish(context.Background(), 1, "order.created", map[string]interface{}{"order_id": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	size, err := queue.GetQueueSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestSign(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"a": "b"})
	sig := Sign("key", body)
	assert.Len(t, sig, len("sha256=")+64)
	assert.Equal(t, sig, Sign("key", body))
	assert.NotEqual(t, sig, Sign("other", body))
}
