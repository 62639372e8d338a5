// Package webhook delivers platform events to tenant-configured endpoints.
// Publishing only enqueues; delivery runs on the job queue with a fixed
// backoff schedule and one webhook_logs row per attempt.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/besteffort"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
	"github.com/ManuelReschke/Tenantly/internal/pkg/retry"
)

const (
	HeaderEvent     = "X-Tenantly-Event"
	HeaderSignature = "X-Tenantly-Signature"
	HeaderDelivery  = "X-Tenantly-Delivery"
	HeaderAttempt   = "X-Tenantly-Attempt"

	DefaultTimeout = 10 * time.Second
)

var ErrDeliveryExhausted = errors.New("webhook delivery exhausted")

// Body is the JSON document POSTed to an endpoint.
type Body struct {
	ID         string                 `json:"id"`
	Event      string                 `json:"event"`
	TenantID   uint                   `json:"tenant_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

// Sign returns the hex HMAC-SHA256 of body under secret, prefixed "sha256=".
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatcher performs deliveries.
type Dispatcher struct {
	client *resty.Client
	repo   repository.WebhookRepository
	policy retry.Policy
}

func NewDispatcher(repo repository.WebhookRepository, policy retry.Policy) *Dispatcher {
	client := resty.New().
		SetTimeout(DefaultTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Tenantly-Webhooks/1.0")
	return &Dispatcher{client: client, repo: repo, policy: policy}
}

// Deliver POSTs the event to the endpoint until it answers 2xx or the policy
// gives up. It returns the number of attempts made.
func (d *Dispatcher) Deliver(ctx context.Context, endpoint *models.WebhookEndpoint, p *jobqueue.WebhookDeliveryPayload) (int, error) {
	body := Body{
		ID:         uuid.New().String(),
		Event:      p.Event,
		TenantID:   endpoint.TenantID,
		OccurredAt: p.OccurredAt,
		Data:       p.Data,
	}
	if body.OccurredAt.IsZero() {
		body.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	signature := Sign(endpoint.Secret, raw)

	attempts, err := d.policy.Do(ctx, func(attempt int) error {
		status, sendErr := d.send(ctx, endpoint.URL, raw, body, signature, attempt)
		d.record(endpoint, p.Event, attempt, status, sendErr)
		return sendErr
	})
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("exhausted").Inc()
		log.Warnf("[Webhook] Delivery of %s to endpoint %d gave up after %d attempts: %v", p.Event, endpoint.ID, attempts, err)
		return attempts, fmt.Errorf("%w after %d attempts: %v", ErrDeliveryExhausted, attempts, err)
	}
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	return attempts, nil
}

func (d *Dispatcher) send(ctx context.Context, url string, raw []byte, body Body, signature string, attempt int) (int, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader(HeaderEvent, body.Event).
		SetHeader(HeaderSignature, signature).
		SetHeader(HeaderDelivery, body.ID).
		SetHeader(HeaderAttempt, strconv.Itoa(attempt)).
		SetBody(raw).
		Post(url)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return 0, err
	}
	if !resp.IsSuccess() {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return resp.StatusCode(), fmt.Errorf("endpoint answered %d", resp.StatusCode())
	}
	return resp.StatusCode(), nil
}

func (d *Dispatcher) record(endpoint *models.WebhookEndpoint, event string, attempt, status int, err error) {
	entry := &models.WebhookLog{
		EndpointID: endpoint.ID,
		TenantID:   endpoint.TenantID,
		Event:      event,
		Attempt:    attempt,
		Success:    err == nil,
		StatusCode: status,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	besteffort.Do("WebhookLog", func() error {
		return d.repo.CreateLog(entry)
	})
}

// HandleJob is the job queue handler for webhook deliveries. Exhausted
// deliveries and vanished endpoints are not retried by the queue.
func (d *Dispatcher) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	p, err := jobqueue.WebhookDeliveryPayloadFromMap(job.Payload)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	endpoint, err := d.repo.GetEndpoint(p.EndpointID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return jobqueue.Permanent(fmt.Errorf("endpoint %d no longer exists", p.EndpointID))
	}
	if err != nil {
		return err
	}
	if !endpoint.IsActive || endpoint.TenantID != p.TenantID {
		log.Debugf("[Webhook] Endpoint %d inactive, dropping %s", endpoint.ID, p.Event)
		return nil
	}
	if _, err := d.Deliver(ctx, endpoint, p); err != nil {
		return jobqueue.Permanent(err)
	}
	return nil
}

// Enqueuer is the part of the job queue the publisher needs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, tenantID uint, payload map[string]interface{}) (*jobqueue.Job, error)
}

// Publisher fans an event out to every matching endpoint of a tenant.
type Publisher struct {
	repo  repository.WebhookRepository
	queue Enqueuer
}

func NewPublisher(repo repository.WebhookRepository, queue Enqueuer) *Publisher {
	return &Publisher{repo: repo, queue: queue}
}

// Publish enqueues one delivery per active endpoint subscribed to event and
// returns how many were enqueued.
func (p *Publisher) Publish(ctx context.Context, tenantID uint, event string, data map[string]interface{}) (int, error) {
	endpoints, err := p.repo.ListActiveEndpointsForEvent(tenantID, event)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	n := 0
	for _, e := range endpoints {
		payload := jobqueue.WebhookDeliveryPayload{
			EndpointID: e.ID,
			TenantID:   tenantID,
			Event:      event,
			Data:       data,
			OccurredAt: now,
		}
		if _, err := p.queue.EnqueueJob(ctx, jobqueue.JobTypeWebhookDelivery, tenantID, payload.ToMap()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PublishBestEffort publishes without surfacing errors to the caller.
func (p *Publisher) PublishBestEffort(ctx context.Context, tenantID uint, event string, data map[string]interface{}) {
	besteffort.Do("WebhookPublish", func() error {
		_, err := p.Publish(ctx, tenantID, event, data)
		return err
	})
}
