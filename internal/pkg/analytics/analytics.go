// Package analytics tracks storefront events. Tracking enqueues; the
// persister writes the event into the tenant schema with backoff and records
// the outcome in analytics_logs.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/besteffort"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/retry"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

// Event names tracked by the platform itself.
const (
	EventPageView      = "page_view"
	EventProductView   = "product_view"
	EventCartItemAdded = "cart_item_added"
	EventCheckout      = "checkout"
)

const maxNameLength = 128

// Enqueuer is the part of the job queue the tracker needs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, tenantID uint, payload map[string]interface{}) (*jobqueue.Job, error)
}

type Tracker struct {
	queue Enqueuer
}

func NewTracker(queue Enqueuer) *Tracker {
	return &Tracker{queue: queue}
}

// Track enqueues an event and returns the enqueue error.
func (t *Tracker) Track(ctx context.Context, e jobqueue.AnalyticsEventPayload) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" || len(e.Name) > maxNameLength {
		return fmt.Errorf("invalid event name %q", e.Name)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := t.queue.EnqueueJob(ctx, jobqueue.JobTypeAnalyticsEvent, e.TenantID, e.ToMap())
	return err
}

// TrackBestEffort never fails the caller.
func (t *Tracker) TrackBestEffort(ctx context.Context, e jobqueue.AnalyticsEventPayload) {
	besteffort.Do("Analytics", func() error {
		return t.Track(ctx, e)
	})
}

// ConnectionSource hands out tenant database handles.
type ConnectionSource interface {
	GetConnectionAsync(ctx context.Context, tenantID uint) (*tenantdb.Handle, error)
}

type Persister struct {
	conns  ConnectionSource
	logs   repository.AnalyticsLogRepository
	policy retry.Policy
}

func NewPersister(conns ConnectionSource, logs repository.AnalyticsLogRepository, policy retry.Policy) *Persister {
	return &Persister{conns: conns, logs: logs, policy: policy}
}

// Persist writes one event, retrying on failure. One analytics_logs row is
// written for the final outcome.
func (p *Persister) Persist(ctx context.Context, e *jobqueue.AnalyticsEventPayload) (int, error) {
	props := ""
	if len(e.Properties) > 0 {
		raw, err := json.Marshal(e.Properties)
		if err != nil {
			return 0, err
		}
		props = string(raw)
	}

	attempts, err := p.policy.Do(ctx, func(int) error {
		handle, err := p.conns.GetConnectionAsync(ctx, e.TenantID)
		if err != nil {
			return err
		}
		return repository.NewAnalyticsEventRepository(handle.DB.WithContext(ctx)).Create(&models.AnalyticsEvent{
			Name:       e.Name,
			SessionID:  e.SessionID,
			Properties: props,
			OccurredAt: e.OccurredAt,
		})
	})

	entry := &models.AnalyticsLog{
		TenantID:  e.TenantID,
		EventName: e.Name,
		Attempts:  attempts,
		Success:   err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		log.Warnf("[Analytics] Dropping %s for tenant %d after %d attempts: %v", e.Name, e.TenantID, attempts, err)
	}
	besteffort.Do("AnalyticsLog", func() error {
		return p.logs.Create(entry)
	})
	return attempts, err
}

// HandleJob is the job queue handler for analytics events.
func (p *Persister) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	e, err := jobqueue.AnalyticsEventPayloadFromMap(job.Payload)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	if e.TenantID == 0 {
		e.TenantID = job.TenantID
	}
	if _, err := p.Persist(ctx, e); err != nil {
		return jobqueue.Permanent(err)
	}
	return nil
}
