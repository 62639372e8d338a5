package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookDelivery JobType = "webhook_delivery"
	JobTypeAnalyticsEvent  JobType = "analytics_event"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	TenantID    uint                   `json:"tenant_id"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WebhookDeliveryPayload fans one event out to one endpoint
type WebhookDeliveryPayload struct {
	EndpointID uint                   `json:"endpoint_id"`
	TenantID   uint                   `json:"tenant_id"`
	Event      string                 `json:"event"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// ToMap converts the payload to a map for storage
func (p WebhookDeliveryPayload) ToMap() map[string]interface{} {
	return toMap(p)
}

// WebhookDeliveryPayloadFromMap creates a payload from a map
func WebhookDeliveryPayloadFromMap(data map[string]interface{}) (*WebhookDeliveryPayload, error) {
	var payload WebhookDeliveryPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// AnalyticsEventPayload is one tracked event waiting to be persisted
type AnalyticsEventPayload struct {
	TenantID   uint                   `json:"tenant_id"`
	Name       string                 `json:"name"`
	SessionID  string                 `json:"session_id,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// ToMap converts the payload to a map for storage
func (p AnalyticsEventPayload) ToMap() map[string]interface{} {
	return toMap(p)
}

// AnalyticsEventPayloadFromMap creates a payload from a map
func AnalyticsEventPayloadFromMap(data map[string]interface{}) (*AnalyticsEventPayload, error) {
	var payload AnalyticsEventPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func fromMap(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
