package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a follow-up job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job types retried out of band after a reconciliation has committed.
const (
	JobTypeStripeCustomerTag  = "stripe_customer_tag"
	JobTypeSubscriptionResync = "subscription_resync"
)

const defaultJobMaxAttempts = 8

// Job is a queued follow-up step.
type Job struct {
	ID          int64      `json:"id"`
	JobType     string     `json:"job_type"`
	Payload     JSONB      `json:"payload"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LastError   *string    `json:"last_error,omitempty"`
	WorkerID    *string    `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob builds a pending job with default retry limits.
func NewJob(jobType string, payload JSONB) *Job {
	return &Job{
		JobType:     jobType,
		Payload:     payload,
		Status:      JobStatusPending,
		MaxAttempts: defaultJobMaxAttempts,
	}
}

// IsValid checks the job before it is written to the queue.
func (j *Job) IsValid() error {
	if j.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// PayloadString returns a string payload field, or "" when absent.
func (j *Job) PayloadString(key string) string {
	if v, ok := j.Payload[key].(string); ok {
		return v
	}
	return ""
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}
