// Package events publishes generation job lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"time"

	"scriptstudio/pkg/domain"
)

// Event types.
const (
	TypeJobStarted  = "job.started"
	TypeJobFinished = "job.finished"
)

// JobEvent describes a state change of a generation job.
type JobEvent struct {
	Type       string           `json:"type"`
	JobID      string           `json:"jobId"`
	ProjectID  string           `json:"projectId"`
	JobType    domain.JobType   `json:"jobType"`
	Status     domain.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// NewJobEvent builds an event from the job's current state.
func NewJobEvent(eventType string, job domain.GenerationJob) JobEvent {
	return JobEvent{
		Type:       eventType,
		JobID:      job.ID,
		ProjectID:  job.ProjectID,
		JobType:    job.Type,
		Status:     job.Status,
		Error:      job.Error,
		OccurredAt: time.Now().UTC(),
	}
}

// RoutingKey is the topic used when routing the event, e.g. "job.finished.script".
func (e JobEvent) RoutingKey() string {
	return e.Type + "." + string(e.JobType)
}

func (e JobEvent) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers job events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                            { return nil }
