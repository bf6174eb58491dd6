package adapter

import (
	"context"
	"time"
)

// OpinionCompleted is published once a session reaches COMPLETE.
type OpinionCompleted struct {
	SessionID   string    `json:"session_id"`
	ScopeID     string    `json:"scope_id"`
	Comment     string    `json:"comment"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventPublisher is the port for outbound domain events.
type EventPublisher interface {
	PublishOpinionCompleted(ctx context.Context, ev OpinionCompleted) error
}
