package history

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeCompleted Outcome = "completed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one audit record of a cluster power action.
type Entry struct {
	Timestamp string  `json:"timestamp"`
	Cluster   string  `json:"cluster_name"`
	Action    string  `json:"action"`
	Outcome   Outcome `json:"outcome"`
	Message   string  `json:"message,omitempty"`
	TTL       int64   `json:"ttl"`
}

// Recorder persists action audit entries. Implementations must tolerate being
// called from monitor goroutines; recorder failures are logged by the caller
// and never fail the action itself.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, since time.Time) ([]Entry, error)
}

// Nop discards all entries. Used when history is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, time.Time) ([]Entry, error) { return nil, nil }
