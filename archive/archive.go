// Package archive persists finished execution records. Stores are
// fire-and-forget collaborators of the session runner: archival failure is
// never surfaced to the caller of an execution.
package archive

import (
	"context"
	"fmt"
	"time"
)

// Execution statuses carried on a Record.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Record is the immutable summary of one finished execution session.
type Record struct {
	SessionID       string         `json:"session_id"`
	Prompt          string         `json:"prompt"`
	ExitCode        int            `json:"exit_code"`
	Status          string         `json:"status"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Stdout          []string       `json:"stdout"`
	Stderr          []string       `json:"stderr"`
	CreatedFiles    []string       `json:"created_files"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata"`
}

// Store is an archival destination for execution records.
type Store interface {
	Save(ctx context.Context, rec Record) error
}

// NopStore discards records. It is the default when no archival
// destination is configured.
type NopStore struct{}

func (NopStore) Save(context.Context, Record) error { return nil }

// ObjectName is the canonical name for a record in file- and object-based
// stores.
func ObjectName(rec Record) string {
	return fmt.Sprintf("sessions/%s-%s.json", rec.SessionID, rec.Timestamp.UTC().Format(time.RFC3339))
}
