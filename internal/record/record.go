// Package record provides the data structures persisted by the offline store.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies the remote operation a PendingAction performs.
type ActionKind string

const (
	// ActionCreate creates a new entity on the remote.
	ActionCreate ActionKind = "create"
	// ActionUpdate updates an existing remote entity.
	ActionUpdate ActionKind = "update"
	// ActionDelete deletes a remote entity.
	ActionDelete ActionKind = "delete"
)

// Valid reports whether the kind is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// DataRecord is a locally cached unit of application data.
//
// Records are upserted by ID with last-write-wins semantics. The Synced flag
// is flipped to true only by a successful push during a sync cycle; local
// writes always reset it to false.
type DataRecord struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	LastModifiedAt time.Time       `json:"last_modified_at"`
	Synced         bool            `json:"synced"`
}

// Validate checks that the record has valid field values.
func (r *DataRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Type == "" {
		return fmt.Errorf("type is required")
	}
	if r.LastModifiedAt.IsZero() {
		return fmt.Errorf("last_modified_at is required")
	}
	return nil
}

// PendingAction is a queued, not-yet-confirmed remote mutation.
//
// Actions are independent of DataRecords: removing a record does not touch
// the queue and vice versa. RetryCount only ever grows until the action is
// removed or dead-lettered.
type PendingAction struct {
	ID         string          `json:"id"`
	Kind       ActionKind      `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// Validate checks that the action has valid field values.
func (a *PendingAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	if a.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative (got %d)", a.RetryCount)
	}
	return nil
}

// DeadLetter is a PendingAction that exhausted its retry budget or failed
// permanently. Dead letters are never retried automatically; they exist for
// inspection and manual requeue.
type DeadLetter struct {
	PendingAction
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// NewID returns a fresh unique identifier for records and actions.
func NewID() string {
	return uuid.NewString()
}
