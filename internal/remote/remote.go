// Package remote defines the boundary to the backend the engine reconciles
// against.
//
// The engine only consumes the Adapter interface. Pushes are expected to be
// idempotent upserts: a crash mid-cycle leaves some items pushed twice on the
// next cycle, which the backend must tolerate.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/pocketsync/pocketsync/internal/record"
)

// Adapter performs remote push/apply operations.
type Adapter interface {
	// PushRecord upserts a cached data record on the backend.
	PushRecord(ctx context.Context, rec *record.DataRecord) error

	// ApplyAction performs a queued remote mutation.
	ApplyAction(ctx context.Context, action *record.PendingAction) error
}

// Error is a remote call failure.
//
// Permanent distinguishes validation-class rejections (the same request will
// never succeed) from transient transport or server failures (retried on a
// later cycle). The zero value of Permanent is transient, which keeps the
// conservative default: when in doubt, retry.
type Error struct {
	Op         string // "push record" or "apply action"
	StatusCode int    // HTTP status if applicable, 0 otherwise
	Permanent  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a remote failure that will never
// succeed on retry.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Permanent
}
