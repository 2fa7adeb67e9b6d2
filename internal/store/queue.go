package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketsync/pocketsync/internal/record"
)

// EnqueueAction appends a new pending action with retry_count = 0.
func (db *DB) EnqueueAction(action *record.PendingAction) error {
	return db.EnqueueActionContext(context.Background(), action)
}

// EnqueueActionContext appends a pending action with context support.
func (db *DB) EnqueueActionContext(ctx context.Context, action *record.PendingAction) error {
	if err := action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	query := `
	INSERT INTO pending_actions (id, kind, payload, enqueued_at, retry_count)
	VALUES (?, ?, ?, ?, 0)
	`

	_, err := db.conn.ExecContext(ctx, query,
		action.ID,
		string(action.Kind),
		string(action.Payload),
		action.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storageErr("enqueue action", err)
	}

	return nil
}

// Actions returns a snapshot of all queued actions, ordered by enqueued_at.
// Insertion order is a hint, not a promise: actions re-enqueued after a
// process restart may interleave.
func (db *DB) Actions(ctx context.Context) ([]*record.PendingAction, error) {
	query := `
	SELECT id, kind, payload, enqueued_at, retry_count
	FROM pending_actions
	ORDER BY enqueued_at ASC, id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("query actions", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// RemoveAction deletes an action after a confirmed remote apply.
// Returns nil if the action doesn't exist (idempotent).
func (db *DB) RemoveAction(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM pending_actions WHERE id = ?", id); err != nil {
		return storageErr("remove action", err)
	}
	return nil
}

// IncrementRetry bumps retry_count after a failed apply attempt and returns
// the new count. The bump is a single atomic statement so interleaved cycles
// never lose an increment.
func (db *DB) IncrementRetry(ctx context.Context, id string) (int, error) {
	query := `
	UPDATE pending_actions SET retry_count = retry_count + 1
	WHERE id = ?
	RETURNING retry_count
	`

	var count int
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&count)
	if err != nil {
		return 0, storageErr("increment retry", err)
	}
	return count, nil
}

// ActionCount returns the number of queued actions.
func (db *DB) ActionCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_actions").Scan(&count)
	if err != nil {
		return 0, storageErr("count actions", err)
	}
	return count, nil
}

// ClearActions drops all pending actions. Part of the explicit user wipe.
func (db *DB) ClearActions(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM pending_actions"); err != nil {
		return storageErr("clear actions", err)
	}
	return nil
}

// MoveToDeadLetter atomically moves an action from the live queue to the
// dead_letters table. The action is never retried again unless explicitly
// requeued.
func (db *DB) MoveToDeadLetter(ctx context.Context, id, reason string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin dead-letter tx", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO dead_letters (id, kind, payload, enqueued_at, retry_count, reason, failed_at)
	SELECT id, kind, payload, enqueued_at, retry_count, ?, ?
	FROM pending_actions WHERE id = ?
	ON CONFLICT(id) DO UPDATE SET
		retry_count = excluded.retry_count,
		reason = excluded.reason,
		failed_at = excluded.failed_at
	`

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, query, reason, now, id); err != nil {
		return storageErr("dead-letter insert", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_actions WHERE id = ?", id); err != nil {
		return storageErr("dead-letter delete", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("dead-letter commit", err)
	}
	return nil
}

// DeadLetters returns all dead-lettered actions, most recent failure first.
func (db *DB) DeadLetters(ctx context.Context) ([]*record.DeadLetter, error) {
	query := `
	SELECT id, kind, payload, enqueued_at, retry_count, reason, failed_at
	FROM dead_letters
	ORDER BY failed_at DESC, id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("query dead letters", err)
	}
	defer rows.Close()

	var letters []*record.DeadLetter
	for rows.Next() {
		var dl record.DeadLetter
		var payload, enqueuedAt, failedAt string
		var kind string

		err := rows.Scan(&dl.ID, &kind, &payload, &enqueuedAt, &dl.RetryCount, &dl.Reason, &failedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}

		dl.Kind = record.ActionKind(kind)
		dl.Payload = json.RawMessage(payload)
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			dl.EnqueuedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, failedAt); err == nil {
			dl.FailedAt = t
		}

		letters = append(letters, &dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}

	return letters, nil
}

// RequeueDeadLetter moves a dead letter back into the live queue with a
// reset retry count. Used for manual recovery after the underlying cause
// (bad payload, backend rejection) is fixed.
func (db *DB) RequeueDeadLetter(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin requeue tx", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO pending_actions (id, kind, payload, enqueued_at, retry_count)
	SELECT id, kind, payload, enqueued_at, 0
	FROM dead_letters WHERE id = ?
	`

	res, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return storageErr("requeue insert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storageErr("requeue", sql.ErrNoRows)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id); err != nil {
		return storageErr("requeue delete", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("requeue commit", err)
	}
	return nil
}

// ClearDeadLetters drops all dead letters. Part of the explicit user wipe.
func (db *DB) ClearDeadLetters(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM dead_letters"); err != nil {
		return storageErr("clear dead letters", err)
	}
	return nil
}

// scanActions scans pending actions from query results.
func scanActions(rows *sql.Rows) ([]*record.PendingAction, error) {
	var actions []*record.PendingAction

	for rows.Next() {
		var a record.PendingAction
		var kind, payload, enqueuedAt string

		err := rows.Scan(&a.ID, &kind, &payload, &enqueuedAt, &a.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		a.Kind = record.ActionKind(kind)
		a.Payload = json.RawMessage(payload)

		t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse enqueued_at: %w", err)
		}
		a.EnqueuedAt = t

		actions = append(actions, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}
