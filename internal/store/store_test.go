package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pocketsync/pocketsync/internal/record"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return db, dbPath
}

func testRecord(id, typ string) *record.DataRecord {
	return &record.DataRecord{
		ID:             id,
		Type:           typ,
		Payload:        json.RawMessage(`{"v":1}`),
		LastModifiedAt: time.Now().UTC(),
		Synced:         false,
	}
}

func testAction(id string) *record.PendingAction {
	return &record.PendingAction{
		ID:         id,
		Kind:       record.ActionCreate,
		Payload:    json.RawMessage(`{"v":1}`),
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestPutRecordUpsert(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "note")
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	// Second put under the same id replaces, never duplicates.
	rec2 := testRecord("rec-1", "note")
	rec2.Payload = json.RawMessage(`{"v":2}`)
	rec2.LastModifiedAt = rec.LastModifiedAt.Add(time.Second)
	if err := db.PutRecord(rec2); err != nil {
		t.Fatalf("second PutRecord failed: %v", err)
	}

	count, err := db.RecordCount(ctx)
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record after upsert, got %d", count)
	}

	got, err := db.GetRecordsByType("note")
	if err != nil {
		t.Fatalf("GetRecordsByType failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if string(got[0].Payload) != `{"v":2}` {
		t.Errorf("expected latest payload, got %s", got[0].Payload)
	}
}

func TestPutRecordValidation(t *testing.T) {
	db, _ := setupTestDB(t)

	rec := testRecord("", "note")
	if err := db.PutRecord(rec); err == nil {
		t.Error("expected error for record without id")
	}
}

func TestGetRecordsByTypeFiltersAndOrders(t *testing.T) {
	db, _ := setupTestDB(t)

	base := time.Now().UTC()
	for i, typ := range []string{"note", "note", "task"} {
		rec := testRecord(fmt.Sprintf("rec-%d", i), typ)
		rec.LastModifiedAt = base.Add(time.Duration(-i) * time.Minute)
		if err := db.PutRecord(rec); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	notes, err := db.GetRecordsByType("note")
	if err != nil {
		t.Fatalf("GetRecordsByType failed: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	// Ordered by last_modified_at ascending: rec-1 is older than rec-0.
	if notes[0].ID != "rec-1" || notes[1].ID != "rec-0" {
		t.Errorf("unexpected order: %s, %s", notes[0].ID, notes[1].ID)
	}
}

func TestOfflineDurability(t *testing.T) {
	db, dbPath := setupTestDB(t)

	rec := testRecord("rec-1", "note")
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	// Simulate process restart.
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetRecordsByType("note")
	if err != nil {
		t.Fatalf("GetRecordsByType after reopen failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected record to survive restart, got %d records", len(got))
	}
	if got[0].Synced {
		t.Error("expected record to remain unsynced after restart")
	}
}

func TestMarkSynced(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "note")
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	if err := db.MarkSynced(ctx, rec.ID, rec.LastModifiedAt); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	unsynced, err := db.UnsyncedRecords(ctx)
	if err != nil {
		t.Fatalf("UnsyncedRecords failed: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("expected 0 unsynced records, got %d", len(unsynced))
	}
}

func TestMarkSyncedSkipsModifiedRecord(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "note")
	if err := db.PutRecord(rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	// A local write lands between the push and the mark.
	newer := testRecord("rec-1", "note")
	newer.LastModifiedAt = rec.LastModifiedAt.Add(time.Second)
	if err := db.PutRecord(newer); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	if err := db.MarkSynced(ctx, rec.ID, rec.LastModifiedAt); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	unsynced, err := db.UnsyncedRecords(ctx)
	if err != nil {
		t.Fatalf("UnsyncedRecords failed: %v", err)
	}
	if len(unsynced) != 1 {
		t.Errorf("expected the modified record to stay unsynced, got %d unsynced", len(unsynced))
	}
}

func TestConcurrentPutsDifferentIDs(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- db.PutRecord(testRecord(fmt.Sprintf("rec-%d", i), "note"))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent put failed: %v", err)
		}
	}

	count, err := db.RecordCount(ctx)
	if err != nil {
		t.Fatalf("RecordCount failed: %v", err)
	}
	if count != n {
		t.Errorf("expected %d records (no lost writes), got %d", n, count)
	}
}

func TestClearRecords(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.PutRecord(testRecord(fmt.Sprintf("rec-%d", i), "note")); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}
	if err := db.EnqueueAction(testAction("act-1")); err != nil {
		t.Fatalf("EnqueueAction failed: %v", err)
	}

	if err := db.ClearRecords(ctx); err != nil {
		t.Fatalf("ClearRecords failed: %v", err)
	}

	count, _ := db.RecordCount(ctx)
	if count != 0 {
		t.Errorf("expected 0 records after clear, got %d", count)
	}

	// The queue is a separate collection; clearing records must not touch it.
	actions, _ := db.ActionCount(ctx)
	if actions != 1 {
		t.Errorf("expected queue untouched by record clear, got %d actions", actions)
	}
}

func TestEnqueueRemoveIncrement(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.EnqueueAction(testAction("act-1")); err != nil {
		t.Fatalf("EnqueueAction failed: %v", err)
	}

	actions, err := db.Actions(ctx)
	if err != nil {
		t.Fatalf("Actions failed: %v", err)
	}
	if len(actions) != 1 || actions[0].RetryCount != 0 {
		t.Fatalf("expected 1 action with retry 0, got %+v", actions)
	}

	count, err := db.IncrementRetry(ctx, "act-1")
	if err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected retry count 1, got %d", count)
	}

	if err := db.RemoveAction(ctx, "act-1"); err != nil {
		t.Fatalf("RemoveAction failed: %v", err)
	}

	remaining, _ := db.ActionCount(ctx)
	if remaining != 0 {
		t.Errorf("expected empty queue, got %d", remaining)
	}

	// Removing again is idempotent.
	if err := db.RemoveAction(ctx, "act-1"); err != nil {
		t.Errorf("second RemoveAction should be a no-op: %v", err)
	}
}

func TestConcurrentIncrementRetry(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.EnqueueAction(testAction("act-1")); err != nil {
		t.Fatalf("EnqueueAction failed: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.IncrementRetry(ctx, "act-1"); err != nil {
				t.Errorf("IncrementRetry failed: %v", err)
			}
		}()
	}
	wg.Wait()

	actions, err := db.Actions(ctx)
	if err != nil {
		t.Fatalf("Actions failed: %v", err)
	}
	if len(actions) != 1 || actions[0].RetryCount != n {
		t.Errorf("expected retry count %d (no lost increments), got %+v", n, actions[0])
	}
}

func TestDeadLetterRoundTrip(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.EnqueueAction(testAction("act-1")); err != nil {
		t.Fatalf("EnqueueAction failed: %v", err)
	}
	if _, err := db.IncrementRetry(ctx, "act-1"); err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}

	if err := db.MoveToDeadLetter(ctx, "act-1", "retry limit reached"); err != nil {
		t.Fatalf("MoveToDeadLetter failed: %v", err)
	}

	pending, _ := db.ActionCount(ctx)
	if pending != 0 {
		t.Errorf("expected action removed from live queue, got %d", pending)
	}

	letters, err := db.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].Reason != "retry limit reached" || letters[0].RetryCount != 1 {
		t.Errorf("unexpected dead letter: %+v", letters[0])
	}

	// Requeue resets retry count and restores the action.
	if err := db.RequeueDeadLetter(ctx, "act-1"); err != nil {
		t.Fatalf("RequeueDeadLetter failed: %v", err)
	}

	actions, _ := db.Actions(ctx)
	if len(actions) != 1 || actions[0].RetryCount != 0 {
		t.Errorf("expected requeued action with retry 0, got %+v", actions)
	}

	letters, _ = db.DeadLetters(ctx)
	if len(letters) != 0 {
		t.Errorf("expected dead letters emptied after requeue, got %d", len(letters))
	}
}

func TestRequeueMissingDeadLetter(t *testing.T) {
	db, _ := setupTestDB(t)

	err := db.RequeueDeadLetter(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error requeueing missing dead letter")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Errorf("expected StorageError, got %T", err)
	}
}
