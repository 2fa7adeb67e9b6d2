// Package engine orchestrates offline-first reconciliation between the local
// store and a remote backend.
//
// The engine is the library's public surface. Application code writes through
// StoreData/QueueAction (synchronously durable against the local store),
// reads through GetData, and observes OnlineStatus/SyncStatus. Sync cycles
// run in the background, triggered by connectivity transitions, periodic
// ticks, or a local write while online.
//
// Concurrency model: the Idle/Syncing flag is the one piece of shared state
// all trigger sources race on. TriggerSync claims it under a mutex and drops
// the request if a cycle is already running - new writes simply stay
// unsynced/enqueued for the next cycle, so nothing is lost.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pocketsync/pocketsync/internal/netmon"
	"github.com/pocketsync/pocketsync/internal/record"
	"github.com/pocketsync/pocketsync/internal/remote"
	"github.com/pocketsync/pocketsync/internal/signal"
	"github.com/pocketsync/pocketsync/internal/store"
)

// Config holds engine tuning knobs.
type Config struct {
	// CallTimeout bounds each individual remote call. The original behavior
	// had no per-call timeout; one is applied here defensively so a hung
	// request cannot wedge a cycle forever.
	CallTimeout time.Duration

	// RetryLimit is the retry ceiling for pending actions. An action whose
	// retry count reaches this limit is moved to the dead-letter store.
	// Zero or negative means retry indefinitely.
	RetryLimit int

	// OnCycleEnd, if set, is called after every completed sync cycle with
	// that cycle's statistics. Called on the cycle's goroutine.
	OnCycleEnd func(CycleStats)

	// Logger for engine activity. If nil, a default stderr logger is used.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CallTimeout: 30 * time.Second,
		RetryLimit:  10,
		Logger:      log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// CycleStats summarizes one completed sync cycle.
type CycleStats struct {
	RecordsPushed  int
	RecordsFailed  int
	ActionsApplied int
	ActionsFailed  int
	DeadLettered   int
	Duration       time.Duration
}

// Engine is the offline synchronization engine.
type Engine struct {
	store   *store.DB
	adapter remote.Adapter
	monitor netmon.Monitor
	config  *Config
	logger  *log.Logger

	syncMu  sync.Mutex
	syncing bool

	syncStatus *signal.Bool

	netSub signal.Subscription
	wg     sync.WaitGroup

	startMu sync.Mutex
	started bool
}

// New creates an Engine with injected dependencies.
//
// The store must be open with its schema initialized. The adapter is the
// boundary to the backend. The monitor supplies connectivity; its online
// transitions trigger sync cycles once Start is called.
func New(db *store.DB, adapter remote.Adapter, monitor netmon.Monitor, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:      db,
		adapter:    adapter,
		monitor:    monitor,
		config:     config,
		logger:     logger,
		syncStatus: signal.NewBool(false),
	}
}

// Start wires the engine to its connectivity trigger. Idempotent.
//
// An offline→online transition starts one sync cycle without further caller
// action. Start does not block and does not itself run a cycle unless the
// monitor is already online.
func (e *Engine) Start() {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if e.started {
		return
	}
	e.started = true

	// Replay-latest means this also fires once immediately: an engine
	// started while online begins draining its backlog right away.
	e.netSub = e.monitor.Subscribe(func(online bool) {
		if online {
			e.TriggerSync()
		}
	})

	e.logger.Println("Engine started")
}

// Stop detaches the connectivity trigger and waits for any in-flight cycle
// to finish. The store is not closed; that belongs to the caller.
func (e *Engine) Stop() {
	e.startMu.Lock()
	if !e.started {
		e.startMu.Unlock()
		return
	}
	e.started = false
	sub := e.netSub
	e.netSub = nil
	e.startMu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	e.wg.Wait()

	e.logger.Println("Engine stopped")
}

// StoreData persists application data locally and returns the stored record.
//
// The write is synchronously durable: when StoreData returns nil error the
// record survives a process restart, online or not. If the monitor reports
// online, a sync cycle is triggered so a reconnected session starts pushing
// without waiting for the next external trigger.
//
// A storage failure surfaces as *store.StorageError; this is the one place
// the engine reports an error synchronously to the caller.
func (e *Engine) StoreData(ctx context.Context, typ string, data json.RawMessage) (*record.DataRecord, error) {
	rec := &record.DataRecord{
		ID:             record.NewID(),
		Type:           typ,
		Payload:        data,
		LastModifiedAt: time.Now().UTC(),
		Synced:         false,
	}

	if err := e.store.PutRecordContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("store data: %w", err)
	}

	if e.monitor.Online() {
		e.TriggerSync()
	}

	return rec, nil
}

// PutData upserts a record under a caller-chosen ID (last write wins) and
// resets its synced flag. Used when the application edits an existing record.
func (e *Engine) PutData(ctx context.Context, id, typ string, data json.RawMessage) (*record.DataRecord, error) {
	rec := &record.DataRecord{
		ID:             id,
		Type:           typ,
		Payload:        data,
		LastModifiedAt: time.Now().UTC(),
		Synced:         false,
	}

	if err := e.store.PutRecordContext(ctx, rec); err != nil {
		return nil, fmt.Errorf("put data: %w", err)
	}

	if e.monitor.Online() {
		e.TriggerSync()
	}

	return rec, nil
}

// GetData returns all cached records of the given type, ordered by
// last-modified time.
func (e *Engine) GetData(ctx context.Context, typ string) ([]*record.DataRecord, error) {
	return e.store.GetRecordsByTypeContext(ctx, typ)
}

// QueueAction enqueues a remote-bound mutation for the next sync cycle and
// returns the queued action. Durability and trigger semantics match
// StoreData.
func (e *Engine) QueueAction(ctx context.Context, kind record.ActionKind, data json.RawMessage) (*record.PendingAction, error) {
	action := &record.PendingAction{
		ID:         record.NewID(),
		Kind:       kind,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
		RetryCount: 0,
	}

	if err := e.store.EnqueueActionContext(ctx, action); err != nil {
		return nil, fmt.Errorf("queue action: %w", err)
	}

	if e.monitor.Online() {
		e.TriggerSync()
	}

	return action, nil
}

// ClearOfflineData drops all cached records, queued actions, and dead
// letters. This is the explicit user-initiated wipe; the sync path never
// calls it.
func (e *Engine) ClearOfflineData(ctx context.Context) error {
	if err := e.store.ClearRecords(ctx); err != nil {
		return fmt.Errorf("clear offline data: %w", err)
	}
	if err := e.store.ClearActions(ctx); err != nil {
		return fmt.Errorf("clear offline data: %w", err)
	}
	if err := e.store.ClearDeadLetters(ctx); err != nil {
		return fmt.Errorf("clear offline data: %w", err)
	}
	e.logger.Println("Offline data wiped")
	return nil
}

// Online returns a synchronous snapshot of connectivity.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// OnlineStatus subscribes to connectivity transitions with replay-latest
// semantics.
func (e *Engine) OnlineStatus(cb func(online bool)) signal.Subscription {
	return e.monitor.Subscribe(cb)
}

// Syncing returns a synchronous snapshot of the sync-in-progress flag.
func (e *Engine) Syncing() bool {
	return e.syncStatus.Get()
}

// SyncStatus subscribes to sync-in-progress transitions with replay-latest
// semantics.
func (e *Engine) SyncStatus(cb func(syncing bool)) signal.Subscription {
	return e.syncStatus.Subscribe(cb)
}

// TriggerSync requests one sync cycle. Non-blocking.
//
// If a cycle is already running the request is dropped, not queued: the
// in-flight cycle already covers the current state, and anything it misses
// stays unsynced for the next trigger.
func (e *Engine) TriggerSync() {
	e.syncMu.Lock()
	if e.syncing {
		e.syncMu.Unlock()
		return
	}
	e.syncing = true
	e.syncMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.syncMu.Lock()
			e.syncing = false
			e.syncMu.Unlock()
			e.syncStatus.Set(false)
		}()

		e.syncStatus.Set(true)
		e.runCycle(context.Background())
	}()
}

// runCycle performs one reconciliation pass. Per-item failures are isolated:
// they are logged, counted, and never abort the cycle. The cycle is not
// transactional - a crash mid-cycle leaves some items synced and some not,
// corrected by the next cycle because remote pushes are idempotent.
func (e *Engine) runCycle(ctx context.Context) {
	start := time.Now()
	var stats CycleStats

	e.pushRecords(ctx, &stats)
	e.applyActions(ctx, &stats)

	stats.Duration = time.Since(start)
	e.logger.Printf("Sync cycle complete: records=%d (failed=%d), actions=%d (failed=%d, dead=%d) in %v",
		stats.RecordsPushed, stats.RecordsFailed,
		stats.ActionsApplied, stats.ActionsFailed, stats.DeadLettered,
		stats.Duration.Round(time.Millisecond))

	if e.config.OnCycleEnd != nil {
		e.config.OnCycleEnd(stats)
	}
}

func (e *Engine) pushRecords(ctx context.Context, stats *CycleStats) {
	records, err := e.store.UnsyncedRecords(ctx)
	if err != nil {
		e.logger.Printf("Failed to snapshot unsynced records: %v", err)
		return
	}

	for _, rec := range records {
		if err := e.pushOne(ctx, rec); err != nil {
			e.logger.Printf("WARNING: push failed for record %s: %v", rec.ID, err)
			stats.RecordsFailed++
			continue
		}
		stats.RecordsPushed++
	}
}

func (e *Engine) pushOne(ctx context.Context, rec *record.DataRecord) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	if err := e.adapter.PushRecord(callCtx, rec); err != nil {
		return err
	}

	// Conditional on the snapshot's timestamp: a local write that raced the
	// push keeps the record unsynced so its newer payload goes out next cycle.
	if err := e.store.MarkSynced(ctx, rec.ID, rec.LastModifiedAt); err != nil {
		return fmt.Errorf("pushed but not marked synced: %w", err)
	}
	return nil
}

func (e *Engine) applyActions(ctx context.Context, stats *CycleStats) {
	actions, err := e.store.Actions(ctx)
	if err != nil {
		e.logger.Printf("Failed to snapshot pending actions: %v", err)
		return
	}

	for _, action := range actions {
		callCtx, cancel := e.callContext(ctx)
		err := e.adapter.ApplyAction(callCtx, action)
		cancel()

		if err == nil {
			if err := e.store.RemoveAction(ctx, action.ID); err != nil {
				e.logger.Printf("WARNING: applied action %s but failed to remove: %v", action.ID, err)
				stats.ActionsFailed++
				continue
			}
			stats.ActionsApplied++
			continue
		}

		stats.ActionsFailed++

		if remote.IsPermanent(err) {
			e.logger.Printf("Action %s rejected permanently: %v", action.ID, err)
			e.deadLetter(ctx, action.ID, err.Error(), stats)
			continue
		}

		e.logger.Printf("WARNING: apply failed for action %s: %v", action.ID, err)

		count, rerr := e.store.IncrementRetry(ctx, action.ID)
		if rerr != nil {
			e.logger.Printf("WARNING: failed to bump retry for action %s: %v", action.ID, rerr)
			continue
		}

		if e.config.RetryLimit > 0 && count >= e.config.RetryLimit {
			e.logger.Printf("Action %s exhausted retry budget (%d attempts)", action.ID, count)
			e.deadLetter(ctx, action.ID, fmt.Sprintf("retry limit reached: %v", err), stats)
		}
	}
}

func (e *Engine) deadLetter(ctx context.Context, id, reason string, stats *CycleStats) {
	if err := e.store.MoveToDeadLetter(ctx, id, reason); err != nil {
		e.logger.Printf("WARNING: failed to dead-letter action %s: %v", id, err)
		return
	}
	stats.DeadLettered++
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.CallTimeout)
}
