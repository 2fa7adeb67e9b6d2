package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketsync/pocketsync/internal/record"
)

// PutRecord inserts or updates a data record.
//
// If a record with the same ID exists it is replaced (last write wins).
// A concurrent put for a different ID never drops this one; each upsert is a
// single atomic statement.
func (db *DB) PutRecord(rec *record.DataRecord) error {
	return db.PutRecordContext(context.Background(), rec)
}

// PutRecordContext inserts or updates a data record with context support.
func (db *DB) PutRecordContext(ctx context.Context, rec *record.DataRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	query := `
	INSERT INTO data_records (id, type, payload, last_modified_at, synced)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		payload = excluded.payload,
		last_modified_at = excluded.last_modified_at,
		synced = excluded.synced
	`

	_, err := db.conn.ExecContext(ctx, query,
		rec.ID,
		rec.Type,
		string(rec.Payload),
		rec.LastModifiedAt.UTC().Format(time.RFC3339Nano),
		boolToInt(rec.Synced),
	)
	if err != nil {
		return storageErr("put record", err)
	}

	return nil
}

// GetRecordsByType returns all records whose type matches, ordered by
// last_modified_at ascending for deterministic results.
func (db *DB) GetRecordsByType(typ string) ([]*record.DataRecord, error) {
	return db.GetRecordsByTypeContext(context.Background(), typ)
}

// GetRecordsByTypeContext returns records by type with context support.
func (db *DB) GetRecordsByTypeContext(ctx context.Context, typ string) ([]*record.DataRecord, error) {
	query := `
	SELECT id, type, payload, last_modified_at, synced
	FROM data_records
	WHERE type = ?
	ORDER BY last_modified_at ASC, id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query, typ)
	if err != nil {
		return nil, storageErr("query records", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UnsyncedRecords returns all records with synced = false, across all types,
// ordered by last_modified_at ascending. This is the sync cycle's snapshot.
func (db *DB) UnsyncedRecords(ctx context.Context) ([]*record.DataRecord, error) {
	query := `
	SELECT id, type, payload, last_modified_at, synced
	FROM data_records
	WHERE synced = 0
	ORDER BY last_modified_at ASC, id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("query unsynced records", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkSynced flips synced=true for the record, but only if it has not been
// modified since lastModified was read. A local write racing the push keeps
// the record unsynced so the next cycle picks up the newer payload.
func (db *DB) MarkSynced(ctx context.Context, id string, lastModified time.Time) error {
	query := `
	UPDATE data_records SET synced = 1
	WHERE id = ? AND last_modified_at = ?
	`

	_, err := db.conn.ExecContext(ctx, query, id, lastModified.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storageErr("mark synced", err)
	}
	return nil
}

// ClearRecords drops all data records. Used only for an explicit
// user-initiated wipe, never by the sync path.
func (db *DB) ClearRecords(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM data_records"); err != nil {
		return storageErr("clear records", err)
	}
	return nil
}

// RecordCount returns the total number of data records.
func (db *DB) RecordCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_records").Scan(&count)
	if err != nil {
		return 0, storageErr("count records", err)
	}
	return count, nil
}

// UnsyncedCount returns the number of records still waiting to be pushed.
func (db *DB) UnsyncedCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_records WHERE synced = 0").Scan(&count)
	if err != nil {
		return 0, storageErr("count unsynced", err)
	}
	return count, nil
}

// scanRecords scans data records from query results.
func scanRecords(rows *sql.Rows) ([]*record.DataRecord, error) {
	var records []*record.DataRecord

	for rows.Next() {
		var rec record.DataRecord
		var payload string
		var lastModified string
		var synced int

		err := rows.Scan(&rec.ID, &rec.Type, &payload, &lastModified, &synced)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, lastModified)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_modified_at: %w", err)
		}
		rec.LastModifiedAt = t
		rec.Payload = json.RawMessage(payload)
		rec.Synced = synced != 0

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
