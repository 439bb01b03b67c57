package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the append-only history of formatted records per tank.
//
// It is safe for concurrent use; SQLite serialises the writes.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a history store over an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append adds rec to the end of the tank's history.
func (s *Store) Append(ctx context.Context, tankID string, rec Record) error {
	if tankID == "" {
		return ErrTankIDRequired
	}
	return insertRecord(ctx, s.db, tankID, rec, s.now())
}

// Record appends rec and overwrites the tank's forward slot with forward in
// one transaction: either both are stored or neither is.
func (s *Store) Record(ctx context.Context, tankID string, rec Record, forward any) error {
	if tankID == "" {
		return ErrTankIDRequired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.now()
	if err := insertRecord(ctx, tx, tankID, rec, now); err != nil {
		return err
	}
	if err := upsertForward(ctx, tx, tankID, forward, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sample: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, ex execer, tankID string, rec Record, at time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	_, err = ex.ExecContext(ctx,
		"INSERT INTO telemetry_history (tank_id, recorded_at, record) VALUES (?, ?, ?)",
		tankID,
		at.UTC().Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}
	return nil
}

// List returns the tank's whole history, oldest first.
func (s *Store) List(ctx context.Context, tankID string) ([]Entry, error) {
	if tankID == "" {
		return nil, ErrTankIDRequired
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, tank_id, recorded_at, record
		 FROM telemetry_history
		 WHERE tank_id = ?
		 ORDER BY seq`,
		tankID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e          Entry
			recordedAt string
			recordJSON string
		)
		if err := rows.Scan(&e.Seq, &e.TankID, &recordedAt, &recordJSON); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		if err := json.Unmarshal([]byte(recordJSON), &e.Record); err != nil {
			return nil, fmt.Errorf("unmarshalling record %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	return entries, nil
}

// Clear deletes the tank's history and reports how many records went.
func (s *Store) Clear(ctx context.Context, tankID string) (int64, error) {
	if tankID == "" {
		return 0, ErrTankIDRequired
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM telemetry_history WHERE tank_id = ?", tankID)
	if err != nil {
		return 0, fmt.Errorf("deleting history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
