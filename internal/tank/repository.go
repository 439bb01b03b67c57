package tank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists the tank registry.
//
// Every mutating method is atomic: either the whole change is visible or
// none of it is.
type Repository interface {
	// GetByID returns ErrTankNotFound for unknown IDs.
	GetByID(ctx context.Context, id string) (*Tank, error)

	// List returns all tanks ordered by ID.
	List(ctx context.Context) ([]Tank, error)

	// Create returns ErrTankExists or ErrAddressInUse on conflicts.
	Create(ctx context.Context, t *Tank) error

	// Update modifies address and interval of an existing tank.
	Update(ctx context.Context, t *Tank) error

	// Rename moves a tank, its history and its forward payload to a new ID.
	Rename(ctx context.Context, oldID string, t *Tank) error

	// Delete removes a tank together with its history and forward payload.
	Delete(ctx context.Context, id string) error

	// ReplaceAll swaps the whole registry for tanks in one transaction.
	// Data of tanks no longer present is removed.
	ReplaceAll(ctx context.Context, tanks []Tank) error
}

// SQLiteRepository implements Repository on the tanks table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectTanks = `SELECT id, address, poll_interval_seconds, created_at, updated_at FROM tanks`

// GetByID retrieves one tank.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Tank, error) {
	row := r.db.QueryRowContext(ctx, selectTanks+` WHERE id = ?`, id)
	t, err := scanTank(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTankNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tank by id: %w", err)
	}
	return t, nil
}

// List retrieves all tanks.
func (r *SQLiteRepository) List(ctx context.Context) ([]Tank, error) {
	rows, err := r.db.QueryContext(ctx, selectTanks+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tanks: %w", err)
	}
	defer rows.Close()

	var tanks []Tank
	for rows.Next() {
		t, err := scanTank(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tank: %w", err)
		}
		tanks = append(tanks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tanks: %w", err)
	}
	return tanks, nil
}

// Create inserts a tank.
func (r *SQLiteRepository) Create(ctx context.Context, t *Tank) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tanks (id, address, poll_interval_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Address, t.PollIntervalSeconds, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return mapConstraintError(err, "inserting tank")
	}
	return nil
}

// Update modifies an existing tank in place.
func (r *SQLiteRepository) Update(ctx context.Context, t *Tank) error {
	t.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`UPDATE tanks SET address = ?, poll_interval_seconds = ?, updated_at = ? WHERE id = ?`,
		t.Address, t.PollIntervalSeconds, formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return mapConstraintError(err, "updating tank")
	}
	return expectOneRow(res)
}

// Rename re-keys a tank and everything stored under its ID.
func (r *SQLiteRepository) Rename(ctx context.Context, oldID string, t *Tank) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := scanTank(tx.QueryRowContext(ctx, selectTanks+` WHERE id = ?`, oldID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTankNotFound
	}
	if err != nil {
		return fmt.Errorf("querying tank by id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tanks WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("removing old tank: %w", err)
	}

	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tanks (id, address, poll_interval_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Address, t.PollIntervalSeconds, formatTime(t.CreatedAt), formatTime(t.UpdatedAt)); err != nil {
		return mapConstraintError(err, "inserting renamed tank")
	}

	for _, stmt := range []string{
		`UPDATE telemetry_history SET tank_id = ? WHERE tank_id = ?`,
		`UPDATE forward_payloads SET tank_id = ? WHERE tank_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, t.ID, oldID); err != nil {
			return fmt.Errorf("moving tank data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rename: %w", err)
	}
	return nil
}

// Delete removes a tank and its stored data.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM tanks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tank: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	if err := deleteTankData(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// ReplaceAll makes tanks the complete registry.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, tanks []Tank) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	keep := make(map[string]bool, len(tanks))
	for _, t := range tanks {
		keep[t.ID] = true
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM tanks`)
	if err != nil {
		return fmt.Errorf("querying tank ids: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning tank id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating tank ids: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tanks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting tank %s: %w", id, err)
		}
		if err := deleteTankData(ctx, tx, id); err != nil {
			return err
		}
	}

	// Clear addresses first so swapped addresses do not trip the unique index.
	if _, err := tx.ExecContext(ctx, `UPDATE tanks SET address = '~' || id`); err != nil {
		return fmt.Errorf("releasing addresses: %w", err)
	}

	now := time.Now().UTC()
	for _, t := range tanks {
		created := t.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tanks (id, address, poll_interval_seconds, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   address = excluded.address,
			   poll_interval_seconds = excluded.poll_interval_seconds,
			   updated_at = excluded.updated_at`,
			t.ID, t.Address, t.PollIntervalSeconds, formatTime(created), formatTime(now)); err != nil {
			return mapConstraintError(err, "upserting tank "+t.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace: %w", err)
	}
	return nil
}

func deleteTankData(ctx context.Context, tx *sql.Tx, id string) error {
	for _, stmt := range []string{
		`DELETE FROM telemetry_history WHERE tank_id = ?`,
		`DELETE FROM forward_payloads WHERE tank_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("deleting tank data: %w", err)
		}
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTank(row rowScanner) (*Tank, error) {
	var (
		t                    Tank
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Address, &t.PollIntervalSeconds, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrTankNotFound
	}
	return nil
}

// mapConstraintError turns SQLite unique violations into sentinel errors.
func mapConstraintError(err error, op string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: tanks.id"):
		return ErrTankExists
	case strings.Contains(msg, "UNIQUE constraint failed: tanks.address"):
		return ErrAddressInUse
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
