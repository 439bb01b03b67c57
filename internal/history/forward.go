package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ForwardStore holds the latest collector payload per tank.
type ForwardStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewForwardStore creates a forward-payload store over an open, migrated database.
func NewForwardStore(db *sql.DB) *ForwardStore {
	return &ForwardStore{db: db, now: time.Now}
}

// Save overwrites the tank's slot with payload encoded as JSON.
func (f *ForwardStore) Save(ctx context.Context, tankID string, payload any) error {
	if tankID == "" {
		return ErrTankIDRequired
	}
	return upsertForward(ctx, f.db, tankID, payload, f.now())
}

func upsertForward(ctx context.Context, ex execer, tankID string, payload any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling forward payload: %w", err)
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO forward_payloads (tank_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tank_id) DO UPDATE SET
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		tankID,
		string(data),
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving forward payload: %w", err)
	}
	return nil
}

// Load returns the stored JSON payload, or ErrNoPayload when the slot is empty.
func (f *ForwardStore) Load(ctx context.Context, tankID string) (json.RawMessage, error) {
	if tankID == "" {
		return nil, ErrTankIDRequired
	}

	var payload string
	err := f.db.QueryRowContext(ctx,
		"SELECT payload FROM forward_payloads WHERE tank_id = ?", tankID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPayload
	}
	if err != nil {
		return nil, fmt.Errorf("loading forward payload: %w", err)
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("forward payload for %s is not valid JSON", tankID)
	}

	return json.RawMessage(payload), nil
}

// Delete empties the tank's slot. Deleting an empty slot is not an error.
func (f *ForwardStore) Delete(ctx context.Context, tankID string) error {
	if tankID == "" {
		return ErrTankIDRequired
	}
	if _, err := f.db.ExecContext(ctx, "DELETE FROM forward_payloads WHERE tank_id = ?", tankID); err != nil {
		return fmt.Errorf("deleting forward payload: %w", err)
	}
	return nil
}
