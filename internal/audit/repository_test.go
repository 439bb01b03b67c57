package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/tankwatch/internal/infrastructure/database"
	"github.com/nerrad567/tankwatch/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := setupTestRepo(t)
	fixed := time.Date(2026, 3, 5, 6, 7, 8, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	e := &Entry{Action: ActionCommand, TankID: "T1", Subject: "operator", Details: map[string]any{"command": "stop"}}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if e.Outcome != OutcomeSuccess || !e.CreatedAt.Equal(fixed) {
		t.Errorf("defaults = %q %v", e.Outcome, e.CreatedAt)
	}

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() = %+v", res)
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.TankID != "T1" || got.Subject != "operator" || got.Details["command"] != "stop" {
		t.Errorf("entry = %+v", got)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, fixed)
	}
}

func TestCreate_RequiresAction(t *testing.T) {
	repo := setupTestRepo(t)
	if err := repo.Create(context.Background(), &Entry{TankID: "T1"}); err == nil {
		t.Error("Create() without action succeeded")
	}
}

func TestList_FiltersAndPages(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionTankCreate, TankID: "T1"},
		{Action: ActionAccessRequest, TankID: "T1"},
		{Action: ActionCommand, TankID: "T1", Outcome: OutcomeFailure},
		{Action: ActionTankCreate, TankID: "T2"},
		{Action: ActionTankReplace},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		total   int
		actions []string
	}{
		{"all newest first", Filter{}, 5, []string{ActionTankReplace, ActionTankCreate, ActionCommand, ActionAccessRequest, ActionTankCreate}},
		{"by tank", Filter{TankID: "T1"}, 3, []string{ActionCommand, ActionAccessRequest, ActionTankCreate}},
		{"by action", Filter{Action: ActionTankCreate}, 2, []string{ActionTankCreate, ActionTankCreate}},
		{"paged", Filter{Limit: 2, Offset: 1}, 5, []string{ActionTankCreate, ActionCommand}},
		{"no match", Filter{TankID: "T9"}, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Entries) != len(tt.actions) {
				t.Fatalf("entries = %d, want %d", len(res.Entries), len(tt.actions))
			}
			for i, want := range tt.actions {
				if res.Entries[i].Action != want {
					t.Errorf("entry %d action = %q, want %q", i, res.Entries[i].Action, want)
				}
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupTestRepo(t)
	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != 200 || res.Offset != 0 {
		t.Errorf("Limit, Offset = %d, %d, want 200, 0", res.Limit, res.Offset)
	}
	if res.Entries == nil {
		t.Error("Entries is nil, want empty slice")
	}
}
