package api

import (
	"context"
	"net/http"
	"reflect"
	"testing"

	"github.com/nerrad567/tankwatch/internal/history"
	"github.com/nerrad567/tankwatch/internal/tank"
)

func TestCreateTank(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tanks", map[string]any{"id": "T1", "address": "10.0.0.5"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	created := decode[tank.Tank](t, rec)
	if created.ID != "T1" || created.PollIntervalSeconds != 20 {
		t.Errorf("created = %+v", created)
	}
	if !reflect.DeepEqual(env.supervisor.added, []string{"T1"}) {
		t.Errorf("supervisor added = %v", env.supervisor.added)
	}
	if env.notifier.Count() != 1 {
		t.Errorf("device-list notifications = %d, want 1", env.notifier.Count())
	}
}

func TestCreateTank_Errors(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate id", map[string]any{"id": "T1", "address": "10.0.0.6"}, http.StatusConflict},
		{"duplicate address", map[string]any{"id": "T2", "address": "10.0.0.5"}, http.StatusConflict},
		{"missing address", map[string]any{"id": "T3"}, http.StatusBadRequest},
		{"bad interval", map[string]any{"id": "T4", "address": "10.0.0.7", "poll_interval_seconds": -5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/tanks", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if len(env.supervisor.added) != 1 {
		t.Errorf("supervisor added = %v, want only T1", env.supervisor.added)
	}
}

func TestCreateTank_InvalidJSON(t *testing.T) {
	env := testServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/tanks", "not an object")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListAndGetTank(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T2", "10.0.0.6")
	env.createTank(t, "T1", "10.0.0.5")

	rec := env.do(t, http.MethodGet, "/api/v1/tanks", nil)
	body := decode[struct {
		Tanks []tank.Tank `json:"tanks"`
		Count int         `json:"count"`
	}](t, rec)
	if body.Count != 2 || body.Tanks[0].ID != "T1" || body.Tanks[1].ID != "T2" {
		t.Errorf("list = %+v", body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/tanks/T2", nil)
	if got := decode[tank.Tank](t, rec); got.Address != "10.0.0.6" {
		t.Errorf("get = %+v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/tanks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown tank status = %d, want 404", rec.Code)
	}
}

func TestUpdateTank_Rename(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	ctx := context.Background()
	if err := env.history.Append(ctx, "T1", history.Record{Temperature: "4°C"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec := env.do(t, http.MethodPut, "/api/v1/tanks/T1", map[string]any{"id": "North", "address": "10.0.0.5", "poll_interval_seconds": 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !reflect.DeepEqual(env.supervisor.updated, []string{"T1->North"}) {
		t.Errorf("supervisor updated = %v", env.supervisor.updated)
	}

	entries, err := env.history.List(ctx, "North")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history after rename = %d entries, want 1", len(entries))
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/tanks/T1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("old id status = %d, want 404", rec.Code)
	}
}

func TestUpdateTank_KeepsIDWhenOmitted(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")

	rec := env.do(t, http.MethodPut, "/api/v1/tanks/T1", map[string]any{"address": "10.0.0.9"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[tank.Tank](t, rec); got.ID != "T1" || got.Address != "10.0.0.9" {
		t.Errorf("updated = %+v", got)
	}
}

func TestDeleteTank(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")

	rec := env.do(t, http.MethodDelete, "/api/v1/tanks/T1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if !reflect.DeepEqual(env.supervisor.removed, []string{"T1"}) {
		t.Errorf("supervisor removed = %v", env.supervisor.removed)
	}
	if env.registry.Count() != 0 {
		t.Errorf("registry count = %d", env.registry.Count())
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/tanks/T1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestReplaceTanks(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	env.createTank(t, "T2", "10.0.0.6")

	rec := env.do(t, http.MethodPut, "/api/v1/tanks", map[string]any{
		"tanks": []map[string]any{
			{"id": "T2", "address": "10.0.0.16"},
			{"id": "T3", "address": "10.0.0.7"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if !reflect.DeepEqual(env.supervisor.removed, []string{"T1"}) {
		t.Errorf("removed = %v, want [T1]", env.supervisor.removed)
	}
	if !reflect.DeepEqual(env.supervisor.updated, []string{"T2->T2"}) {
		t.Errorf("updated = %v, want [T2->T2]", env.supervisor.updated)
	}
	if !reflect.DeepEqual(env.supervisor.added, []string{"T1", "T2", "T3"}) {
		t.Errorf("added = %v", env.supervisor.added)
	}
}

func TestReplaceTanks_RejectsDuplicates(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")

	rec := env.do(t, http.MethodPut, "/api/v1/tanks", map[string]any{
		"tanks": []map[string]any{
			{"id": "T2", "address": "10.0.0.6"},
			{"id": "T2", "address": "10.0.0.7"},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if _, err := env.registry.Get("T1"); err != nil {
		t.Errorf("registry changed after rejected replace: %v", err)
	}
	if len(env.supervisor.removed) != 0 {
		t.Errorf("supervisor touched: removed %v", env.supervisor.removed)
	}
}

func TestTankStatus(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	env.supervisor.connect("T1")

	rec := env.do(t, http.MethodGet, "/api/v1/tanks/T1/status", nil)
	body := decode[map[string]any](t, rec)
	conn, _ := body["connection"].(map[string]any)
	if conn["state"] != "connected" {
		t.Errorf("connection = %v", conn)
	}
	if body["remote_access"] != "idle" {
		t.Errorf("remote_access = %v", body["remote_access"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/status", nil)
	all := decode[map[string]any](t, rec)
	if all["count"] != float64(1) {
		t.Errorf("status list = %v", all)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	ctx := context.Background()
	for _, temp := range []string{"4°C", "3.5°C"} {
		if err := env.history.Append(ctx, "T1", history.Record{Temperature: temp}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/tanks/T1/history", nil)
	body := decode[struct {
		Entries []history.Entry `json:"entries"`
		Count   int             `json:"count"`
	}](t, rec)
	if body.Count != 2 || body.Entries[0].Record.Temperature != "4°C" {
		t.Errorf("history = %+v", body)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/tanks/T1/history", nil)
	if got := decode[map[string]any](t, rec); got["removed"] != float64(2) {
		t.Errorf("clear = %v", got)
	}

	entries, err := env.history.List(ctx, "T1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after clear = %d", len(entries))
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/tanks/nope/history", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown tank history status = %d, want 404", rec.Code)
	}
}
