package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tankwatch/internal/audit"
	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/bridges/opcua/opcuatest"
	"github.com/nerrad567/tankwatch/internal/history"
	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
	"github.com/nerrad567/tankwatch/internal/infrastructure/database"
	"github.com/nerrad567/tankwatch/internal/infrastructure/logging"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/supervisor"
	"github.com/nerrad567/tankwatch/internal/tank"
	"github.com/nerrad567/tankwatch/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSupervisor records lifecycle calls and lends opcuatest sessions.
type fakeSupervisor struct {
	mu       sync.Mutex
	tanks    map[string]tank.Tank
	sessions map[string]*opcuatest.Session
	added    []string
	removed  []string
	updated  []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		tanks:    make(map[string]tank.Tank),
		sessions: make(map[string]*opcuatest.Session),
	}
}

func (f *fakeSupervisor) Add(_ context.Context, t tank.Tank) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tanks[t.ID]; ok {
		return supervisor.ErrTankExists
	}
	f.tanks[t.ID] = t
	f.added = append(f.added, t.ID)
	return nil
}

func (f *fakeSupervisor) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tanks[id]; !ok {
		return supervisor.ErrTankNotFound
	}
	delete(f.tanks, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeSupervisor) Update(_ context.Context, oldID string, t tank.Tank) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tanks, oldID)
	f.tanks[t.ID] = t
	f.updated = append(f.updated, oldID+"->"+t.ID)
	return nil
}

func (f *fakeSupervisor) Status() []supervisor.TankStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]supervisor.TankStatus, 0, len(f.tanks))
	for id, t := range f.tanks {
		out = append(out, f.statusLocked(id, t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TankID < out[j].TankID })
	return out
}

func (f *fakeSupervisor) TankStatus(id string) (supervisor.TankStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tanks[id]
	if !ok {
		return supervisor.TankStatus{}, supervisor.ErrTankNotFound
	}
	return f.statusLocked(id, t), nil
}

func (f *fakeSupervisor) statusLocked(id string, t tank.Tank) supervisor.TankStatus {
	state := supervisor.StateDisconnected
	if _, ok := f.sessions[id]; ok {
		state = supervisor.StateConnected
	}
	return supervisor.TankStatus{TankID: id, Address: t.Address, State: state}
}

func (f *fakeSupervisor) WithSession(_ context.Context, id string, fn func(opcua.Session) error) error {
	f.mu.Lock()
	s, ok := f.sessions[id]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", supervisor.ErrNotConnected, id)
	}
	return fn(s)
}

func (f *fakeSupervisor) connect(id string) *opcuatest.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := opcuatest.NewSession()
	f.sessions[id] = s
	return s
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) DeviceListChanged() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

type testEnv struct {
	server     *Server
	handler    http.Handler
	registry   *tank.Registry
	history    *history.Store
	supervisor *fakeSupervisor
	arbiter    *remoteaccess.Arbiter
	notifier   *countingNotifier
	token      string
}

// testServer creates a Server with a real tank registry and history store
// backed by in-memory SQLite, a real arbiter and a fake supervisor.
func testServer(t *testing.T) *testEnv {
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

	registry := tank.NewRegistry(tank.NewSQLiteRepository(db.DB), 20)
	if err := registry.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	hist := history.NewStore(db.DB)
	sup := newFakeSupervisor()
	arbiter := remoteaccess.New(sup)
	notifier := &countingNotifier{}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	security := config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: "tankwatch"}}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security:   security,
		Logger:     log,
		Registry:   registry,
		Supervisor: sup,
		Arbiter:    arbiter,
		History:    hist,
		Notifier:   notifier,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("tankwatch_up 1\n")) //nolint:errcheck // test handler
		}),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(hubCtx)

	token, err := IssueToken(security.JWT, "operator", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	return &testEnv{
		server:     srv,
		handler:    srv.buildRouter(),
		registry:   registry,
		history:    hist,
		supervisor: sup,
		arbiter:    arbiter,
		notifier:   notifier,
		token:      token,
	}
}

// do sends an authenticated request and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createTank(t *testing.T, id, address string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/tanks", map[string]any{"id": id, "address": address})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s: status = %d, body = %s", id, rec.Code, rec.Body.String())
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(empty) error = nil")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("database locked") }

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t)
	env.server.health = map[string]HealthChecker{"database": failingCheck{}}

	rec := httptest.NewRecorder()
	env.server.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	checks, _ := body["checks"].(map[string]any)
	if checks["database"] != "database locked" {
		t.Errorf("checks = %v", checks)
	}
}

func TestMetricsRoute(t *testing.T) {
	env := testServer(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "tankwatch_up 1\n" {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := testServer(t)
	now := time.Now()

	expired, err := IssueToken(config.JWTConfig{Secret: testSecret, Issuer: "tankwatch"}, "operator", time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	wrongKey, err := IssueToken(config.JWTConfig{Secret: "another-secret-key-of-sufficient-length", Issuer: "tankwatch"}, "operator", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	wrongIssuer, err := IssueToken(config.JWTConfig{Secret: testSecret, Issuer: "someone-else"}, "operator", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"valid", "Bearer " + env.token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tanks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tanks", nil)
	req.Header.Set("Origin", "http://panel.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Errorf("Access-Control-Allow-Origin not set (status %d)", rec.Code)
	}
}
