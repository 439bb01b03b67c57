package supervisor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/bridges/opcua/opcuatest"
	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
	"github.com/nerrad567/tankwatch/internal/tank"
)

var errRefused = errors.New("connection refused")

type fakeNotifier struct {
	mu   sync.Mutex
	lost []string
}

func (n *fakeNotifier) ConnectionLost(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lost = append(n.lost, id)
}

func (n *fakeNotifier) lostFor(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, l := range n.lost {
		if l == id {
			count++
		}
	}
	return count
}

type countingTicks struct {
	telemetry atomic.Int32
	running   atomic.Int32
	hold      time.Duration
}

func (c *countingTicks) TelemetryTick(ctx context.Context, _ string) {
	c.running.Add(1)
	defer c.running.Add(-1)
	if c.hold > 0 {
		select {
		case <-time.After(c.hold):
		case <-ctx.Done():
		}
	}
	c.telemetry.Add(1)
}

func (c *countingTicks) ForwardTick(context.Context, string) {}

func testOptions() Options {
	return Options{
		OPCUA: config.OPCUAConfig{
			Port:           4840,
			SecurityPolicy: "Basic256Sha256",
			SecurityMode:   "SignAndEncrypt",
			Username:       "Widget",
			CallTimeout:    1,
			ConnectTimeout: 1,
		},
		Supervisor: config.SupervisorConfig{
			SweepInterval:   20,
			BackoffMax:      300,
			BackoffJitter:   0.2,
			ForwardInterval: 900,
		},
	}
}

func newTestSupervisor(t *testing.T, prepare func(*opcuatest.Client)) (*Supervisor, *opcuatest.Dialer, *fakeNotifier) {
	t.Helper()
	dialer := opcuatest.NewDialer(prepare)
	notifier := &fakeNotifier{}

	sup := New(dialer, testOptions())
	sup.SetNotifier(notifier)
	sup.random = func() float64 { return 0.5 }

	t.Cleanup(func() { sup.Stop(context.Background()) })
	return sup, dialer, notifier
}

func testTank(id, addr string) tank.Tank {
	return tank.Tank{ID: id, Address: addr, PollIntervalSeconds: 20}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stateOf(t *testing.T, sup *Supervisor, id string) State {
	t.Helper()
	st, err := sup.State(id)
	if err != nil {
		t.Fatalf("State(%s) error = %v", id, err)
	}
	return st
}

func TestAdd_ConnectsAndArms(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)

	if err := sup.Add(context.Background(), testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := stateOf(t, sup, "T1"); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	client := dialer.Last()
	if got, want := client.Config.Endpoint, "opc.tcp://10.0.0.1:4840"; got != want {
		t.Errorf("endpoint = %q, want %q", got, want)
	}
	if client.Config.SecurityMode != "SignAndEncrypt" || client.Config.Username != "Widget" {
		t.Errorf("client config = %+v", client.Config)
	}
	if len(client.Sessions()) != 1 {
		t.Errorf("sessions = %d, want 1", len(client.Sessions()))
	}

	sup.mu.RLock()
	m := sup.tanks["T1"]
	sup.mu.RUnlock()
	if !m.timers.Armed() {
		t.Error("timers not armed after connect")
	}

	if err := sup.Add(context.Background(), testTank("T1", "10.0.0.9")); !errors.Is(err, ErrTankExists) {
		t.Errorf("duplicate Add() error = %v, want ErrTankExists", err)
	}
}

func TestAdd_FailureIsRetriedBySweep(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, func(c *opcuatest.Client) {
		c.FailConnect(errRefused)
	})
	ctx := context.Background()

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() must not surface transport errors, got %v", err)
	}
	status, _ := sup.TankStatus("T1")
	if status.State != StateDisconnected || status.Failures != 1 {
		t.Fatalf("status = %+v, want disconnected with 1 failure", status)
	}
	if status.LastError == "" {
		t.Error("LastError not recorded")
	}

	dialer.Last().FailConnect(nil)
	sup.Sweep(ctx)

	if got := stateOf(t, sup, "T1"); got != StateConnected {
		t.Errorf("state after sweep = %v, want connected", got)
	}
	if len(dialer.Clients()) != 1 {
		t.Errorf("sweep dialled a new client; clients = %d", len(dialer.Clients()))
	}
}

func TestBackoff(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, nil)

	tests := []struct {
		failures int
		random   float64
		want     time.Duration
	}{
		{1, 0.5, 0},
		{2, 0.5, 40 * time.Second},
		{3, 0.5, 80 * time.Second},
		{5, 0.5, 300 * time.Second},
		{50, 0.5, 300 * time.Second},
		{2, 0, 32 * time.Second},
		{2, 1, 48 * time.Second},
	}

	for _, tt := range tests {
		sup.random = func() float64 { return tt.random }
		if got := sup.backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d, r=%v) = %v, want %v", tt.failures, tt.random, got, tt.want)
		}
	}
}

func TestSweep_RespectsBackoff(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, func(c *opcuatest.Client) {
		c.FailConnect(errRefused)
	})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sup.now = func() time.Time { return now }

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	sup.Sweep(ctx) // second failure defers the tank by 40 s
	client := dialer.Last()
	calls := client.ConnectCalls()

	now = now.Add(30 * time.Second)
	sup.Sweep(ctx)
	if got := client.ConnectCalls(); got != calls {
		t.Errorf("sweep inside backoff window connected: %d -> %d", calls, got)
	}

	now = now.Add(15 * time.Second)
	sup.Sweep(ctx)
	if got := client.ConnectCalls(); got != calls+1 {
		t.Errorf("sweep after backoff window: calls = %d, want %d", got, calls+1)
	}
}

func TestConnectionLost(t *testing.T) {
	sup, dialer, notifier := newTestSupervisor(t, nil)
	ctx := context.Background()

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	client := dialer.Last()
	first := client.Sessions()[0]
	genBefore, _ := sup.TankStatus("T1")

	client.Drop()
	waitFor(t, "lost state", func() bool { return stateOf(t, sup, "T1") == StateLost })

	if notifier.lostFor("T1") != 1 {
		t.Errorf("connection-lost notifications = %d, want 1", notifier.lostFor("T1"))
	}
	if !first.Closed() {
		t.Error("lost session not closed")
	}
	if err := sup.WithSession(ctx, "T1", func(opcua.Session) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("WithSession() while lost error = %v, want ErrNotConnected", err)
	}

	sup.Sweep(ctx)
	status, _ := sup.TankStatus("T1")
	if status.State != StateConnected {
		t.Fatalf("state after sweep = %v, want connected", status.State)
	}
	if status.Generation <= genBefore.Generation {
		t.Errorf("generation did not advance: %d -> %d", genBefore.Generation, status.Generation)
	}
	if got := client.MaxLiveSessions(); got != 1 {
		t.Errorf("max live sessions = %d, want 1", got)
	}
}

func TestConnectedHookRunsOnEverySession(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var calls []string
	sup.SetConnected(func(ctx context.Context, id string) {
		// The hook may borrow the fresh session.
		err := sup.WithSession(ctx, id, func(opcua.Session) error { return nil })
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			calls = append(calls, id+":"+err.Error())
			return
		}
		calls = append(calls, id)
	})

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	dialer.Last().Drop()
	waitFor(t, "lost state", func() bool { return stateOf(t, sup, "T1") == StateLost })
	sup.Sweep(ctx)

	mu.Lock()
	defer mu.Unlock()
	if want := []string{"T1", "T1"}; !slices.Equal(calls, want) {
		t.Errorf("hook calls = %v, want %v", calls, want)
	}
}

type recordingStateSink struct {
	mu     sync.Mutex
	states []string
	at     []time.Time
}

func (r *recordingStateSink) WriteConnectionState(tankID, state string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, tankID+":"+state)
	r.at = append(r.at, at)
}

func (r *recordingStateSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestStateSink_RecordsTransitions(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	sink := &recordingStateSink{}
	sup.SetStateSink(sink)
	fixed := time.Date(2026, 3, 5, 6, 7, 8, 0, time.UTC)
	sup.now = func() time.Time { return fixed }

	if err := sup.Add(context.Background(), testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	want := []string{"T1:disconnected", "T1:connecting", "T1:connected"}
	if got := sink.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("states after add = %v, want %v", got, want)
	}

	dialer.Last().Drop()
	waitFor(t, "lost state recorded", func() bool {
		got := sink.snapshot()
		return len(got) == 4 && got[3] == "T1:lost"
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, at := range sink.at {
		if !at.Equal(fixed) {
			t.Errorf("state %d recorded at %v, want %v", i, at, fixed)
		}
	}
}

func TestReestablishedDuringSweepKeepsOneSession(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	client := dialer.Last()

	client.Drop()
	waitFor(t, "lost state", func() bool { return stateOf(t, sup, "T1") == StateLost })

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client.SetConnectHook(func(context.Context) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})

	sweepDone := make(chan struct{})
	go func() {
		sup.Sweep(ctx)
		close(sweepDone)
	}()
	<-entered

	// The transport comes back while the sweep is mid-transition.
	client.Restore()
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-sweepDone

	waitFor(t, "connected state", func() bool { return stateOf(t, sup, "T1") == StateConnected })

	if got := len(client.Sessions()); got != 2 {
		t.Errorf("sessions created = %d, want 2 (initial + one recovery)", got)
	}
	if got := client.MaxLiveSessions(); got != 1 {
		t.Errorf("max live sessions = %d, want 1", got)
	}
	if got := client.LiveSessions(); got != 1 {
		t.Errorf("live sessions = %d, want 1", got)
	}
}

func TestReestablishedThenSweepIsNoop(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	client := dialer.Last()

	client.Drop()
	waitFor(t, "lost state", func() bool { return stateOf(t, sup, "T1") == StateLost })
	client.Restore()
	waitFor(t, "connected state", func() bool { return stateOf(t, sup, "T1") == StateConnected })

	sup.Sweep(ctx)
	if got := len(client.Sessions()); got != 2 {
		t.Errorf("sessions created = %d, want 2", got)
	}
	if got := client.MaxLiveSessions(); got != 1 {
		t.Errorf("max live sessions = %d, want 1", got)
	}
}

func TestClosedEventClearsClient(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	first := dialer.Last()
	first.Close(ctx) //nolint:errcheck // fake

	waitFor(t, "disconnected state", func() bool { return stateOf(t, sup, "T1") == StateDisconnected })

	sup.Sweep(ctx)
	if got := len(dialer.Clients()); got != 2 {
		t.Fatalf("clients = %d, want a fresh client after close", got)
	}
	if got := stateOf(t, sup, "T1"); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestRemove_CancelsTimersAndWaits(t *testing.T) {
	ticks := &countingTicks{hold: 100 * time.Millisecond}
	sup, dialer, _ := newTestSupervisor(t, nil)
	sup.SetTickHandler(ticks)
	ctx := context.Background()

	var teardownSawSession atomic.Bool
	sup.SetTeardown(func(ctx context.Context, id string) {
		err := sup.WithSession(ctx, id, func(opcua.Session) error { return nil })
		teardownSawSession.Store(err == nil)
	})

	tk := testTank("T1", "10.0.0.1")
	tk.PollIntervalSeconds = 1
	if err := sup.Add(ctx, tk); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	waitFor(t, "a tick in flight", func() bool { return ticks.running.Load() > 0 })

	if err := sup.Remove(ctx, "T1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ticks.running.Load() != 0 {
		t.Error("Remove returned while a tick was running")
	}
	if !teardownSawSession.Load() {
		t.Error("teardown ran without a usable session")
	}
	if !dialer.Last().Closed() {
		t.Error("client not closed")
	}
	if _, err := sup.State("T1"); !errors.Is(err, ErrTankNotFound) {
		t.Errorf("State() after Remove error = %v, want ErrTankNotFound", err)
	}

	count := ticks.telemetry.Load()
	time.Sleep(1200 * time.Millisecond)
	if got := ticks.telemetry.Load(); got != count {
		t.Errorf("ticks after Remove: %d -> %d", count, got)
	}
}

func TestWithSession(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	if err := sup.WithSession(ctx, "ghost", func(opcua.Session) error { return nil }); !errors.Is(err, ErrTankNotFound) {
		t.Errorf("unknown tank error = %v, want ErrTankNotFound", err)
	}

	if err := sup.Add(ctx, testTank("T1", "10.0.0.1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	want := errors.New("read failed")
	if err := sup.WithSession(ctx, "T1", func(opcua.Session) error { return want }); !errors.Is(err, want) {
		t.Errorf("fn error not propagated: %v", err)
	}

	client := dialer.Last()
	err := sup.WithSession(ctx, "T1", func(opcua.Session) error {
		client.Drop()
		waitFor(t, "lost state", func() bool { return stateOf(t, sup, "T1") == StateLost })
		return nil
	})
	if !errors.Is(err, ErrSessionLost) {
		t.Errorf("call straddling a disconnect error = %v, want ErrSessionLost", err)
	}
}

func TestUpdate(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	tk := testTank("T1", "10.0.0.1")
	if err := sup.Add(ctx, tk); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := sup.Update(ctx, "T1", tk); err != nil {
		t.Fatalf("Update() unchanged error = %v", err)
	}
	if len(dialer.Clients()) != 1 {
		t.Errorf("unchanged update reconnected")
	}

	moved := tk
	moved.Address = "10.0.0.2"
	if err := sup.Update(ctx, "T1", moved); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	clients := dialer.Clients()
	if len(clients) != 2 || !clients[0].Closed() {
		t.Fatalf("address change did not replace the client")
	}
	if got := clients[1].Config.Endpoint; got != "opc.tcp://10.0.0.2:4840" {
		t.Errorf("new endpoint = %q", got)
	}

	renamed := moved
	renamed.ID = "North"
	if err := sup.Update(ctx, "T1", renamed); err != nil {
		t.Fatalf("Update() rename error = %v", err)
	}
	if _, err := sup.State("T1"); !errors.Is(err, ErrTankNotFound) {
		t.Error("old id still managed after rename")
	}
	if got := stateOf(t, sup, "North"); got != StateConnected {
		t.Errorf("renamed tank state = %v", got)
	}
}

func TestStatusAndStop(t *testing.T) {
	sup, dialer, _ := newTestSupervisor(t, nil)
	ctx := context.Background()

	if err := sup.AddAll(ctx, []tank.Tank{testTank("B", "10.0.0.2"), testTank("A", "10.0.0.1")}); err != nil {
		t.Fatalf("AddAll() error = %v", err)
	}

	status := sup.Status()
	if len(status) != 2 || status[0].TankID != "A" || status[1].TankID != "B" {
		t.Fatalf("Status() = %+v", status)
	}
	for _, st := range status {
		if st.State != StateConnected {
			t.Errorf("%s state = %v", st.TankID, st.State)
		}
	}

	sup.Start(ctx)
	sup.Stop(ctx)

	if len(sup.Status()) != 0 {
		t.Error("tanks left after Stop")
	}
	for _, c := range dialer.Clients() {
		if !c.Closed() {
			t.Error("client left open after Stop")
		}
	}
	if err := sup.Add(ctx, testTank("C", "10.0.0.3")); !errors.Is(err, ErrStopped) {
		t.Errorf("Add() after Stop error = %v, want ErrStopped", err)
	}
}

func TestState_MarshalText(t *testing.T) {
	b, err := StateLost.MarshalText()
	if err != nil || string(b) != "lost" {
		t.Errorf("MarshalText() = %q, %v", b, err)
	}
	if State(42).String() != "unknown" {
		t.Error("out of range state name")
	}
}
