package api

import (
	"net/http"
	"reflect"
	"testing"

	"github.com/nerrad567/tankwatch/internal/audit"
	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/telemetry"
)

func TestRemoteAccessFlow(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	session := env.supervisor.connect("T1")

	rec := env.do(t, http.MethodPost, "/api/v1/tanks/T1/access", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("request status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]any](t, rec); got["state"] != "requested" {
		t.Errorf("request response = %v", got)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tanks/T1/access", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second request status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tanks/T1/commands/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("command before grant status = %d, want 409", rec.Code)
	}

	session.LastSubscription().Push(opcua.SByte(1))
	if got := env.arbiter.State("T1"); got != remoteaccess.StateGranted {
		t.Fatalf("arbiter state = %s, want granted", got)
	}

	session.SetValue(opcua.CommandStop.AckNodeID(), opcua.Bool(true))
	rec = env.do(t, http.MethodPost, "/api/v1/tanks/T1/commands/STOP", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("command status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]any](t, rec); got["command"] != "stop" || got["acknowledged"] != true {
		t.Errorf("command response = %v", got)
	}

	session.SetValue(opcua.CommandWash.AckNodeID(), opcua.Bool(false))
	rec = env.do(t, http.MethodPost, "/api/v1/tanks/T1/commands/wash", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("unacknowledged command status = %d, want 502", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tanks/T1/commands/heat", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown command status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/tanks/T1/access", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]any](t, rec); got["state"] != "terminated" {
		t.Errorf("close response = %v", got)
	}
	want := []opcua.Variant{opcua.SByte(-3)}
	if got := session.WritesTo(opcua.RemoteAccessStatusNode); !reflect.DeepEqual(got, want) {
		t.Errorf("status writes = %v, want %v", got, want)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tanks/T1/access/reset", nil)
	if got := decode[map[string]any](t, rec); got["state"] != "idle" {
		t.Errorf("reset response = %v", got)
	}
}

func TestRemoteAccess_Errors(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown tank", http.MethodPost, "/api/v1/tanks/nope/access", http.StatusNotFound},
		{"not connected", http.MethodPost, "/api/v1/tanks/T1/access", http.StatusServiceUnavailable},
		{"close without session", http.MethodDelete, "/api/v1/tanks/T1/access", http.StatusConflict},
		{"reset idle", http.MethodPost, "/api/v1/tanks/T1/access/reset", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRemoteAccess_RejectedRequest(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	session := env.supervisor.connect("T1")
	session.FailWrite(opcua.RemoteAccessRequestNode, &opcua.StatusError{Op: "write", NodeID: opcua.RemoteAccessRequestNode, Code: 0x80730000})

	rec := env.do(t, http.MethodPost, "/api/v1/tanks/T1/access", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestReadPoints(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")

	rec := env.do(t, http.MethodGet, "/api/v1/tanks/T1/temperature", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disconnected read status = %d, want 503", rec.Code)
	}

	session := env.supervisor.connect("T1")
	session.SetValue(opcua.ReadNodeID(telemetry.PointTemperature), opcua.Double(3.75))
	session.SetValue(opcua.ReadNodeID(telemetry.PointState), opcua.String("Froid"))

	rec = env.do(t, http.MethodGet, "/api/v1/tanks/T1/temperature", nil)
	if got := decode[map[string]any](t, rec); got["value"] != 3.75 || got["point"] != "Temperature" {
		t.Errorf("temperature = %v", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/tanks/T1/mode", nil)
	if got := decode[map[string]any](t, rec); got["value"] != "Froid" {
		t.Errorf("mode = %v", got)
	}

	session.FailRead(opcua.ReadNodeID(telemetry.PointState), &opcua.StatusError{Op: "read", Code: 0x80340000})
	rec = env.do(t, http.MethodGet, "/api/v1/tanks/T1/mode", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("bad status read = %d, want 502", rec.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	env := testServer(t)
	env.createTank(t, "T1", "10.0.0.5")
	env.supervisor.connect("T1")

	env.do(t, http.MethodPost, "/api/v1/tanks/T1/access", nil)
	env.do(t, http.MethodPost, "/api/v1/tanks/T1/commands/stop", nil) // not granted yet

	rec := env.do(t, http.MethodGet, "/api/v1/audit?tank_id=T1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	res := decode[audit.ListResult](t, rec)
	if res.Total != 3 {
		t.Fatalf("total = %d, want 3 (%+v)", res.Total, res.Entries)
	}

	want := []struct{ action, outcome string }{
		{audit.ActionCommand, audit.OutcomeFailure},
		{audit.ActionAccessRequest, audit.OutcomeSuccess},
		{audit.ActionTankCreate, audit.OutcomeSuccess},
	}
	for i, w := range want {
		got := res.Entries[i]
		if got.Action != w.action || got.Outcome != w.outcome {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, got.Action, got.Outcome, w.action, w.outcome)
		}
		if got.Subject != "operator" {
			t.Errorf("entry %d subject = %q, want operator", i, got.Subject)
		}
	}
	if res.Entries[0].Details["command"] != "stop" || res.Entries[0].Details["error"] == nil {
		t.Errorf("command details = %v", res.Entries[0].Details)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/audit?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}
