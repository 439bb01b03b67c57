package notify

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tankwatch/internal/history"
	"github.com/nerrad567/tankwatch/internal/infrastructure/mqtt"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestNotifier_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	n := New(a)
	n.AddPublisher(b)
	fixed := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	rec := history.Record{Date: "05/03/2026", Temperature: "4°C"}
	n.DeviceListChanged()
	n.TelemetryUpdated("T1", rec)
	n.ConnectionLost("T1")
	n.RemoteAccessGranted("T1", false)
	n.RemoteAccessFinished("T1")

	want := []Event{
		{Type: EventDeviceListChanged, Timestamp: fixed},
		{Type: EventTelemetryUpdated, TankID: "T1", Payload: TelemetryPayload{Record: rec}, Timestamp: fixed},
		{Type: EventConnectionLost, TankID: "T1", Timestamp: fixed},
		{Type: EventRemoteAccessGranted, TankID: "T1", Payload: GrantPayload{Granted: false}, Timestamp: fixed},
		{Type: EventRemoteAccessFinished, TankID: "T1", Timestamp: fixed},
	}
	for _, r := range []*recorder{a, b} {
		if got := r.Events(); !reflect.DeepEqual(got, want) {
			t.Errorf("events = %+v\nwant %+v", got, want)
		}
	}
}

func TestNotifier_ConnectionLostHooksRunFirst(t *testing.T) {
	r := &recorder{}
	n := New(r)

	var seen []string
	n.OnConnectionLost(func(id string) {
		seen = append(seen, id)
		if len(r.Events()) != 0 {
			t.Error("event published before hook ran")
		}
	})
	n.ConnectionLost("T7")

	if !reflect.DeepEqual(seen, []string{"T7"}) {
		t.Errorf("hook saw %v", seen)
	}
}

type fakeMQTT struct {
	mu        sync.Mutex
	published map[string][]byte
	fail      error
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if retained {
		return errors.New("events must not be retained")
	}
	if f.fail != nil {
		return f.fail
	}
	if f.published == nil {
		f.published = make(map[string][]byte)
	}
	f.published[topic] = payload
	return nil
}

func (f *fakeMQTT) Topics() mqtt.Topics { return mqtt.NewTopics("tankwatch") }
func (f *fakeMQTT) QoS() byte           { return 1 }

func (f *fakeMQTT) topics() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.published))
	for k, v := range f.published {
		out[k] = v
	}
	return out
}

func TestMQTTPublisher_PublishesFleetAndTankTopics(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, nil)
	n := New(p)

	n.RemoteAccessGranted("T1", true)
	n.DeviceListChanged()
	p.Close()

	got := client.topics()
	for _, topic := range []string{
		"tankwatch/events/remote-access-granted",
		"tankwatch/tanks/T1/remote-access-granted",
		"tankwatch/events/device-list-changed",
	} {
		if _, ok := got[topic]; !ok {
			t.Errorf("nothing published on %s (have %v)", topic, got)
		}
	}
	if len(got) != 3 {
		t.Errorf("published topics = %d, want 3", len(got))
	}

	var ev struct {
		Type    string       `json:"type"`
		TankID  string       `json:"tank_id"`
		Payload GrantPayload `json:"payload"`
	}
	if err := json.Unmarshal(got["tankwatch/events/remote-access-granted"], &ev); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if ev.Type != EventRemoteAccessGranted || ev.TankID != "T1" || !ev.Payload.Granted {
		t.Errorf("decoded event = %+v", ev)
	}
}

func TestMQTTPublisher_FailuresDoNotStopQueue(t *testing.T) {
	client := &fakeMQTT{fail: errors.New("not connected")}
	p := NewMQTTPublisher(client, nil)

	p.Publish(Event{Type: EventConnectionLost, TankID: "T1"})
	p.Close()
	p.Close()

	// Publishing after Close must not block or panic.
	p.Publish(Event{Type: EventConnectionLost, TankID: "T1"})
}
