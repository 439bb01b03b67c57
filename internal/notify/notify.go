package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/tankwatch/internal/history"
)

// Event types.
const (
	EventDeviceListChanged    = "device-list-changed"
	EventTelemetryUpdated     = "telemetry-updated"
	EventConnectionLost       = "connection-lost"
	EventRemoteAccessGranted  = "remote-access-granted"
	EventRemoteAccessFinished = "remote-access-finished"
)

// Event is one UI notification.
type Event struct {
	Type      string    `json:"type"`
	TankID    string    `json:"tank_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TelemetryPayload is the payload of telemetry-updated.
type TelemetryPayload struct {
	Record history.Record `json:"record"`
}

// GrantPayload is the payload of remote-access-granted.
type GrantPayload struct {
	Granted bool `json:"granted"`
}

// Publisher delivers events to one destination. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Notifier fans events out to publishers.
type Notifier struct {
	mu         sync.RWMutex
	publishers []Publisher
	lostHooks  []func(tankID string)
	now        func() time.Time
}

// New creates a notifier with the given publishers.
func New(publishers ...Publisher) *Notifier {
	return &Notifier{publishers: publishers, now: time.Now}
}

// AddPublisher registers another destination.
func (n *Notifier) AddPublisher(p Publisher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publishers = append(n.publishers, p)
}

// OnConnectionLost registers fn to run for every connection-lost event,
// before the event is published.
func (n *Notifier) OnConnectionLost(fn func(tankID string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lostHooks = append(n.lostHooks, fn)
}

// DeviceListChanged reports that tanks were added, updated or removed.
func (n *Notifier) DeviceListChanged() {
	n.publish(Event{Type: EventDeviceListChanged})
}

// TelemetryUpdated reports a freshly stored history record.
func (n *Notifier) TelemetryUpdated(tankID string, rec history.Record) {
	n.publish(Event{Type: EventTelemetryUpdated, TankID: tankID, Payload: TelemetryPayload{Record: rec}})
}

// ConnectionLost reports that a tank's connection dropped.
func (n *Notifier) ConnectionLost(tankID string) {
	n.mu.RLock()
	hooks := slices.Clone(n.lostHooks)
	n.mu.RUnlock()
	for _, fn := range hooks {
		fn(tankID)
	}
	n.publish(Event{Type: EventConnectionLost, TankID: tankID})
}

// RemoteAccessGranted reports the operator's decision at the tank.
func (n *Notifier) RemoteAccessGranted(tankID string, granted bool) {
	n.publish(Event{Type: EventRemoteAccessGranted, TankID: tankID, Payload: GrantPayload{Granted: granted}})
}

// RemoteAccessFinished reports that the tank ended a granted session.
func (n *Notifier) RemoteAccessFinished(tankID string) {
	n.publish(Event{Type: EventRemoteAccessFinished, TankID: tankID})
}

func (n *Notifier) publish(ev Event) {
	ev.Timestamp = n.now().UTC()
	n.mu.RLock()
	publishers := append([]Publisher(nil), n.publishers...)
	n.mu.RUnlock()
	for _, p := range publishers {
		p.Publish(ev)
	}
}
