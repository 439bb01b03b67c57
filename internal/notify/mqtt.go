package notify

import (
	"encoding/json"
	"sync"

	"github.com/nerrad567/tankwatch/internal/infrastructure/mqtt"
)

const defaultQueueSize = 256

// MQTTClient is the subset of mqtt.Client used by the publisher.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
	QoS() byte
}

// Logger is the logging interface used by MQTTPublisher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTPublisher mirrors events to the broker. Each event goes to the
// fleet-wide topic of its type and, for tank events, to the tank's topic.
// Events are queued and published by one goroutine; a full queue drops.
type MQTTPublisher struct {
	client MQTTClient
	logger Logger
	queue  chan Event

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMQTTPublisher starts a publisher on client. Call Close to stop it.
func NewMQTTPublisher(client MQTTClient, logger Logger) *MQTTPublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	p := &MQTTPublisher{
		client: client,
		logger: logger,
		queue:  make(chan Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish queues ev for the broker.
func (p *MQTTPublisher) Publish(ev Event) {
	select {
	case <-p.done:
	case p.queue <- ev:
	default:
		p.logger.Warn("mqtt event queue full, dropping event", "type", ev.Type, "tank_id", ev.TankID)
	}
}

// Close stops the publisher after draining queued events.
func (p *MQTTPublisher) Close() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *MQTTPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.send(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					p.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *MQTTPublisher) send(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encoding mqtt event", "type", ev.Type, "error", err)
		return
	}

	topics := p.client.Topics()
	targets := []string{topics.Event(ev.Type)}
	if ev.TankID != "" {
		targets = append(targets, topics.TankEvent(ev.TankID, ev.Type))
	}
	for _, topic := range targets {
		if err := p.client.Publish(topic, data, p.client.QoS(), false); err != nil {
			p.logger.Debug("mqtt event not published", "topic", topic, "error", err)
		}
	}
}
