package opcua

import (
	"context"
	"time"
)

// Dialer constructs clients for tank controllers.
type Dialer interface {
	// Dial prepares a client for cfg. It does not connect.
	Dial(ctx context.Context, cfg ClientConfig) (Client, error)
}

// Client is a transport connection to one controller.
type Client interface {
	// Connect opens the secure channel. It is a no-op when already connected.
	// Failed attempts are retried up to the configured budget, each retry
	// announced as an EventBackoff.
	Connect(ctx context.Context) error

	// Connected reports whether the transport is currently up.
	Connected() bool

	// CreateSession returns a session bound to the current connection.
	CreateSession(ctx context.Context) (Session, error)

	// Events delivers lifecycle events. EventClosed is the last one; the
	// channel itself is never closed.
	Events() <-chan Event

	// Close releases the connection. It emits EventClosed once.
	Close(ctx context.Context) error
}

// Session performs reads, writes and subscriptions on a controller.
type Session interface {
	Read(ctx context.Context, nodeID string) (Variant, error)
	Write(ctx context.Context, nodeID string, value Variant) error
	Subscribe(ctx context.Context, nodeID string, params SubscriptionParams, handler func(Variant)) (Subscription, error)
	Close(ctx context.Context) error
}

// Subscription is a monitored item whose changes reach a handler.
type Subscription interface {
	// Cancel stops delivery. It must not wait for a running handler, so it
	// is safe to call from inside one.
	Cancel(ctx context.Context) error
}

// SubscriptionParams tunes a monitored item.
type SubscriptionParams struct {
	PublishingInterval time.Duration
	SamplingInterval   time.Duration
	QueueSize          uint32
	DiscardOldest      bool
}

// DefaultSubscriptionParams are used for the remote-access status item.
var DefaultSubscriptionParams = SubscriptionParams{
	PublishingInterval: time.Second,
	SamplingInterval:   100 * time.Millisecond,
	QueueSize:          10,
	DiscardOldest:      true,
}

// ClientConfig describes how to reach and authenticate to one controller.
type ClientConfig struct {
	Endpoint       string // opc.tcp://host:port
	SecurityPolicy string // e.g. Basic256Sha256
	SecurityMode   string // e.g. SignAndEncrypt
	CertFile       string
	KeyFile        string
	Username       string
	Password       string

	// CallTimeout bounds each read, write and subscribe.
	CallTimeout time.Duration

	// ConnectTimeout bounds endpoint discovery plus one connect attempt.
	ConnectTimeout time.Duration

	// MaxRetry is the number of extra connect attempts after the first.
	MaxRetry int

	// InitialDelay is the wait before the first retry; it doubles per retry.
	InitialDelay time.Duration
}

// EventKind names a client lifecycle event.
type EventKind int

// Lifecycle events.
const (
	EventBackoff EventKind = iota + 1
	EventClosed
	EventConnectionLost
	EventReestablished
)

func (k EventKind) String() string {
	switch k {
	case EventBackoff:
		return "backoff"
	case EventClosed:
		return "closed"
	case EventConnectionLost:
		return "connection_lost"
	case EventReestablished:
		return "reestablished"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification from a Client.
type Event struct {
	Kind    EventKind
	Attempt int           // EventBackoff: retry number, starting at 1
	Delay   time.Duration // EventBackoff: wait before the retry
	Err     error         // cause, when known
}
