package opcuatest

import (
	"context"
	"sync"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
)

// Client is a scripted opcua.Client.
type Client struct {
	Config opcua.ClientConfig

	mu          sync.Mutex
	connected   bool
	closed      bool
	connectErr  error
	connectHook func(ctx context.Context) error
	connects    int
	sessions    []*Session
	maxLive     int
	newSession  func() *Session
	events      chan opcua.Event
}

// NewClient returns a disconnected client whose sessions come from NewSession.
func NewClient() *Client {
	return &Client{
		newSession: NewSession,
		events:     make(chan opcua.Event, 64),
	}
}

// SetSessionFactory replaces the constructor used by CreateSession.
func (c *Client) SetSessionFactory(fn func() *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newSession = fn
}

// FailConnect makes Connect return err; nil lets it succeed again.
func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// SetConnectHook runs fn inside every Connect before the outcome is decided.
func (c *Client) SetConnectHook(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectHook = fn
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	hook := c.connectHook
	c.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connected {
		return nil
	}
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) CreateSession(context.Context) (opcua.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, opcua.ErrNotConnected
	}
	s := c.newSession()
	c.sessions = append(c.sessions, s)
	if live := c.liveLocked(); live > c.maxLive {
		c.maxLive = live
	}
	return s, nil
}

func (c *Client) Events() <-chan opcua.Event {
	return c.events
}

func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	if !already {
		c.Emit(opcua.Event{Kind: opcua.EventClosed})
	}
	return nil
}

// Emit injects a lifecycle event.
func (c *Client) Emit(ev opcua.Event) {
	c.events <- ev
}

// Drop simulates a transport failure and emits EventConnectionLost.
func (c *Client) Drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.Emit(opcua.Event{Kind: opcua.EventConnectionLost})
}

// Restore simulates the transport coming back and emits EventReestablished.
func (c *Client) Restore() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.Emit(opcua.Event{Kind: opcua.EventReestablished})
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ConnectCalls returns the number of Connect calls that reached the transport.
func (c *Client) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Sessions returns every session created so far.
func (c *Client) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// LiveSessions counts sessions not yet closed.
func (c *Client) LiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked()
}

// MaxLiveSessions is the highest LiveSessions value ever observed.
func (c *Client) MaxLiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLive
}

func (c *Client) liveLocked() int {
	n := 0
	for _, s := range c.sessions {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Dialer hands out fake clients and remembers them by endpoint.
type Dialer struct {
	mu      sync.Mutex
	clients []*Client
	dialErr error
	prepare func(*Client)
}

// NewDialer returns a dialer whose clients are prepared by fn (may be nil).
func NewDialer(fn func(*Client)) *Dialer {
	return &Dialer{prepare: fn}
}

// FailDial makes Dial return err; nil lets it succeed again.
func (d *Dialer) FailDial(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

func (d *Dialer) Dial(_ context.Context, cfg opcua.ClientConfig) (opcua.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := NewClient()
	c.Config = cfg
	if d.prepare != nil {
		d.prepare(c)
	}
	d.clients = append(d.clients, c)
	return c, nil
}

// Clients returns every client dialled so far.
func (d *Dialer) Clients() []*Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Client, len(d.clients))
	copy(out, d.clients)
	return out
}

// Last returns the newest client, or nil.
func (d *Dialer) Last() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}
