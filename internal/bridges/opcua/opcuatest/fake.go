// Package opcuatest provides in-memory fakes of the opcua bridge interfaces
// for tests of packages that talk to tank controllers.
package opcuatest

import (
	"context"
	"sync"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
)

// Write records one Session.Write call.
type Write struct {
	NodeID string
	Value  opcua.Variant
}

// Session is a scripted opcua.Session.
type Session struct {
	mu       sync.Mutex
	values   map[string]opcua.Variant
	readErr  map[string]error
	writeErr map[string]error
	subErr   error
	readHook func(nodeID string) (opcua.Variant, error)
	writes   []Write
	reads    []string
	subs     []*Subscription
	closed   bool
}

// NewSession returns an empty session. Reads of unset nodes return a zero Variant.
func NewSession() *Session {
	return &Session{
		values:   make(map[string]opcua.Variant),
		readErr:  make(map[string]error),
		writeErr: make(map[string]error),
	}
}

// SetValue makes reads of nodeID return v.
func (s *Session) SetValue(nodeID string, v opcua.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[nodeID] = v
}

// FailRead makes reads of nodeID return err; nil clears it.
func (s *Session) FailRead(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErr, nodeID)
		return
	}
	s.readErr[nodeID] = err
}

// FailWrite makes writes to nodeID return err; nil clears it.
func (s *Session) FailWrite(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeErr, nodeID)
		return
	}
	s.writeErr[nodeID] = err
}

// FailSubscribe makes Subscribe return err; nil clears it.
func (s *Session) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subErr = err
}

// SetReadHook overrides every read. It runs without the session lock held.
func (s *Session) SetReadHook(fn func(nodeID string) (opcua.Variant, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readHook = fn
}

func (s *Session) Read(ctx context.Context, nodeID string) (opcua.Variant, error) {
	if err := ctx.Err(); err != nil {
		return opcua.Variant{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return opcua.Variant{}, opcua.ErrSessionClosed
	}
	s.reads = append(s.reads, nodeID)
	hook := s.readHook
	v, err := s.values[nodeID], s.readErr[nodeID]
	s.mu.Unlock()

	if hook != nil {
		return hook(nodeID)
	}
	return v, err
}

func (s *Session) Write(ctx context.Context, nodeID string, value opcua.Variant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return opcua.ErrSessionClosed
	}
	if err := s.writeErr[nodeID]; err != nil {
		return err
	}
	s.writes = append(s.writes, Write{NodeID: nodeID, Value: value})
	return nil
}

func (s *Session) Subscribe(ctx context.Context, nodeID string, params opcua.SubscriptionParams, handler func(opcua.Variant)) (opcua.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, opcua.ErrSessionClosed
	}
	if s.subErr != nil {
		return nil, s.subErr
	}
	sub := &Subscription{NodeID: nodeID, Params: params, handler: handler}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *Session) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Writes returns a copy of all successful writes in order.
func (s *Session) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// WritesTo returns the successful writes to nodeID in order.
func (s *Session) WritesTo(nodeID string) []opcua.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []opcua.Variant
	for _, w := range s.writes {
		if w.NodeID == nodeID {
			out = append(out, w.Value)
		}
	}
	return out
}

// Reads returns the node IDs read so far in order.
func (s *Session) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.reads))
	copy(out, s.reads)
	return out
}

// Subscriptions returns every subscription created on the session.
func (s *Session) Subscriptions() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// LastSubscription returns the newest subscription, or nil.
func (s *Session) LastSubscription() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	return s.subs[len(s.subs)-1]
}

// Subscription is a fake monitored item driven by Push.
type Subscription struct {
	NodeID string
	Params opcua.SubscriptionParams

	mu        sync.Mutex
	handler   func(opcua.Variant)
	cancelled bool
}

// Push delivers v to the handler synchronously, like one data change.
// Pushes after Cancel are ignored.
func (s *Subscription) Push(v opcua.Variant) {
	s.mu.Lock()
	h, cancelled := s.handler, s.cancelled
	s.mu.Unlock()
	if cancelled || h == nil {
		return
	}
	h(v)
}

func (s *Subscription) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	return nil
}

// Cancelled reports whether Cancel was called.
func (s *Subscription) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
