package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	uaclient "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

const (
	// stateWatchInterval is how often the transport state is sampled.
	stateWatchInterval = time.Second

	// eventQueueSize buffers lifecycle events for a slow consumer.
	eventQueueSize = 16

	// readMaxAge lets the server answer reads from a cache up to 2 s old.
	readMaxAge = 2000

	defaultCallTimeout    = 10 * time.Second
	defaultConnectTimeout = 15 * time.Second
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// GopcuaDialer builds clients on github.com/gopcua/opcua.
type GopcuaDialer struct {
	logger Logger
}

// NewDialer returns a Dialer backed by gopcua.
func NewDialer(logger Logger) *GopcuaDialer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &GopcuaDialer{logger: logger}
}

// Ensure GopcuaDialer implements Dialer.
var _ Dialer = (*GopcuaDialer)(nil)

// Dial prepares a client. Endpoint discovery happens on Connect.
func (d *GopcuaDialer) Dial(_ context.Context, cfg ClientConfig) (Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrConnectionFailed)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}

	return &gopcuaClient{
		cfg:    cfg,
		logger: d.logger,
		events: make(chan Event, eventQueueSize),
		done:   make(chan struct{}),
	}, nil
}

// gopcuaClient adapts *uaclient.Client to Client.
//
// The library opens the session as part of Connect, so a Session handed out
// by CreateSession is a view on that connection and dies with it.
type gopcuaClient struct {
	cfg    ClientConfig
	logger Logger

	mu     sync.Mutex
	client *uaclient.Client
	epoch  uint64 // bumped on every successful Connect

	watchOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	events    chan Event
	done      chan struct{}
	wg        sync.WaitGroup
}

func (c *gopcuaClient) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: client closed", ErrConnectionFailed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.State() == uaclient.Connected {
		return nil
	}

	delay := c.cfg.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetry; attempt++ {
		if attempt > 0 {
			c.emit(Event{Kind: EventBackoff, Attempt: attempt, Delay: delay, Err: lastErr})
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		client, err := c.connectOnce(ctx)
		if err == nil {
			c.client = client
			c.epoch++
			c.watchOnce.Do(func() {
				c.wg.Add(1)
				go c.watchState()
			})
			return nil
		}
		lastErr = err
		c.logger.Debug("opcua connect attempt failed",
			"endpoint", c.cfg.Endpoint, "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("%w: %w", ErrConnectionFailed, lastErr)
}

// connectOnce discovers the secure endpoint and opens one connection.
func (c *gopcuaClient) connectOnce(ctx context.Context) (*uaclient.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if c.client != nil {
		c.client.Close(ctx) //nolint:errcheck // replacing a dead connection
		c.client = nil
	}

	endpoints, err := uaclient.GetEndpoints(ctx, c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("discovering endpoints: %w", err)
	}
	ep, err := selectEndpoint(endpoints, c.cfg.SecurityPolicy, c.cfg.SecurityMode)
	if err != nil {
		return nil, err
	}

	opts := []uaclient.Option{
		uaclient.SecurityPolicy(c.cfg.SecurityPolicy),
		uaclient.SecurityModeString(c.cfg.SecurityMode),
		uaclient.CertificateFile(c.cfg.CertFile),
		uaclient.PrivateKeyFile(c.cfg.KeyFile),
		uaclient.AuthUsername(c.cfg.Username, c.cfg.Password),
		uaclient.SecurityFromEndpoint(ep, ua.UserTokenTypeUserName),
		uaclient.AutoReconnect(false),
		uaclient.RequestTimeout(c.cfg.CallTimeout),
	}

	client, err := uaclient.NewClient(ep.EndpointURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		client.Close(context.Background()) //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return client, nil
}

// selectEndpoint picks the endpoint matching policy and mode exactly.
func selectEndpoint(endpoints []*ua.EndpointDescription, policy, mode string) (*ua.EndpointDescription, error) {
	wantMode := ua.MessageSecurityModeFromString(mode)
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		if strings.HasSuffix(ep.SecurityPolicyURI, "#"+policy) && ep.SecurityMode == wantMode {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("%w: policy %s mode %s", ErrEndpointNotFound, policy, mode)
}

func (c *gopcuaClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.State() == uaclient.Connected
}

func (c *gopcuaClient) CreateSession(_ context.Context) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || c.client.State() != uaclient.Connected {
		return nil, ErrNotConnected
	}
	return &gopcuaSession{owner: c, client: c.client, epoch: c.epoch}, nil
}

func (c *gopcuaClient) Events() <-chan Event {
	return c.events
}

func (c *gopcuaClient) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.wg.Wait()

		c.mu.Lock()
		if c.client != nil {
			err = c.client.Close(ctx)
			c.client = nil
		}
		c.mu.Unlock()

		c.emit(Event{Kind: EventClosed})
	})
	return err
}

// emit queues an event. The channel is never closed, so a late emit from a
// racing Connect cannot panic; a full queue drops the event.
func (c *gopcuaClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("opcua event dropped", "endpoint", c.cfg.Endpoint, "event", ev.Kind.String())
	}
}

// watchState turns transport state changes into lifecycle events.
func (c *gopcuaClient) watchState() {
	defer c.wg.Done()

	ticker := time.NewTicker(stateWatchInterval)
	defer ticker.Stop()

	up := true
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		now := c.Connected()
		switch {
		case up && !now:
			c.emit(Event{Kind: EventConnectionLost})
		case !up && now:
			c.emit(Event{Kind: EventReestablished})
		}
		up = now
	}
}

// current returns the live client if it is still the one s was created on.
func (c *gopcuaClient) current(epoch uint64) (*uaclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || c.epoch != epoch || c.client.State() != uaclient.Connected {
		return nil, ErrSessionClosed
	}
	return c.client, nil
}

// gopcuaSession is a Session bound to one connection epoch.
type gopcuaSession struct {
	owner  *gopcuaClient
	client *uaclient.Client
	epoch  uint64
	closed atomic.Bool
}

func (s *gopcuaSession) live() (*uaclient.Client, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	return s.owner.current(s.epoch)
}

func (s *gopcuaSession) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.owner.cfg.CallTimeout)
}

func (s *gopcuaSession) Read(ctx context.Context, nodeID string) (Variant, error) {
	client, err := s.live()
	if err != nil {
		return Variant{}, err
	}
	id, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return Variant{}, fmt.Errorf("%w: %s: %w", ErrInvalidNodeID, nodeID, err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := client.Read(ctx, &ua.ReadRequest{
		MaxAge:             readMaxAge,
		NodesToRead:        []*ua.ReadValueID{{NodeID: id, AttributeID: ua.AttributeIDValue}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return Variant{}, fmt.Errorf("reading %s: %w", nodeID, err)
	}
	if len(resp.Results) == 0 {
		return Variant{}, fmt.Errorf("reading %s: empty response", nodeID)
	}
	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return Variant{}, &StatusError{Op: "read", NodeID: nodeID, Code: uint32(result.Status)}
	}
	if result.Value == nil {
		return Variant{}, nil
	}
	return VariantOf(result.Value.Value()), nil
}

func (s *gopcuaSession) Write(ctx context.Context, nodeID string, value Variant) error {
	client, err := s.live()
	if err != nil {
		return err
	}
	id, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidNodeID, nodeID, err)
	}
	v, err := ua.NewVariant(value.Value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedType, err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	resp, err := client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        v,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", nodeID, err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("writing %s: empty response", nodeID)
	}
	if resp.Results[0] != ua.StatusOK {
		return &StatusError{Op: "write", NodeID: nodeID, Code: uint32(resp.Results[0])}
	}
	return nil
}

func (s *gopcuaSession) Subscribe(ctx context.Context, nodeID string, params SubscriptionParams, handler func(Variant)) (Subscription, error) {
	client, err := s.live()
	if err != nil {
		return nil, err
	}
	id, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidNodeID, nodeID, err)
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	notifyCh := make(chan *uaclient.PublishNotificationData, params.QueueSize+1)
	sub, err := client.Subscribe(ctx, &uaclient.SubscriptionParameters{
		Interval: params.PublishingInterval,
	}, notifyCh)
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", nodeID, err)
	}

	const handle = 1
	req := uaclient.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
	req.RequestedParameters.SamplingInterval = float64(params.SamplingInterval / time.Millisecond)
	req.RequestedParameters.QueueSize = params.QueueSize
	req.RequestedParameters.DiscardOldest = params.DiscardOldest

	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		sub.Cancel(context.Background()) //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("monitoring %s: %w", nodeID, err)
	}
	if len(res.Results) > 0 && res.Results[0].StatusCode != ua.StatusOK {
		sub.Cancel(context.Background()) //nolint:errcheck // best effort on error path
		return nil, &StatusError{Op: "subscribe", NodeID: nodeID, Code: uint32(res.Results[0].StatusCode)}
	}

	ms := &monitoredSub{sub: sub, stop: make(chan struct{})}
	go ms.dispatch(notifyCh, handler, s.owner.logger)
	return ms, nil
}

// Close invalidates the session view. The connection stays up.
func (s *gopcuaSession) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}

// monitoredSub delivers data changes of one monitored item.
type monitoredSub struct {
	sub      *uaclient.Subscription
	stop     chan struct{}
	stopOnce sync.Once
}

func (m *monitoredSub) dispatch(ch <-chan *uaclient.PublishNotificationData, handler func(Variant), logger Logger) {
	for {
		select {
		case <-m.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Error != nil {
				logger.Warn("opcua subscription error", "error", msg.Error)
				continue
			}
			change, ok := msg.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range change.MonitoredItems {
				select {
				case <-m.stop:
					return
				default:
				}
				if item == nil || item.Value == nil || item.Value.Value == nil {
					continue
				}
				handler(VariantOf(item.Value.Value.Value()))
			}
		}
	}
}

// Cancel stops dispatch and deletes the server-side subscription.
func (m *monitoredSub) Cancel(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	if err := m.sub.Cancel(ctx); err != nil && !errors.Is(err, ua.StatusBadSubscriptionIDInvalid) {
		return fmt.Errorf("cancelling subscription: %w", err)
	}
	return nil
}
