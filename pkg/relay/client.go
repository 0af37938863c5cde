// Package relay is a client for Nostr relays: NIP-11 discovery and a NIP-01
// websocket session with subscriptions, publication and NIP-45 counts.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"nostrbox/pkg/event"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 10 * time.Second
	DefaultPingInterval   = 55 * time.Second

	defaultSubscriptionBuffer = 64
	writeTimeout              = 10 * time.Second
	maxPingWait               = 10 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Limits bound what the client accepts from a relay. Zero disables a limit.
// A frame larger than MaxMessageSize ends the session.
type Limits struct {
	MaxMessageSize int64
	MaxEventSize   int
	MaxEventTags   int
	// MaxQueuedEvents caps the events a subscription holds for a slow
	// consumer beyond its buffer. Further events are dropped.
	MaxQueuedEvents int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize:  4 << 20,
		MaxEventSize:    256 << 10,
		MaxEventTags:    2000,
		MaxQueuedEvents: 10000,
	}
}

// Activity is a snapshot of in-flight work on the session
type Activity struct {
	Subscriptions    int64
	PendingPublishes int64
	PendingCounts    int64
}

type Option func(*Client)

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRegisterer exposes the client's metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithHTTPClient sets the client used for NIP-11 requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithPublishTimeout applies when the context given to Publish or Count has
// no deadline of its own.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Client) { c.publishTimeout = d }
}

// WithPingInterval sets the keepalive period. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

func WithLimits(l Limits) Option {
	return func(c *Client) { c.limits = l }
}

// WithoutSignatureCheck delivers inbound events without verifying them
func WithoutSignatureCheck() Option {
	return func(c *Client) { c.verify = false }
}

// Client is a session with a single relay. All methods are safe for
// concurrent use.
type Client struct {
	url            string
	log            *log.Logger
	registerer     prometheus.Registerer
	metrics        *metrics
	httpClient     *http.Client
	connectTimeout time.Duration
	publishTimeout time.Duration
	pingInterval   time.Duration
	limits         Limits
	verify         bool

	state    atomic.Int32
	notices  chan string
	activity struct {
		subs, publishes, counts atomic.Int64
	}

	mu   sync.Mutex
	sess *session
}

// session is one websocket connection and the goroutine that owns its
// bookkeeping
type session struct {
	conn    *websocket.Conn
	cmds    chan command
	done    chan struct{}
	cancel  context.CancelFunc
	closing atomic.Bool
	err     error
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// New prepares a client for relayURL without connecting
func New(relayURL string, opts ...Option) (*Client, error) {
	u, err := NormalizeURL(relayURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:            u,
		log:            log.New(io.Discard),
		connectTimeout: DefaultConnectTimeout,
		publishTimeout: DefaultPublishTimeout,
		pingInterval:   DefaultPingInterval,
		limits:         DefaultLimits(),
		verify:         true,
		notices:        make(chan string, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("relay", c.url)
	c.metrics = newMetrics(c.registerer, c.url)
	return c, nil
}

// Connect creates a client and opens its session
func Connect(ctx context.Context, relayURL string, opts ...Option) (*Client, error) {
	c, err := New(relayURL, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) State() State { return State(c.state.Load()) }

// Notices delivers NOTICE messages. Notices arriving while the buffer is
// full are dropped.
func (c *Client) Notices() <-chan string { return c.notices }

func (c *Client) Activity() Activity {
	return Activity{
		Subscriptions:    c.activity.subs.Load(),
		PendingPublishes: c.activity.publishes.Load(),
		PendingCounts:    c.activity.counts.Load(),
	}
}

// Info fetches the relay's NIP-11 document. It works in any state.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	return FetchInfo(ctx, c.url, c.httpClient)
}

// Connect opens the websocket session. On failure the client stays
// disconnected and may be connected again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && !c.sess.closed() {
		return ErrAlreadyConnected
	}

	c.state.Store(int32(StateConnecting))
	c.metrics.connectAttempts.Inc()
	c.log.Debug("connecting")

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.metrics.connectFailures.Inc()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w: dial %s: %v", ErrConnection, ErrTimeout, c.url, err)
		}
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, c.url, err)
	}
	if c.limits.MaxMessageSize > 0 {
		conn.SetReadLimit(c.limits.MaxMessageSize)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		cmds:   make(chan command),
		done:   make(chan struct{}),
		cancel: stop,
	}
	c.sess = s
	c.state.Store(int32(StateConnected))
	c.log.Info("connected")

	frames := make(chan []byte)
	readErrs := make(chan error, 1)
	go c.readLoop(loopCtx, s, frames, readErrs)
	go c.loop(loopCtx, s, frames, readErrs)
	if c.pingInterval > 0 {
		go c.pingLoop(loopCtx, s)
	}
	return nil
}

// Close ends the session. Pending publishes resolve to ErrPublishUnconfirmed
// and live subscriptions end.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || s.closed() {
		return nil
	}

	c.state.Store(int32(StateClosing))
	s.closing.Store(true)
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.cancel()
	<-s.done

	if err != nil {
		c.log.Debug("close handshake incomplete", "err", err)
	}
	return nil
}

// Done is closed when the current session ends
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.sess.done
}

// Err reports why the last session ended, or nil while it is running
func (c *Client) Err() error {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil || !s.closed() {
		return nil
	}
	return s.err
}

func (c *Client) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.closed() {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func (c *Client) send(ctx context.Context, s *session, cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrNotConnected
	case <-ctx.Done():
		return contextErr(ctx.Err())
	}
}

// write sends a frame. Writes use their own deadline because cancelling a
// websocket write tears down the connection.
func (c *Client) write(s *session, msg ClientMessage) error {
	b, err := msg.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Label(), err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrConnection, msg.Label(), err)
	}
	c.metrics.bytesOut.Add(float64(len(b)))
	c.metrics.messagesOut.WithLabelValues(msg.Label()).Inc()
	return nil
}

func contextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (c *Client) withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.publishTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.publishTimeout)
}

// Publish sends ev and waits for the relay's OK
func (c *Client) Publish(ctx context.Context, ev *event.Event) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	ctx, cancel := c.withDefaultTimeout(ctx)
	defer cancel()

	w := &pendingPublish{reply: make(chan error, 1), sent: time.Now()}
	if err := c.send(ctx, s, addPublish{id: ev.ID, waiter: w}); err != nil {
		return err
	}
	if err := c.write(s, EventMessage{Event: ev}); err != nil {
		_ = c.send(context.Background(), s, removePublish{id: ev.ID, waiter: w})
		return err
	}

	select {
	case err := <-w.reply:
		return err
	case <-ctx.Done():
		_ = c.send(context.Background(), s, removePublish{id: ev.ID, waiter: w})
		// the loop may have answered while we were giving up
		select {
		case err := <-w.reply:
			return err
		default:
		}
		c.metrics.published.WithLabelValues(outcomeTimeout).Inc()
		return fmt.Errorf("waiting for OK on %s: %w", ev.ID, contextErr(ctx.Err()))
	}
}

type SubOption func(*subConfig)

type subConfig struct {
	id     string
	buffer int
}

// WithSubscriptionID fixes the subscription id instead of generating one
func WithSubscriptionID(id string) SubOption {
	return func(c *subConfig) { c.id = id }
}

// WithBuffer sets the capacity of Events. Events the consumer has not taken
// beyond that wait in a queue bounded by Limits.MaxQueuedEvents.
func WithBuffer(n int) SubOption {
	return func(c *subConfig) { c.buffer = n }
}

// Subscribe sends a REQ. The subscription stays open past EOSE until it is
// closed by either side or the session ends.
func (c *Client) Subscribe(ctx context.Context, filters []Filter, opts ...SubOption) (*Subscription, error) {
	if len(filters) == 0 {
		return nil, ErrNoFilters
	}
	cfg := subConfig{buffer: defaultSubscriptionBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	s, err := c.session()
	if err != nil {
		return nil, err
	}
	sub := newSubscription(c, s, cfg.id, filters, cfg.buffer, c.limits.MaxQueuedEvents)
	ack := make(chan error, 1)
	if err := c.send(ctx, s, addSubscription{sub: sub, ack: ack}); err != nil {
		return nil, err
	}
	if err := <-ack; err != nil {
		return nil, err
	}
	if err := c.write(s, ReqMessage{SubscriptionID: sub.ID, Filters: filters}); err != nil {
		_ = c.send(context.Background(), s, removeSubscription{sub: sub})
		return nil, err
	}
	c.log.Debug("subscribed", "sub", sub.ID, "filters", len(filters))
	return sub, nil
}

// Count asks the relay how many events match (NIP-45)
func (c *Client) Count(ctx context.Context, filters []Filter) (CountResult, error) {
	if len(filters) == 0 {
		return CountResult{}, ErrNoFilters
	}
	s, err := c.session()
	if err != nil {
		return CountResult{}, err
	}
	ctx, cancel := c.withDefaultTimeout(ctx)
	defer cancel()

	id := uuid.NewString()
	reply := make(chan countOutcome, 1)
	ack := make(chan error, 1)
	if err := c.send(ctx, s, addCount{id: id, reply: reply, ack: ack}); err != nil {
		return CountResult{}, err
	}
	if err := <-ack; err != nil {
		return CountResult{}, err
	}
	if err := c.write(s, CountMessage{SubscriptionID: id, Filters: filters}); err != nil {
		_ = c.send(context.Background(), s, removeCount{id: id})
		return CountResult{}, err
	}

	select {
	case out := <-reply:
		return out.result, out.err
	case <-ctx.Done():
		_ = c.send(context.Background(), s, removeCount{id: id})
		return CountResult{}, fmt.Errorf("waiting for COUNT: %w", contextErr(ctx.Err()))
	}
}

func (c *Client) readLoop(ctx context.Context, s *session, frames chan<- []byte, errs chan<- error) {
	for {
		_, b, err := s.conn.Read(ctx)
		if err != nil {
			errs <- err
			return
		}
		c.metrics.bytesIn.Add(float64(len(b)))
		select {
		case frames <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, s *session) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	wait := min(c.pingInterval, maxPingWait)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, wait)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.log.Warn("keepalive failed, dropping connection", "err", err)
				_ = s.conn.CloseNow()
				return
			}
		}
	}
}
