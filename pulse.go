// Package pulse is an embeddable analytics delivery client. It accepts
// application-generated telemetry events, batches them, posts them to a
// collector endpoint, and retries failed deliveries with bounded memory and
// bounded attempts. Delivery outcomes reach the caller only through
// callbacks; Enqueue and Flush never block on network I/O.
//
// Example usage:
//
//	client, err := pulse.NewClient("api-key")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ev, err := event.New("signup", "user-1", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = client.Enqueue(ev, nil)
//	client.Flush()
//	defer client.Shutdown()
package pulse

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsemetric/pulse-go/internal/pool"
	"github.com/pulsemetric/pulse-go/internal/response"
	"github.com/pulsemetric/pulse-go/internal/retry"
	"github.com/pulsemetric/pulse-go/internal/transport"
	"github.com/pulsemetric/pulse-go/pkg/event"
)

// Flush triggers.
const (
	// DefaultFlushThreshold is the queue length that triggers an immediate
	// flush.
	DefaultFlushThreshold = 10

	// DefaultFlushPeriod is the delay of the timed flush scheduled when the
	// threshold has not been reached.
	DefaultFlushPeriod = 10 * time.Second
)

// Client API errors.
var (
	// ErrMissingAPIKey is returned by NewClient without an API key.
	ErrMissingAPIKey = errors.New("pulse: api key is required")

	// ErrClientClosed is returned when using a client after Shutdown.
	ErrClientClosed = errors.New("pulse: client is shut down")

	// ErrInvalidAPIKey is reported when the collector rejects the
	// configured API key mid-flight.
	ErrInvalidAPIKey = response.ErrInvalidAPIKey
)

// Executor runs submitted tasks. The client's send, retry, and transport I/O
// pools all satisfy this; embedding applications may inject their own
// implementations to bound concurrency.
type Executor interface {
	Submit(task func())
}

// HTTPClient abstracts the HTTP round trip. *http.Client satisfies it.
type HTTPClient = transport.HTTPClient

// Middleware inspects and may mutate an event before it is queued.
// Returning false vetoes the event; it is discarded without callbacks.
type Middleware func(e *event.Event) bool

// ServerConfig is the transport-facing configuration. Configure swaps it
// wholesale; the new configuration applies from the next attempt on.
type ServerConfig struct {
	// ServerURL overrides the default collector endpoint.
	ServerURL string

	// BatchMode selects the batch collector endpoint when ServerURL is not
	// set explicitly.
	BatchMode bool

	// MinIDLength is forwarded to the collector as options.min_id_length.
	MinIDLength int

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds one HTTP attempt. Zero means the 10s default.
	Timeout time.Duration

	// Proxy routes collector traffic through an HTTP proxy.
	Proxy *url.URL

	// Compress gzips request bodies.
	Compress bool
}

// Client is the caller-facing entry point: it owns the intake queue, the
// flush scheduling, and the wiring between queue, transport, and retry
// engine. Create one with NewClient; all methods are safe for concurrent
// use.
type Client struct {
	apiKey string
	logger zerolog.Logger

	flushThreshold int
	flushPeriod    time.Duration
	middleware     []Middleware

	senderMu   sync.RWMutex
	sender     *transport.Sender
	httpClient HTTPClient

	queueMu sync.Mutex
	queue   []*event.Event
	closed  bool

	flushMu      sync.Mutex
	flushPending bool
	flushTimer   *time.Timer

	sendPool Executor
	ioPool   Executor
	owned    []*pool.Pool

	engine *retry.Engine

	plan      *event.Plan
	ingestion *event.IngestionMetadata

	name string
}

// NewClient creates a client for the given API key. Options configure
// everything else; the zero-option client talks to the default collector
// endpoint with default flush triggers.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		apiKey:         apiKey,
		logger:         o.logger,
		flushThreshold: o.flushThreshold,
		flushPeriod:    o.flushPeriod,
		middleware:     o.middleware,
		plan:           o.plan,
		ingestion:      o.ingestion,
	}

	c.sendPool = o.sendPool
	if c.sendPool == nil {
		p := pool.New(1)
		c.sendPool = p
		c.owned = append(c.owned, p)
	}
	retryPool := o.retryPool
	if retryPool == nil {
		p := pool.New(4)
		retryPool = p
		c.owned = append(c.owned, p)
	}
	c.ioPool = o.ioPool
	if c.ioPool == nil {
		p := pool.New(2)
		c.ioPool = p
		c.owned = append(c.owned, p)
	}

	o.server.Headers = mergeHeaders(o.server.Headers)
	c.httpClient = o.httpClient
	c.Configure(o.server)

	c.engine = retry.NewEngine(retry.Config{
		MaxBuffered:     o.maxRetryBuffer,
		Schedule:        o.backoffSchedule,
		RecordThrottled: o.recordThrottled,
		Callback:        o.callback,
	}, senderFunc(c.sendAttempt), retryPool, c.logger)

	return c, nil
}

// Configure rebuilds the transport configuration. It is idempotent and safe
// to call concurrently with in-flight sends; the new configuration applies
// to the next attempt only.
func (c *Client) Configure(cfg ServerConfig) {
	s := transport.NewSender(transport.Config{
		APIKey:      c.apiKey,
		ServerURL:   cfg.ServerURL,
		BatchMode:   cfg.BatchMode,
		MinIDLength: cfg.MinIDLength,
		Headers:     cfg.Headers,
		Timeout:     cfg.Timeout,
		Proxy:       cfg.Proxy,
		Compress:    cfg.Compress,
	}, c.httpClient, c.ioPool, c.logger)

	c.senderMu.Lock()
	c.sender = s
	c.senderMu.Unlock()
}

// Enqueue appends an event to the intake queue and returns immediately. The
// optional callback fires on the event's terminal outcome, after the
// client-level callback. Middleware runs first and may veto the event.
func (c *Client) Enqueue(ev *event.Event, cb event.Callback) error {
	if ev == nil {
		return nil
	}
	if cb != nil {
		ev.Callback = cb
	}
	if ev.Plan == nil {
		ev.Plan = c.plan
	}
	if ev.IngestionMetadata == nil {
		ev.IngestionMetadata = c.ingestion
	}

	for _, mw := range c.middleware {
		if !mw(ev) {
			c.logger.Debug().Str("event_type", ev.EventType).Msg("event vetoed by middleware")
			return nil
		}
	}

	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return ErrClientClosed
	}
	c.queue = append(c.queue, ev)
	n := len(c.queue)
	c.queueMu.Unlock()

	if n >= c.flushThreshold {
		c.Flush()
	} else {
		c.scheduleFlush()
	}
	return nil
}

// Flush drains the intake queue and hands the batch to the send pool for
// asynchronous delivery. An empty queue is a no-op.
func (c *Client) Flush() {
	c.flushMu.Lock()
	if c.flushPending {
		c.flushTimer.Stop()
		c.flushPending = false
	}
	c.flushMu.Unlock()

	c.queueMu.Lock()
	batch := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.sendPool.Submit(func() {
		c.sendBatch(batch)
	})
}

// ShouldWait is an advisory backpressure signal: true when the intake queue
// exceeds the flush threshold or the retry engine reports systemic
// backpressure for the event's identity.
func (c *Client) ShouldWait(ev *event.Event) bool {
	c.queueMu.Lock()
	backed := len(c.queue) > c.flushThreshold
	c.queueMu.Unlock()
	if backed {
		return true
	}
	return c.engine.ShouldBackoff(ev)
}

// Shutdown stops flush scheduling, drains every buffer, and fires a
// "client shutdown" callback for each event still held anywhere. A second
// call returns ErrClientClosed.
func (c *Client) Shutdown() error {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return ErrClientClosed
	}
	c.closed = true
	pending := c.queue
	c.queue = nil
	c.queueMu.Unlock()

	c.flushMu.Lock()
	if c.flushPending {
		c.flushTimer.Stop()
		c.flushPending = false
	}
	c.flushMu.Unlock()

	c.engine.Complete(pending, 0, "client shutdown")
	c.engine.Shutdown()

	for _, p := range c.owned {
		p.Stop()
	}

	if c.name != "" {
		deregister(c.name)
	}
	c.logger.Info().Msg("client shut down")
	return nil
}

// scheduleFlush arms the single delayed flush. The pending flag guarantees
// at most one scheduled flush exists at any moment.
func (c *Client) scheduleFlush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if c.flushPending {
		return
	}
	c.flushPending = true
	c.flushTimer = time.AfterFunc(c.flushPeriod, func() {
		c.flushMu.Lock()
		c.flushPending = false
		c.flushMu.Unlock()
		c.Flush()
	})
}

// sendBatch runs on the send pool: one transport attempt, then classification
// into the retry engine. An invalid API key fails the attempt without retry.
func (c *Client) sendBatch(batch []*event.Event) {
	resp, err := c.sendAttempt(context.Background(), batch)
	if err != nil {
		c.logger.Error().Err(err).Int("events", len(batch)).Msg("send attempt failed")
		c.engine.Complete(batch, 400, err.Error())
		return
	}
	c.engine.HandleResponse(batch, resp)
}

// sendAttempt posts through the currently configured sender, so a Configure
// between attempts takes effect on the next one.
func (c *Client) sendAttempt(ctx context.Context, events []*event.Event) (*response.Response, error) {
	c.senderMu.RLock()
	s := c.sender
	c.senderMu.RUnlock()
	return s.Send(ctx, events)
}

// senderFunc adapts a function to the retry engine's Sender interface.
type senderFunc func(ctx context.Context, events []*event.Event) (*response.Response, error)

func (f senderFunc) Send(ctx context.Context, events []*event.Event) (*response.Response, error) {
	return f(ctx, events)
}

func mergeHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
