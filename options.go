package pulse

import (
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsemetric/pulse-go/pkg/event"
)

// Option configures optional behavior of a Client.
type Option func(*options)

type options struct {
	logger          zerolog.Logger
	server          ServerConfig
	httpClient      HTTPClient
	flushThreshold  int
	flushPeriod     time.Duration
	sendPool        Executor
	retryPool       Executor
	ioPool          Executor
	middleware      []Middleware
	callback        event.Callback
	recordThrottled bool
	maxRetryBuffer  int
	backoffSchedule []time.Duration
	plan            *event.Plan
	ingestion       *event.IngestionMetadata
}

func defaultOptions() options {
	return options{
		logger:         zerolog.Nop(),
		flushThreshold: DefaultFlushThreshold,
		flushPeriod:    DefaultFlushPeriod,
	}
}

// WithLogger sets a zerolog logger. The default discards all output.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithServerURL overrides the collector endpoint.
func WithServerURL(url string) Option {
	return func(o *options) { o.server.ServerURL = url }
}

// WithBatchMode selects the batch collector endpoint.
func WithBatchMode(enabled bool) Option {
	return func(o *options) { o.server.BatchMode = enabled }
}

// WithHeaders adds custom headers to every collector request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) { o.server.Headers = headers }
}

// WithMinIDLength forwards a minimum identity length to the collector.
func WithMinIDLength(n int) Option {
	return func(o *options) { o.server.MinIDLength = n }
}

// WithTimeout bounds one HTTP attempt. The default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.server.Timeout = d }
}

// WithProxy routes collector traffic through an HTTP proxy.
func WithProxy(proxy *url.URL) Option {
	return func(o *options) { o.server.Proxy = proxy }
}

// WithCompression gzips request bodies.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.server.Compress = enabled }
}

// WithHTTPClient sets a custom HTTP client for collector communication.
// When set, the configured timeout and proxy are the client's concern.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) { o.httpClient = client }
}

// WithFlushThreshold sets the queue length that triggers an immediate flush.
func WithFlushThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushThreshold = n
		}
	}
}

// WithFlushPeriod sets the delay of the timed flush.
func WithFlushPeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushPeriod = d
		}
	}
}

// WithSendPool injects the executor that runs flush/send tasks.
func WithSendPool(e Executor) Option {
	return func(o *options) { o.sendPool = e }
}

// WithRetryPool injects the executor that runs per-identity retry loops.
func WithRetryPool(e Executor) Option {
	return func(o *options) { o.retryPool = e }
}

// WithTransportPool injects the executor that runs blocking network calls.
func WithTransportPool(e Executor) Option {
	return func(o *options) { o.ioPool = e }
}

// WithMiddleware appends pre-send middleware, run in registration order.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw...) }
}

// WithCallback sets the client-level callback, fired before any per-event
// callback on every terminal outcome.
func WithCallback(cb event.Callback) Option {
	return func(o *options) { o.callback = cb }
}

// WithRecordThrottled enables throttle bookkeeping: identities seen in rate
// limit responses make ShouldWait report backpressure until their retry
// loop finishes.
func WithRecordThrottled(enabled bool) Option {
	return func(o *options) { o.recordThrottled = enabled }
}

// WithMaxRetryBuffer overrides the global retry buffer cap.
func WithMaxRetryBuffer(n int) Option {
	return func(o *options) { o.maxRetryBuffer = n }
}

// WithBackoffSchedule overrides the retry backoff ladder. Intended for
// tests and unusual deployments; the default ladder spans ~11.4 seconds
// over 12 attempts.
func WithBackoffSchedule(schedule []time.Duration) Option {
	return func(o *options) { o.backoffSchedule = schedule }
}

// WithPlan sets the tracking plan attached to events that carry none.
func WithPlan(p *event.Plan) Option {
	return func(o *options) { o.plan = p }
}

// WithIngestionMetadata sets the ingestion metadata attached to events that
// carry none.
func WithIngestionMetadata(m *event.IngestionMetadata) Option {
	return func(o *options) { o.ingestion = m }
}
