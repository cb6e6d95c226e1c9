// Package retry buffers failed events per identity and drives the bounded
// backoff retry loop for each identity bucket. All terminal outcomes are
// reported through callbacks, exactly once per event.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsemetric/pulse-go/internal/response"
	"github.com/pulsemetric/pulse-go/pkg/event"
)

// MaxCachedEvents caps the total number of events buffered for retry across
// all identity buckets. At the cap, new retry candidates are shed with a
// "retry buffer full" callback.
const MaxCachedEvents = 16000

// Sender performs one delivery attempt for a list of events.
type Sender interface {
	Send(ctx context.Context, events []*event.Event) (*response.Response, error)
}

// Executor runs one long-lived task per identity-bucket retry loop.
type Executor interface {
	Submit(task func())
}

// identity is the (userID, deviceID) pair that correlates an event with its
// retry history.
type identity struct {
	userID   string
	deviceID string
}

func identityOf(e *event.Event) identity {
	return identity{userID: e.UserID, deviceID: e.DeviceID}
}

func (id identity) empty() bool {
	return id.userID == "" && id.deviceID == ""
}

// Config controls engine behavior.
type Config struct {
	// MaxBuffered overrides MaxCachedEvents; zero means the default.
	MaxBuffered int

	// Schedule overrides DefaultSchedule; nil means the default.
	Schedule []time.Duration

	// RecordThrottled enables per-identity throttle bookkeeping used by the
	// client's backpressure signal.
	RecordThrottled bool

	// Callback is the client-level callback, fired before any per-event
	// callback on every terminal outcome.
	Callback event.Callback
}

// Engine owns the identity-bucketed retry buffers and the global buffered
// counter. One engine serves one client.
type Engine struct {
	cfg    Config
	send   Sender
	exec   Executor
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	buffers map[identity][]*event.Event
	loops   map[identity]bool

	countMu  sync.Mutex
	buffered int

	throttleMu       sync.RWMutex
	throttledUsers   map[string]time.Time
	throttledDevices map[string]time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewEngine creates a retry engine sending through the given sender on the
// given executor.
func NewEngine(cfg Config, send Sender, exec Executor, logger zerolog.Logger) *Engine {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = MaxCachedEvents
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:              cfg,
		send:             send,
		exec:             exec,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		buffers:          map[identity][]*event.Event{},
		loops:            map[identity]bool{},
		throttledUsers:   map[string]time.Time{},
		throttledDevices: map[string]time.Time{},
	}
}

// HandleResponse applies the delivery state machine to one attempt's result.
// Terminal statuses fire callbacks immediately; retryable remainders are
// buffered per identity and a retry loop is scheduled for each touched
// bucket.
func (e *Engine) HandleResponse(events []*event.Event, resp *response.Response) {
	if len(events) == 0 || resp == nil {
		return
	}
	remaining, terminal := e.resolve(events, resp)
	if terminal || len(remaining) == 0 {
		return
	}
	e.buffer(remaining, resp.Code)
}

// resolve classifies one attempt result: fires callbacks for events with a
// terminal outcome and returns the events still eligible for retry. The
// terminal flag reports that the whole batch is finished.
func (e *Engine) resolve(events []*event.Event, resp *response.Response) ([]*event.Event, bool) {
	switch resp.Status {
	case response.StatusSuccess:
		e.Complete(events, resp.Code, "event delivered")
		return nil, true

	case response.StatusRateLimit:
		d := resp.RateLimit
		if e.cfg.RecordThrottled && d != nil {
			e.recordThrottled(d)
		}
		var remaining []*event.Event
		for _, ev := range events {
			if d != nil && d.ExceededDailyQuota(ev.UserID, ev.DeviceID) {
				e.completeOne(ev, resp.Code, rateLimitMessage(d))
				continue
			}
			remaining = append(remaining, ev)
		}
		return remaining, false

	case response.StatusPayloadTooLarge:
		if len(events) <= 1 {
			e.Complete(events, resp.Code, "payload too large")
			return nil, true
		}
		mid := len(events) / 2
		e.Complete(events[mid:], resp.Code, "payload too large, batch halved")
		return events[:mid], false

	case response.StatusInvalid:
		if len(events) == 1 {
			e.Complete(events, resp.Code, invalidMessage(resp.Invalid))
			return nil, true
		}
		dropped := map[int]struct{}{}
		if resp.Invalid != nil {
			for _, i := range resp.Invalid.EventIndices() {
				if i >= 0 && i < len(events) {
					e.completeOne(events[i], resp.Code, invalidMessage(resp.Invalid))
					dropped[i] = struct{}{}
				}
			}
		}
		var remaining []*event.Event
		for i, ev := range events {
			if _, ok := dropped[i]; !ok {
				remaining = append(remaining, ev)
			}
		}
		return remaining, false

	case response.StatusTimeout, response.StatusFailed:
		return events, false

	default:
		e.Complete(events, resp.Code, "unknown response status")
		return nil, true
	}
}

// buffer admits retry candidates into their identity buckets, shedding when
// the global counter is at capacity, and schedules a loop per touched
// bucket. Events with no identity cannot be correlated for retry and are
// discarded.
func (e *Engine) buffer(events []*event.Event, code int) {
	touched := map[identity]struct{}{}
	for _, ev := range events {
		id := identityOf(ev)
		if id.empty() {
			e.logger.Debug().Str("event_type", ev.EventType).Msg("retry candidate without identity discarded")
			continue
		}

		e.countMu.Lock()
		if e.buffered >= e.cfg.MaxBuffered {
			e.countMu.Unlock()
			e.completeOne(ev, code, "retry buffer full")
			continue
		}
		e.buffered++
		e.countMu.Unlock()

		e.mu.Lock()
		e.buffers[id] = append(e.buffers[id], ev)
		e.mu.Unlock()
		touched[id] = struct{}{}
	}
	for id := range touched {
		e.scheduleLoop(id)
	}
}

// scheduleLoop starts one retry loop for the identity unless one is already
// running. The buffer is drained atomically at loop start, so at most one
// loop per identity ever runs concurrently.
func (e *Engine) scheduleLoop(id identity) {
	e.mu.Lock()
	if e.loops[id] {
		e.mu.Unlock()
		return
	}
	e.loops[id] = true
	e.mu.Unlock()

	e.wg.Add(1)
	e.exec.Submit(func() {
		defer e.wg.Done()
		e.runLoop(id)
	})
}

func (e *Engine) runLoop(id identity) {
	events := e.drain(id)

	defer func() {
		if e.cfg.RecordThrottled {
			e.clearThrottled(id)
		}
		e.mu.Lock()
		delete(e.loops, id)
		pending := len(e.buffers[id]) > 0
		e.mu.Unlock()
		if pending {
			e.scheduleLoop(id)
		}
	}()

	if len(events) == 0 {
		return
	}

	lastCode := 0
	for _, delay := range e.cfg.Schedule {
		if !e.sleep(delay) {
			e.Complete(events, lastCode, "client shutdown")
			return
		}

		resp, err := e.send.Send(e.ctx, events)
		if err != nil {
			// Invalid API key or a serialization failure: the batch can
			// never succeed, fail the attempt without further retries.
			e.logger.Error().Err(err).Msg("retry attempt aborted")
			e.Complete(events, 400, err.Error())
			return
		}
		if resp == nil {
			return
		}
		lastCode = resp.Code

		remaining, terminal := e.resolve(events, resp)
		if terminal || len(remaining) == 0 {
			return
		}
		events = remaining
	}

	e.Complete(events, lastCode, "retry attempts exhausted")
}

// drain empties the identity's buffer and credits the global counter.
func (e *Engine) drain(id identity) []*event.Event {
	e.mu.Lock()
	events := e.buffers[id]
	delete(e.buffers, id)
	e.mu.Unlock()

	if n := len(events); n > 0 {
		e.countMu.Lock()
		e.buffered -= n
		e.countMu.Unlock()
	}
	return events
}

// sleep waits for the backoff delay, returning false when the engine shuts
// down mid-wait.
func (e *Engine) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// ShouldBackoff reports systemic backpressure for the given event: the
// global buffer is at capacity, or the event's identity was recently
// throttled (when throttle recording is enabled).
func (e *Engine) ShouldBackoff(ev *event.Event) bool {
	e.countMu.Lock()
	full := e.buffered >= e.cfg.MaxBuffered
	e.countMu.Unlock()
	if full {
		return true
	}
	if !e.cfg.RecordThrottled {
		return false
	}
	e.throttleMu.RLock()
	defer e.throttleMu.RUnlock()
	if ev.UserID != "" {
		if _, ok := e.throttledUsers[ev.UserID]; ok {
			return true
		}
	}
	if ev.DeviceID != "" {
		if _, ok := e.throttledDevices[ev.DeviceID]; ok {
			return true
		}
	}
	return false
}

// Buffered returns the current global retry-buffer occupancy.
func (e *Engine) Buffered() int {
	e.countMu.Lock()
	defer e.countMu.Unlock()
	return e.buffered
}

// Shutdown cancels further retry iterations, drains every identity bucket,
// and fires a "client shutdown" callback for each buffered event. It waits
// for running loops to observe the cancellation.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.cancel()

		e.mu.Lock()
		buffers := e.buffers
		e.buffers = map[identity][]*event.Event{}
		e.mu.Unlock()

		total := 0
		for _, events := range buffers {
			total += len(events)
			e.Complete(events, 0, "client shutdown")
		}
		if total > 0 {
			e.countMu.Lock()
			e.buffered -= total
			e.countMu.Unlock()
		}

		e.wg.Wait()
	})
}

// Complete fires the terminal callbacks for every event: the client-level
// callback first, then the event's own.
func (e *Engine) Complete(events []*event.Event, code int, message string) {
	for _, ev := range events {
		e.completeOne(ev, code, message)
	}
}

func (e *Engine) completeOne(ev *event.Event, code int, message string) {
	if e.cfg.Callback != nil {
		e.cfg.Callback(ev, code, message)
	}
	if ev.Callback != nil {
		ev.Callback(ev, code, message)
	}
}

func (e *Engine) recordThrottled(d *response.RateLimitDetail) {
	now := time.Now()
	e.throttleMu.Lock()
	for userID := range d.ThrottledUsers {
		e.throttledUsers[userID] = now
	}
	for deviceID := range d.ThrottledDevices {
		e.throttledDevices[deviceID] = now
	}
	e.throttleMu.Unlock()
}

func (e *Engine) clearThrottled(id identity) {
	e.throttleMu.Lock()
	if id.userID != "" {
		delete(e.throttledUsers, id.userID)
	}
	if id.deviceID != "" {
		delete(e.throttledDevices, id.deviceID)
	}
	e.throttleMu.Unlock()
}

func invalidMessage(d *response.InvalidDetail) string {
	if d != nil && d.Error != "" {
		return d.Error
	}
	return "invalid event"
}

func rateLimitMessage(d *response.RateLimitDetail) string {
	if d != nil && d.Error != "" {
		return d.Error
	}
	return "exceeded daily quota"
}
