// Package transport performs one synchronous HTTP POST of a batch of events
// and classifies the collector's reply. It is stateless across calls apart
// from held configuration.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/pulsemetric/pulse-go/internal/response"
	"github.com/pulsemetric/pulse-go/pkg/event"
)

// Default collector endpoints.
const (
	DefaultServerURL = "https://api.pulsemetric.io/2/events"
	DefaultBatchURL  = "https://api.pulsemetric.io/batch"
)

// DefaultTimeout bounds the connect/read time of one attempt. Expiry is
// treated identically to a network failure.
const DefaultTimeout = 10 * time.Second

// HTTPClient abstracts HTTP operations for dependency injection.
// The standard *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor runs the blocking network call off the caller's goroutine so the
// send pool's dispatch goroutine is never stalled by slow I/O.
type Executor interface {
	Submit(task func())
}

// Config is the transport configuration. A new Config applies to the next
// attempt only; in-flight sends keep the configuration they started with.
type Config struct {
	APIKey      string
	ServerURL   string
	BatchMode   bool
	MinIDLength int
	Headers     map[string]string
	Timeout     time.Duration
	Proxy       *url.URL
	Compress    bool
}

// payload is the collector request body.
type payload struct {
	APIKey  string          `json:"api_key"`
	Options *payloadOptions `json:"options,omitempty"`
	Events  []*event.Event  `json:"events"`
}

type payloadOptions struct {
	MinIDLength int `json:"min_id_length"`
}

// Sender posts event batches to the collector.
type Sender struct {
	cfg    Config
	client HTTPClient
	exec   Executor
	logger zerolog.Logger
}

// NewSender creates a sender for the given configuration. When client is
// nil, a default http.Client is built from the config's timeout and proxy.
func NewSender(cfg Config, client HTTPClient, exec Executor, logger zerolog.Logger) *Sender {
	if cfg.ServerURL == "" {
		if cfg.BatchMode {
			cfg.ServerURL = DefaultBatchURL
		} else {
			cfg.ServerURL = DefaultServerURL
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.Proxy != nil {
			t.Proxy = http.ProxyURL(cfg.Proxy)
		}
		client = &http.Client{Timeout: cfg.Timeout, Transport: t}
	}
	return &Sender{cfg: cfg, client: client, exec: exec, logger: logger}
}

// Send posts the events in one batch and returns the classified response.
// Network failure and timeout yield a synthesized Timeout response, not an
// error; the error return is reserved for serialization failures and for a
// detected invalid API key (response.ErrInvalidAPIKey).
func (s *Sender) Send(ctx context.Context, events []*event.Event) (*response.Response, error) {
	if len(events) == 0 {
		return nil, nil
	}

	p := payload{APIKey: s.cfg.APIKey, Events: events}
	if s.cfg.MinIDLength > 0 {
		p.Options = &payloadOptions{MinIDLength: s.cfg.MinIDLength}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := s.buildRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := s.do(req)
	if err != nil {
		s.logger.Warn().Err(err).Int("events", len(events)).Msg("send failed, treating as timeout")
		return response.Timeout(), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read response body failed")
		return &response.Response{Code: resp.StatusCode, Status: response.StatusFor(resp.StatusCode)}, nil
	}

	classified, err := response.Parse(resp.StatusCode, respBody)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("events", len(events)).
		Int("code", classified.Code).
		Str("status", classified.Status.String()).
		Msg("batch sent")
	return classified, nil
}

func (s *Sender) buildRequest(ctx context.Context, body []byte) (*http.Request, error) {
	if s.cfg.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// do runs the blocking HTTP call on the I/O executor and waits for it,
// keeping the dispatch goroutine free of network stalls.
func (s *Sender) do(req *http.Request) (*http.Response, error) {
	if s.exec == nil {
		return s.client.Do(req)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	ch := make(chan result, 1)
	s.exec.Submit(func() {
		resp, err := s.client.Do(req)
		ch <- result{resp: resp, err: err}
	})
	r := <-ch
	return r.resp, r.err
}
