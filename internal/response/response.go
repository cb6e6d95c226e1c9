// Package response interprets collector HTTP responses into a typed status
// plus status-specific detail used by the retry engine.
package response

import (
	"errors"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrInvalidAPIKey is returned by Parse when the collector rejects the
// configured API key. This is the one classification outcome that aborts the
// batch instead of feeding the retry path.
var ErrInvalidAPIKey = errors.New("pulse: invalid API key")

// Status is the delivery outcome class derived from the HTTP status code.
type Status int

const (
	StatusUnknown Status = iota
	// StatusSkipped exists for collector wire parity; no HTTP code maps to
	// it in this client.
	StatusSkipped
	StatusSuccess
	StatusRateLimit
	StatusPayloadTooLarge
	StatusTimeout
	StatusInvalid
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "Skipped"
	case StatusSuccess:
		return "Success"
	case StatusRateLimit:
		return "RateLimit"
	case StatusPayloadTooLarge:
		return "PayloadTooLarge"
	case StatusTimeout:
		return "Timeout"
	case StatusInvalid:
		return "Invalid"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StatusFor maps an HTTP status code to a Status.
func StatusFor(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusSuccess
	case code == 429:
		return StatusRateLimit
	case code == 413:
		return StatusPayloadTooLarge
	case code == 408:
		return StatusTimeout
	case code >= 400 && code < 500:
		return StatusInvalid
	case code >= 500 && code < 600:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// SuccessSummary holds the collector's ingestion counters for a 2xx response.
type SuccessSummary struct {
	EventsIngested   int   `json:"events_ingested"`
	PayloadSizeBytes int   `json:"payload_size_bytes"`
	ServerUploadTime int64 `json:"server_upload_time"`
}

// InvalidDetail holds per-event field diagnostics for a 400/413 response.
// The wire maps are keyed by field name with the offending event indices as
// values.
type InvalidDetail struct {
	Error                   string           `json:"error"`
	MissingField            string           `json:"missing_field"`
	EventsWithInvalidFields map[string][]int `json:"events_with_invalid_fields"`
	EventsWithMissingFields map[string][]int `json:"events_with_missing_fields"`
}

// EventIndices returns the sorted union of all event indices reported as
// carrying invalid or missing fields.
func (d *InvalidDetail) EventIndices() []int {
	seen := map[int]struct{}{}
	for _, idxs := range d.EventsWithInvalidFields {
		for _, i := range idxs {
			seen[i] = struct{}{}
		}
	}
	for _, idxs := range d.EventsWithMissingFields {
		for _, i := range idxs {
			seen[i] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// RateLimitDetail holds throttling diagnostics for a 429 response. The
// identity maps are keyed by user or device id with the collector's limit
// or count as value.
type RateLimitDetail struct {
	Error                     string         `json:"error"`
	EPSThreshold              float64        `json:"eps_threshold"`
	ThrottledDevices          map[string]int `json:"throttled_devices"`
	ThrottledUsers            map[string]int `json:"throttled_users"`
	ThrottledEvents           []int          `json:"throttled_events"`
	ExceededDailyQuotaDevices map[string]int `json:"exceeded_daily_quota_devices"`
	ExceededDailyQuotaUsers   map[string]int `json:"exceeded_daily_quota_users"`
}

// ExceededDailyQuota reports whether either identity half has exhausted its
// daily quota. Events for such identities are dropped rather than retried.
func (d *RateLimitDetail) ExceededDailyQuota(userID, deviceID string) bool {
	if userID != "" {
		if _, ok := d.ExceededDailyQuotaUsers[userID]; ok {
			return true
		}
	}
	if deviceID != "" {
		if _, ok := d.ExceededDailyQuotaDevices[deviceID]; ok {
			return true
		}
	}
	return false
}

// Response is the classified outcome of one delivery attempt. Exactly one of
// Success, Invalid, and RateLimit is populated, matching Status; all three
// are nil for statuses without structured detail.
type Response struct {
	Code      int
	Status    Status
	Success   *SuccessSummary
	Invalid   *InvalidDetail
	RateLimit *RateLimitDetail
}

// Timeout returns the synthesized response used for network failures and
// local timeouts.
func Timeout() *Response {
	return &Response{Code: 408, Status: StatusTimeout}
}

// Parse classifies an HTTP status code and response body. A body that is not
// parseable JSON yields a response carrying only the code and its derived
// status. An invalid-API-key rejection returns ErrInvalidAPIKey.
func Parse(code int, body []byte) (*Response, error) {
	r := &Response{Code: code, Status: StatusFor(code)}

	switch r.Status {
	case StatusSuccess:
		var s SuccessSummary
		if err := json.Unmarshal(body, &s); err == nil {
			r.Success = &s
		}
	case StatusInvalid, StatusPayloadTooLarge:
		var d InvalidDetail
		if err := json.Unmarshal(body, &d); err != nil {
			return r, nil
		}
		if isInvalidAPIKey(d.Error) {
			return nil, ErrInvalidAPIKey
		}
		r.Invalid = &d
	case StatusRateLimit:
		var d RateLimitDetail
		if err := json.Unmarshal(body, &d); err != nil {
			return r, nil
		}
		r.RateLimit = &d
	}

	return r, nil
}

func isInvalidAPIKey(msg string) bool {
	return strings.HasPrefix(strings.ToLower(msg), "invalid api key")
}
