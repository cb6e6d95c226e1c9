package event

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Serialization limits enforced on every outgoing event.
const (
	// MaxStringLength is the maximum length in characters of any string
	// value in an event. Longer values are truncated on serialization.
	MaxStringLength = 1000

	// MaxPropertyKeys is the maximum number of entries in a property map.
	// Wider maps fail serialization with ErrTooManyProperties.
	MaxPropertyKeys = 1024
)

// Callback receives the terminal delivery outcome for an event: the HTTP
// status code of the final attempt (0 when no attempt was made) and a
// human-readable message. It fires exactly once per event.
type Callback func(e *Event, code int, message string)

// Plan identifies the tracking plan an event was emitted under.
type Plan struct {
	Branch    string `json:"branch,omitempty"`
	Source    string `json:"source,omitempty"`
	Version   string `json:"version,omitempty"`
	VersionID string `json:"versionId,omitempty"`
}

// IngestionMetadata identifies the library or pipeline that produced an event.
type IngestionMetadata struct {
	SourceName    string `json:"source_name,omitempty"`
	SourceVersion string `json:"source_version,omitempty"`
}

// Event is a single telemetry occurrence. Construct with New, then fill in
// optional fields before enqueueing. An event is enqueued once and consumed
// by exactly one delivery cycle; the same instance may be retried several
// times before its terminal callback fires.
type Event struct {
	EventType string

	// Identity. At least one of UserID and DeviceID is set (enforced by New).
	// Empty fields serialize as JSON null, never omitted.
	UserID   string
	DeviceID string

	// Time is milliseconds since the epoch. Defaults to creation time.
	Time int64

	LocationLat *float64
	LocationLng *float64

	AppVersion         string
	Platform           string
	OSName             string
	OSVersion          string
	DeviceBrand        string
	DeviceManufacturer string
	DeviceModel        string
	Carrier            string
	Country            string
	Region             string
	City               string
	DMA                string
	Language           string
	IP                 string

	EventProperties map[string]interface{}
	UserProperties  map[string]interface{}
	Groups          map[string]interface{}
	GroupProperties map[string]interface{}

	// Revenue fields. The group is emitted only when Price or Revenue is
	// set; Quantity defaults to 1 when omitted.
	Price       *float64
	Quantity    int
	Revenue     *float64
	ProductID   string
	RevenueType string
	Currency    string

	EventID   int64
	SessionID int64

	// InsertID is used by the collector for deduplication. New assigns a
	// random UUID; callers may override it for their own dedup scheme.
	InsertID string

	Plan              *Plan
	IngestionMetadata *IngestionMetadata

	// Callback, when non-nil, fires after the client-level callback on the
	// event's terminal outcome. Never serialized.
	Callback Callback
}

// New creates an event of the given type. One of userID and deviceID must be
// non-empty; the other may be left empty.
func New(eventType, userID, deviceID string) (*Event, error) {
	if eventType == "" {
		return nil, ErrMissingEventType
	}
	if userID == "" && deviceID == "" {
		return nil, ErrMissingIdentity
	}
	return &Event{
		EventType: eventType,
		UserID:    userID,
		DeviceID:  deviceID,
		Time:      time.Now().UnixMilli(),
		SessionID: -1,
		InsertID:  uuid.NewString(),
	}, nil
}

// wireEvent is the canonical collector schema. Identity fields have no
// omitempty so an absent id reaches the collector as an explicit null.
type wireEvent struct {
	EventType          string                 `json:"event_type"`
	UserID             *string                `json:"user_id"`
	DeviceID           *string                `json:"device_id"`
	Time               int64                  `json:"time"`
	LocationLat        *float64               `json:"location_lat,omitempty"`
	LocationLng        *float64               `json:"location_lng,omitempty"`
	AppVersion         string                 `json:"app_version,omitempty"`
	Platform           string                 `json:"platform,omitempty"`
	OSName             string                 `json:"os_name,omitempty"`
	OSVersion          string                 `json:"os_version,omitempty"`
	DeviceBrand        string                 `json:"device_brand,omitempty"`
	DeviceManufacturer string                 `json:"device_manufacturer,omitempty"`
	DeviceModel        string                 `json:"device_model,omitempty"`
	Carrier            string                 `json:"carrier,omitempty"`
	Country            string                 `json:"country,omitempty"`
	Region             string                 `json:"region,omitempty"`
	City               string                 `json:"city,omitempty"`
	DMA                string                 `json:"dma,omitempty"`
	Language           string                 `json:"language,omitempty"`
	IP                 string                 `json:"ip,omitempty"`
	EventProperties    map[string]interface{} `json:"event_properties,omitempty"`
	UserProperties     map[string]interface{} `json:"user_properties,omitempty"`
	Price              *float64               `json:"price,omitempty"`
	Quantity           int                    `json:"quantity,omitempty"`
	Revenue            *float64               `json:"revenue,omitempty"`
	ProductID          string                 `json:"productId,omitempty"`
	RevenueType        string                 `json:"revenueType,omitempty"`
	Currency           string                 `json:"currency,omitempty"`
	EventID            int64                  `json:"event_id,omitempty"`
	SessionID          int64                  `json:"session_id"`
	InsertID           string                 `json:"insert_id,omitempty"`
	Groups             map[string]interface{} `json:"groups,omitempty"`
	GroupProperties    map[string]interface{} `json:"group_properties,omitempty"`
	Plan               *Plan                  `json:"plan,omitempty"`
	IngestionMetadata  *IngestionMetadata     `json:"ingestion_metadata,omitempty"`
}

// MarshalJSON serializes the event to its canonical wire form, truncating
// oversized string values and rejecting oversized property maps.
func (e *Event) MarshalJSON() ([]byte, error) {
	eventProps, err := truncateMap(e.EventProperties)
	if err != nil {
		return nil, err
	}
	userProps, err := truncateMap(e.UserProperties)
	if err != nil {
		return nil, err
	}
	groups, err := truncateMap(e.Groups)
	if err != nil {
		return nil, err
	}
	groupProps, err := truncateMap(e.GroupProperties)
	if err != nil {
		return nil, err
	}

	w := wireEvent{
		EventType:          truncate(e.EventType),
		UserID:             nullable(e.UserID),
		DeviceID:           nullable(e.DeviceID),
		Time:               e.Time,
		LocationLat:        e.LocationLat,
		LocationLng:        e.LocationLng,
		AppVersion:         truncate(e.AppVersion),
		Platform:           truncate(e.Platform),
		OSName:             truncate(e.OSName),
		OSVersion:          truncate(e.OSVersion),
		DeviceBrand:        truncate(e.DeviceBrand),
		DeviceManufacturer: truncate(e.DeviceManufacturer),
		DeviceModel:        truncate(e.DeviceModel),
		Carrier:            truncate(e.Carrier),
		Country:            truncate(e.Country),
		Region:             truncate(e.Region),
		City:               truncate(e.City),
		DMA:                truncate(e.DMA),
		Language:           truncate(e.Language),
		IP:                 truncate(e.IP),
		EventProperties:    eventProps,
		UserProperties:     userProps,
		EventID:            e.EventID,
		SessionID:          e.SessionID,
		InsertID:           e.InsertID,
		Groups:             groups,
		GroupProperties:    groupProps,
		Plan:               e.Plan,
		IngestionMetadata:  e.IngestionMetadata,
	}

	// Revenue group is all-or-nothing, keyed on price or revenue being set.
	if e.Price != nil || e.Revenue != nil {
		w.Price = e.Price
		w.Revenue = e.Revenue
		w.Quantity = e.Quantity
		if w.Quantity == 0 {
			w.Quantity = 1
		}
		w.ProductID = truncate(e.ProductID)
		w.RevenueType = truncate(e.RevenueType)
		w.Currency = truncate(e.Currency)
	}

	return json.Marshal(w)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	s = truncate(s)
	return &s
}

func truncate(s string) string {
	if len(s) <= MaxStringLength {
		return s
	}
	r := []rune(s)
	if len(r) <= MaxStringLength {
		return s
	}
	return string(r[:MaxStringLength])
}

// truncateMap returns a copy of m with every string value truncated,
// recursing into nested maps and slices. Returns ErrTooManyProperties when
// any map level exceeds MaxPropertyKeys entries.
func truncateMap(m map[string]interface{}) (map[string]interface{}, error) {
	if m == nil {
		return nil, nil
	}
	if len(m) > MaxPropertyKeys {
		return nil, ErrTooManyProperties
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		tv, err := truncateValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = tv
	}
	return out, nil
}

func truncateValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return truncate(t), nil
	case map[string]interface{}:
		return truncateMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, el := range t {
			tv, err := truncateValue(el)
			if err != nil {
				return nil, err
			}
			out[i] = tv
		}
		return out, nil
	default:
		return v, nil
	}
}
