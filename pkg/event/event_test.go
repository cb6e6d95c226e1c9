package event

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresIdentity(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		deviceID string
		wantErr  error
	}{
		{name: "both ids", userID: "u1", deviceID: "d1"},
		{name: "user only", userID: "u1"},
		{name: "device only", deviceID: "d1"},
		{name: "neither", wantErr: ErrMissingIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := New("click", tt.userID, tt.deviceID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, ev)
		})
	}
}

func TestNewRequiresEventType(t *testing.T) {
	_, err := New("", "u1", "")
	require.ErrorIs(t, err, ErrMissingEventType)
}

func TestNewDefaults(t *testing.T) {
	ev, err := New("click", "u1", "")
	require.NoError(t, err)
	assert.Greater(t, ev.Time, int64(0))
	assert.Equal(t, int64(-1), ev.SessionID)
	_, err = uuid.Parse(ev.InsertID)
	assert.NoError(t, err, "insert id should be a UUID")
}

func marshalToMap(t *testing.T, ev *Event) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestMarshalNullIdentity(t *testing.T) {
	ev, err := New("click", "u1", "")
	require.NoError(t, err)
	m := marshalToMap(t, ev)

	assert.Equal(t, "u1", m["user_id"])
	v, ok := m["device_id"]
	require.True(t, ok, "device_id must be present even when unset")
	assert.Nil(t, v, "unset device_id must serialize as null")
}

func TestMarshalTruncatesLongStrings(t *testing.T) {
	ev, err := New("click", "u1", "")
	require.NoError(t, err)
	ev.EventProperties = map[string]interface{}{
		"long":   strings.Repeat("x", MaxStringLength+100),
		"short":  "ok",
		"nested": map[string]interface{}{"deep": strings.Repeat("y", MaxStringLength+1)},
		"list":   []interface{}{strings.Repeat("z", MaxStringLength*2)},
	}

	m := marshalToMap(t, ev)
	props := m["event_properties"].(map[string]interface{})
	assert.Len(t, props["long"].(string), MaxStringLength)
	assert.Equal(t, "ok", props["short"])
	nested := props["nested"].(map[string]interface{})
	assert.Len(t, nested["deep"].(string), MaxStringLength)
	list := props["list"].([]interface{})
	assert.Len(t, list[0].(string), MaxStringLength)
}

func TestMarshalRejectsWidePropertyMap(t *testing.T) {
	ev, err := New("click", "u1", "")
	require.NoError(t, err)
	wide := make(map[string]interface{}, MaxPropertyKeys+1)
	for i := 0; i <= MaxPropertyKeys; i++ {
		wide["k"+strconv.Itoa(i)] = i
	}
	require.Equal(t, MaxPropertyKeys+1, len(wide))
	ev.UserProperties = wide

	_, err = ev.MarshalJSON()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyProperties))
}

func TestMarshalRevenueOnlyWhenSet(t *testing.T) {
	ev, err := New("purchase", "u1", "")
	require.NoError(t, err)
	ev.ProductID = "sku-1"

	m := marshalToMap(t, ev)
	_, hasQty := m["quantity"]
	assert.False(t, hasQty, "revenue group must be absent without price or revenue")
	_, hasProduct := m["productId"]
	assert.False(t, hasProduct)

	price := 9.99
	ev.Price = &price
	m = marshalToMap(t, ev)
	assert.Equal(t, 9.99, m["price"])
	assert.Equal(t, float64(1), m["quantity"], "quantity defaults to 1")
	assert.Equal(t, "sku-1", m["productId"])
}

func TestMarshalEventOrderStableFields(t *testing.T) {
	ev, err := New("click", "", "d1")
	require.NoError(t, err)
	ev.Platform = "linux"
	ev.AppVersion = "1.2.3"

	m := marshalToMap(t, ev)
	assert.Equal(t, "click", m["event_type"])
	assert.Nil(t, m["user_id"])
	assert.Equal(t, "d1", m["device_id"])
	assert.Equal(t, "linux", m["platform"])
	assert.Equal(t, "1.2.3", m["app_version"])
	assert.Equal(t, float64(-1), m["session_id"])
}
