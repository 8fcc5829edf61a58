package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/model"
)

func decode(t *testing.T, line []byte) map[string]interface{} {
	t.Helper()
	require.True(t, strings.HasSuffix(string(line), "\n"))
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &out))
	return out
}

func TestTransform_FirstSightingHasNilPreviousState(t *testing.T) {
	tr := New("writer-01", "sub-1")
	device := map[string]interface{}{
		"id": "d1",
		"services": map[string]interface{}{
			"rtk": map[string]interface{}{"connectionStatus": "CONNECTED", "enabled": true},
		},
	}

	line, err := tr.Transform(device)
	require.NoError(t, err)

	out := decode(t, line)
	assert.Equal(t, "state_change", out["event_type"])
	assert.Equal(t, "d1", out["device_id"])
	assert.Nil(t, out["previous_state"])
	assert.Equal(t, "CONNECTED", out["current_state"])
}

func TestTransform_SecondSightingCarriesPreviousState(t *testing.T) {
	tr := New("writer-01", "sub-1")
	first := map[string]interface{}{
		"id":       "d1",
		"services": map[string]interface{}{"rtk": map[string]interface{}{"connectionStatus": "CONNECTED"}},
	}
	second := map[string]interface{}{
		"id":       "d1",
		"services": map[string]interface{}{"rtk": map[string]interface{}{"connectionStatus": "DISCONNECTED"}},
	}

	_, err := tr.Transform(first)
	require.NoError(t, err)
	line, err := tr.Transform(second)
	require.NoError(t, err)

	out := decode(t, line)
	assert.Equal(t, "CONNECTED", out["previous_state"])
	assert.Equal(t, "DISCONNECTED", out["current_state"])
}

func TestTransform_MissingConnectionStatusLeavesLedgerUntouched(t *testing.T) {
	tr := New("writer-01", "sub-1")
	withStatus := map[string]interface{}{
		"id":       "d1",
		"services": map[string]interface{}{"rtk": map[string]interface{}{"connectionStatus": "CONNECTED"}},
	}
	withoutStatus := map[string]interface{}{"id": "d1"}
	again := map[string]interface{}{
		"id":       "d1",
		"services": map[string]interface{}{"rtk": map[string]interface{}{"connectionStatus": "DISCONNECTED"}},
	}

	_, err := tr.Transform(withStatus)
	require.NoError(t, err)

	line, err := tr.Transform(withoutStatus)
	require.NoError(t, err)
	out := decode(t, line)
	assert.Equal(t, "CONNECTED", out["previous_state"])
	assert.Nil(t, out["current_state"])

	line, err = tr.Transform(again)
	require.NoError(t, err)
	out = decode(t, line)
	assert.Equal(t, "CONNECTED", out["previous_state"], "ledger should still hold the last real status")
	assert.Equal(t, "DISCONNECTED", out["current_state"])
}

func TestTransform_PositionAndTags(t *testing.T) {
	tr := New("writer-01", "sub-1")
	device := map[string]interface{}{
		"id":    "d1",
		"label": "Rover 1",
		"lastPosition": map[string]interface{}{
			"timestamp": "2026-01-01T00:00:00Z",
			"position": map[string]interface{}{
				"llaDec": map[string]interface{}{"lat": 1.5, "lon": -2.5, "alt": 10.0},
			},
		},
		"tags": []interface{}{
			map[string]interface{}{"key": "site", "value": "north"},
		},
	}

	line, err := tr.Transform(device)
	require.NoError(t, err)

	out := decode(t, line)
	assert.Equal(t, "2026-01-01T00:00:00Z", out["timestamp"])
	assert.Equal(t, "Rover 1", out["device_label"])
	assert.InDelta(t, 1.5, out["latitude"], 0.0001)
	assert.InDelta(t, -2.5, out["longitude"], 0.0001)
	assert.InDelta(t, 10.0, out["altitude_m"], 0.0001)
	tags, ok := out["tags"].([]interface{})
	require.True(t, ok)
	require.Len(t, tags, 1)
	tag := tags[0].(map[string]interface{})
	assert.Equal(t, "site", tag["key"])
	assert.Equal(t, "north", tag["value"])
}

func TestTransform_MissingPositionFieldsAreNull(t *testing.T) {
	tr := New("writer-01", "sub-1")
	device := map[string]interface{}{"id": "d1"}

	line, err := tr.Transform(device)
	require.NoError(t, err)

	out := decode(t, line)
	assert.Nil(t, out["latitude"])
	assert.Nil(t, out["longitude"])
	assert.Nil(t, out["altitude_m"])
	assert.Nil(t, out["timestamp"])
	assert.Nil(t, out["device_label"])
	assert.Nil(t, out["tags"])
}

func TestTransform_SourceProvenance(t *testing.T) {
	tr := New("writer-01", "sub-1")
	line, err := tr.Transform(map[string]interface{}{"id": "d1"})
	require.NoError(t, err)

	out := decode(t, line)
	source := out["source"].(map[string]interface{})
	assert.Equal(t, "writer-01", source["instance_id"])
	assert.Equal(t, "sub-1", source["subscription_id"])
}

func TestTransformMalformed_PassesThrough(t *testing.T) {
	tr := New("writer-01", "sub-1")
	ev := model.NewMalformedEvent("2026-01-01T00:00:00Z", model.ErrorDetail{
		Code:    model.ErrParseError,
		Message: "boom",
	}, model.NewSource("writer-01", "sub-1"))

	line, err := tr.TransformMalformed(ev)
	require.NoError(t, err)

	out := decode(t, line)
	assert.Equal(t, "malformed", out["event_type"])
	errDetail := out["error"].(map[string]interface{})
	assert.Equal(t, "parse_error", errDetail["code"])
}
