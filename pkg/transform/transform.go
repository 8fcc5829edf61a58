// Package transform converts validated device payloads into normalized
// state-change records, and malformed records into their final wire shape.
package transform

import (
	"encoding/json"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/model"
)

var (
	connectionStatusPath jp.Expr
	rtkEnabledPath       jp.Expr
	positionPath         jp.Expr
	positionTimestamp    jp.Expr
)

func init() {
	connectionStatusPath = mustParse("$.services.rtk.connectionStatus")
	rtkEnabledPath = mustParse("$.services.rtk.enabled")
	positionPath = mustParse("$.lastPosition.position.llaDec")
	positionTimestamp = mustParse("$.lastPosition.timestamp")
}

func mustParse(path string) jp.Expr {
	expr, err := jp.ParseString(path)
	if err != nil {
		panic("transform: invalid JSONPath expression " + path + ": " + err.Error())
	}
	return expr
}

// Transformer is a stateful device_id → last connectionStatus ledger. It is
// not safe for concurrent use; the pipeline drives it from a single
// goroutine so the ledger never needs locking.
type Transformer struct {
	instanceID     string
	subscriptionID string
	lastState      map[string]string
}

// New builds a Transformer. instanceID and subscriptionID are copied into
// the source provenance of every record produced.
func New(instanceID, subscriptionID string) *Transformer {
	return &Transformer{
		instanceID:     instanceID,
		subscriptionID: subscriptionID,
		lastState:      make(map[string]string),
	}
}

// Transform converts a validated device payload into a newline-terminated
// NDJSON line. The ledger records the device's new connectionStatus, if
// present, as a side effect.
func (t *Transformer) Transform(device map[string]interface{}) ([]byte, error) {
	deviceID, _ := device["id"].(string)

	currentState := stringAt(connectionStatusPath, device)
	var previousState *string
	if prev, ok := t.lastState[deviceID]; ok {
		prev := prev
		previousState = &prev
	}

	if currentState != nil {
		t.lastState[deviceID] = *currentState
	}

	position, _ := first(positionPath, device).(map[string]interface{})

	event := model.StateChangeEvent{
		EventType:     "state_change",
		Timestamp:     stringAt(positionTimestamp, device),
		ReceivedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		DeviceID:      deviceID,
		DeviceLabel:   stringField(device, "label"),
		PreviousState: previousState,
		CurrentState:  currentState,
		Latitude:      floatFrom(position, "lat"),
		Longitude:     floatFrom(position, "lon"),
		AltitudeM:     floatFrom(position, "alt"),
		RTKEnabled:    boolAt(rtkEnabledPath, device),
		Tags:          tagsField(device),
		Source:        model.NewSource(t.instanceID, t.subscriptionID),
	}

	return encodeLine(event)
}

// TransformMalformed serializes an already-built malformed record to a
// newline-terminated NDJSON line.
func (t *Transformer) TransformMalformed(ev model.MalformedEvent) ([]byte, error) {
	return encodeLine(ev)
}

func encodeLine(v interface{}) ([]byte, error) {
	line, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

func first(expr jp.Expr, data interface{}) interface{} {
	matches := expr.Get(data)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func stringAt(expr jp.Expr, data interface{}) *string {
	v, ok := first(expr, data).(string)
	if !ok {
		return nil
	}
	return &v
}

func boolAt(expr jp.Expr, data interface{}) *bool {
	v, ok := first(expr, data).(bool)
	if !ok {
		return nil
	}
	return &v
}

func stringField(device map[string]interface{}, key string) *string {
	v, ok := device[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func floatFrom(m map[string]interface{}, key string) *float64 {
	if m == nil {
		return nil
	}
	v, ok := m[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func tagsField(device map[string]interface{}) []model.Tag {
	raw, ok := device["tags"].([]interface{})
	if !ok {
		return nil
	}
	tags := make([]model.Tag, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key, _ := entry["key"].(string)
		value, _ := entry["value"].(string)
		tags = append(tags, model.Tag{Key: key, Value: value})
	}
	return tags
}
