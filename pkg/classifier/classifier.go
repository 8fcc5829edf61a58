// Package classifier turns a raw graphql-transport-ws frame into either a
// validated device payload, a malformed record carrying diagnostics, or
// nothing (a protocol message the caller should skip).
package classifier

import (
	"encoding/json"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/model"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/util"
)

// devicesPath walks payload.data.devices the same way the transformer walks
// a device object: a single parsed JSONPath expression reused on every call.
var devicesPath jp.Expr

func init() {
	expr, err := jp.ParseString("$.payload.data.devices")
	if err != nil {
		panic("classifier: invalid devices JSONPath expression: " + err.Error())
	}
	devicesPath = expr
}

// Result is the outcome of classifying one raw frame. Exactly one of
// Device or Malformed is set; if both are nil the frame was a protocol
// message that the caller should silently skip.
type Result struct {
	Device    map[string]interface{}
	Malformed *model.MalformedEvent
}

// Classify inspects a single raw graphql-transport-ws frame.
//
// instanceID and subscriptionID are copied into Source on every malformed
// record produced, matching the provenance carried on valid records.
func Classify(raw string, instanceID, subscriptionID string) Result {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	source := model.NewSource(instanceID, subscriptionID)

	var msg map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Result{Malformed: malformed(model.ErrParseError, err.Error(), raw, now, source)}
	}

	msgType, _ := msg["type"].(string)
	if msgType != "next" {
		return Result{}
	}

	matches := devicesPath.Get(msg)
	if len(matches) == 0 {
		return Result{Malformed: malformed(
			model.ErrSchemaMismatch,
			"Missing path: payload.data.devices",
			raw, now, source,
		)}
	}

	devices, ok := matches[0].(map[string]interface{})
	if !ok {
		return Result{Malformed: malformed(
			model.ErrMissingFields,
			"Device object missing required field: id",
			raw, now, source,
		)}
	}

	if _, hasID := devices["id"]; !hasID {
		return Result{Malformed: malformed(
			model.ErrMissingFields,
			"Device object missing required field: id",
			raw, now, source,
		)}
	}

	return Result{Device: devices}
}

func malformed(code model.ErrorCode, message, raw, now string, source model.Source) *model.MalformedEvent {
	truncatedRaw, wasTruncated := util.TruncateUTF8(raw, util.MaxRawPayloadBytes)
	ev := model.NewMalformedEvent(now, model.ErrorDetail{
		Code:                code,
		Message:             message,
		RawPayload:          truncatedRaw,
		RawPayloadTruncated: wasTruncated,
	}, source)
	return &ev
}
