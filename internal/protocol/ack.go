package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AckResult is the outcome of classifying a downstream acknowledgement.
type AckResult struct {
	Ack    bool
	Reason string
}

// String markers for the defensive raw-body scan. Some adapter deployments
// sit behind proxies that mangle the ack JSON into a quoted string; the exact
// marker match (with and without a space after the colon) avoids false
// positives on substrings.
var (
	nackMarkers = []string{`"status":"NACK"`, `"status": "NACK"`}
	ackMarkers  = []string{`"status":"ACK"`, `"status": "ACK"`}
)

// ClassifyAck decides whether a downstream response body is an ACK.
//
// Two shapes are tolerated: a structured object carrying
// message.ack.status, and a raw string containing a status marker. NACK
// markers take priority over ACK markers. Anything else is treated as NACK
// with a diagnostic reason. All raw-body sniffing lives here so the bridge
// never deals with it.
func ClassifyAck(body []byte) AckResult {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Not JSON at all; fall back to the marker scan on the raw bytes.
		return classifyString(string(body))
	}

	switch v := parsed.(type) {
	case map[string]any:
		status := ackStatus(v)
		switch status {
		case "ACK":
			return AckResult{Ack: true, Reason: "message.ack.status is ACK"}
		case "NACK":
			return AckResult{Ack: false, Reason: "message.ack.status is NACK"}
		}
		return AckResult{Ack: false, Reason: fmt.Sprintf("object response without ack status (keys: %d)", len(v))}
	case string:
		// Body was a JSON-encoded string (double-serialized by a proxy).
		return classifyString(v)
	default:
		return AckResult{Ack: false, Reason: fmt.Sprintf("unknown response format: %T", parsed)}
	}
}

func classifyString(s string) AckResult {
	// NACK takes priority if both patterns somehow appear.
	for _, marker := range nackMarkers {
		if strings.Contains(s, marker) {
			return AckResult{Ack: false, Reason: `string contains "status":"NACK"`}
		}
	}
	for _, marker := range ackMarkers {
		if strings.Contains(s, marker) {
			return AckResult{Ack: true, Reason: `string contains "status":"ACK"`}
		}
	}
	return AckResult{Ack: false, Reason: "string does not contain a valid ACK marker"}
}

func ackStatus(body map[string]any) string {
	msg, _ := body["message"].(map[string]any)
	ack, _ := msg["ack"].(map[string]any)
	status, _ := ack["status"].(string)
	return status
}
