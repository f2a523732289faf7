package syncapi

import "fmt"

// The bridge reports failures through a small closed taxonomy; the HTTP
// layer maps each type to a stable external shape and status code.

// ValidationError is a local pre-flight failure. It never touches the
// registry or the network.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("syncapi: validation failed (%s): %s", e.Code, e.Message)
}

// NackError means the downstream participant explicitly rejected the
// handshake with a NACK acknowledgement.
type NackError struct {
	Action string
	Reason string
	Body   string
}

func (e *NackError) Error() string {
	return fmt.Sprintf("syncapi: downstream returned NACK for %s (%s)", e.Action, e.Reason)
}

// TransportError means the outbound leg itself failed: network error or a
// non-2xx response from the downstream adapter.
type TransportError struct {
	StatusCode int // 0 when the request never completed
	Message    string
	Details    map[string]any // downstream error body when available
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("syncapi: downstream returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("syncapi: request failed: %s", e.Message)
}

// BusinessError means the protocol handshake succeeded but the resolved
// callback payload carries a domain-level failure (e.g. insufficient
// inventory).
type BusinessError struct {
	TransactionID string
	Detail        any // the callback's error object, passed through verbatim
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("syncapi: business error in callback for txn %s", e.TransactionID)
}
