// Package protocol holds the Beckn envelope helpers shared by the sync
// bridge and the callback surface.
//
// Messages are kept as generic maps: the gateway forwards payloads it does
// not own the schema for, and only dips into the handful of paths it needs
// (transaction id, order attributes, order items).
package protocol

import "fmt"

// Protocol actions bridged by the gateway.
const (
	ActionSelect  = "select"
	ActionInit    = "init"
	ActionConfirm = "confirm"
	ActionStatus  = "status"
)

// OrderTypeInterUtility is the type discriminator stamped on confirm/init
// orders that cross counterparty (discom) boundaries.
const OrderTypeInterUtility = "EnergyTradeOrderInterUtility"

// Envelope is the outer protocol message: {"context": {...}, "message": {...}}.
type Envelope map[string]any

// Context returns the context object, or nil.
func (e Envelope) Context() map[string]any {
	ctx, _ := e["context"].(map[string]any)
	return ctx
}

// Message returns the message object, or nil.
func (e Envelope) Message() map[string]any {
	msg, _ := e["message"].(map[string]any)
	return msg
}

// TransactionID returns context.transaction_id, or "".
func (e Envelope) TransactionID() string {
	id, _ := e.Context()["transaction_id"].(string)
	return id
}

// SetTransactionID writes context.transaction_id, creating the context
// object if needed.
func (e Envelope) SetTransactionID(id string) {
	ctx := e.Context()
	if ctx == nil {
		ctx = make(map[string]any)
		e["context"] = ctx
	}
	ctx["transaction_id"] = id
}

// Action returns context.action, or "".
func (e Envelope) Action() string {
	action, _ := e.Context()["action"].(string)
	return action
}

// Order returns message.order, or nil.
func (e Envelope) Order() map[string]any {
	order, _ := e.Message()["order"].(map[string]any)
	return order
}

// OrderAttributes returns message.order["beckn:orderAttributes"], or nil.
func (e Envelope) OrderAttributes() map[string]any {
	attrs, _ := e.Order()["beckn:orderAttributes"].(map[string]any)
	return attrs
}

// StampOrderType writes the @type discriminator into the order attributes,
// creating the attribute object if needed. Returns false when there is no
// order to stamp.
func (e Envelope) StampOrderType(orderType string) bool {
	order := e.Order()
	if order == nil {
		return false
	}
	attrs, _ := order["beckn:orderAttributes"].(map[string]any)
	if attrs == nil {
		attrs = make(map[string]any)
		order["beckn:orderAttributes"] = attrs
	}
	attrs["@type"] = orderType
	return true
}

// FirstOrderItem returns the id and unit quantity of the first order item,
// if present.
func (e Envelope) FirstOrderItem() (id string, quantity float64, ok bool) {
	items, _ := e.Order()["beckn:orderItems"].([]any)
	if len(items) == 0 {
		return "", 0, false
	}
	item, _ := items[0].(map[string]any)
	if item == nil {
		return "", 0, false
	}
	id, _ = item["beckn:id"].(string)
	if q, qok := item["beckn:quantity"].(map[string]any); qok {
		switch v := q["unitQuantity"].(type) {
		case float64:
			quantity = v
		case int:
			quantity = float64(v)
		}
	}
	return id, quantity, id != ""
}

// AckEnvelope builds the standard acknowledgement body:
// {"message": {"ack": {"status": <status>}}}.
func AckEnvelope(status string) map[string]any {
	return map[string]any{
		"message": map[string]any{
			"ack": map[string]any{"status": status},
		},
	}
}

// ErrorMessage digs a human-readable diagnostic out of a downstream error
// body. The adapter reports errors as
// {message: {ack: {...}, error: {code, message}}}, but some deployments
// flatten it; check the nested path first, then the flat one.
func ErrorMessage(body map[string]any) string {
	if msg, ok := body["message"].(map[string]any); ok {
		if errObj, ok := msg["error"].(map[string]any); ok {
			if s, ok := errObj["message"].(string); ok && s != "" {
				return s
			}
		}
	}
	switch errVal := body["error"].(type) {
	case map[string]any:
		if s, ok := errVal["message"].(string); ok && s != "" {
			return s
		}
	case string:
		if errVal != "" {
			return errVal
		}
	}
	return ""
}

// CallbackAction returns the callback verb for an action, e.g. "on_select".
func CallbackAction(action string) string {
	return fmt.Sprintf("on_%s", action)
}
