package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAck_StructuredACK(t *testing.T) {
	res := ClassifyAck([]byte(`{"message":{"ack":{"status":"ACK"}}}`))
	assert.True(t, res.Ack)
}

func TestClassifyAck_StructuredNACK(t *testing.T) {
	res := ClassifyAck([]byte(`{"message":{"ack":{"status":"NACK"}},"error":{"code":"INVALID_REQUEST"}}`))
	assert.False(t, res.Ack)
}

func TestClassifyAck_ObjectWithoutStatus(t *testing.T) {
	res := ClassifyAck([]byte(`{"message":{"order":{}}}`))
	assert.False(t, res.Ack)
}

func TestClassifyAck_DoubleSerializedString(t *testing.T) {
	// A proxy that re-encodes the body as a JSON string.
	res := ClassifyAck([]byte(`"{\"message\":{\"ack\":{\"status\":\"ACK\"}}}"`))
	assert.True(t, res.Ack)
}

func TestClassifyAck_StringWithSpacedMarker(t *testing.T) {
	res := ClassifyAck([]byte(`"garbage {\"status\": \"ACK\"} trailing"`))
	assert.True(t, res.Ack)
}

func TestClassifyAck_NACKMarkerTakesPriority(t *testing.T) {
	res := ClassifyAck([]byte(`"{\"status\":\"ACK\"} and also {\"status\":\"NACK\"}"`))
	assert.False(t, res.Ack)
}

func TestClassifyAck_MalformedBody(t *testing.T) {
	res := ClassifyAck([]byte(`<<<not json, but "status":"ACK" shows up>>>`))
	assert.True(t, res.Ack)

	res = ClassifyAck([]byte(`<<<total garbage>>>`))
	assert.False(t, res.Ack)
}

func TestClassifyAck_UnknownShapes(t *testing.T) {
	assert.False(t, ClassifyAck([]byte(`42`)).Ack)
	assert.False(t, ClassifyAck([]byte(`[1,2,3]`)).Ack)
	assert.False(t, ClassifyAck([]byte(`null`)).Ack)
}
