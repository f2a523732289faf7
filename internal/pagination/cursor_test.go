package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	id := "txn-abc123"

	encoded := Encode(ts, id)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, id, cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cursor")
}

func TestDecode_MalformedPayload(t *testing.T) {
	// Valid base64 but no | separator
	_, err := Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-5))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxLimit, ClampLimit(10_000))
}

func TestPage_NoMore(t *testing.T) {
	items := []string{"a", "b", "c"}
	result, cursor, hasMore := Page(items, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestPage_HasMore(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []string{"a", "b", "c", "d"}
	result, cursor, hasMore := Page(items, 3, func(s string) (time.Time, string) {
		return ts, s
	})
	assert.Equal(t, 3, len(result))
	assert.NotEmpty(t, cursor)
	assert.True(t, hasMore)

	decoded, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "c", decoded.ID)
}

func TestAfter_FiltersPastCursor(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	type row struct {
		id string
		ts time.Time
	}
	// Newest first, matching list ordering.
	items := []row{
		{"txn-3", base.Add(3 * time.Hour)},
		{"txn-2", base.Add(2 * time.Hour)},
		{"txn-1", base.Add(1 * time.Hour)},
	}
	key := func(r row) (time.Time, string) { return r.ts, r.id }

	c := &Cursor{CreatedAt: base.Add(2 * time.Hour), ID: "txn-2"}
	out := After(items, c, key)
	require.Len(t, out, 1)
	assert.Equal(t, "txn-1", out[0].id)

	assert.Len(t, After(items, nil, key), 3)
}
