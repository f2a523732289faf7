// Package pagination provides opaque cursor pagination for list endpoints.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLimit and MaxLimit bound the page size on list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Cursor marks a position in a result set ordered by (created_at DESC, id).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns an opaque cursor string for a row key.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{
		CreatedAt: time.Unix(0, nanos).UTC(),
		ID:        parts[1],
	}, nil
}

// ClampLimit normalizes a requested page size into [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page trims items to the requested limit and produces the next cursor.
// extractKey returns the (createdAt, id) ordering key for an item. Callers
// fetch or hold limit+1 items so Page can tell whether more rows exist.
func Page[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	createdAt, id := extractKey(last)
	return items, Encode(createdAt, id), true
}

// After filters items to those strictly after the cursor in
// (created_at DESC, id ASC) order. A nil cursor returns items unchanged.
func After[T any](items []T, c *Cursor, extractKey func(T) (time.Time, string)) []T {
	if c == nil {
		return items
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		createdAt, id := extractKey(it)
		if createdAt.After(c.CreatedAt) {
			continue
		}
		if createdAt.Equal(c.CreatedAt) && id <= c.ID {
			continue
		}
		out = append(out, it)
	}
	return out
}
