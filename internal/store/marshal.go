package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// formatTime renders a timestamp for storage. RFC 3339 with nanoseconds in
// UTC sorts lexically and round-trips exactly.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reverses formatTime.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// unmarshalBody parses a stored canonical event body.
// Uses json.Number so sequence numbers and proposal IDs above 2^53 keep
// their precision.
func unmarshalBody(body string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return obj, nil
}
