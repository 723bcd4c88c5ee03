// Package clinicaltime provides a JSON time type that accepts both full
// RFC 3339 timestamps and the bare YYYY-MM-DD dates that clinic forms send.
package clinicaltime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Time wraps time.Time with lenient JSON decoding. The zero value encodes as
// an empty string.
type Time struct {
	time.Time
}

// New wraps t.
func New(t time.Time) Time { return Time{Time: t} }

// Parse accepts RFC 3339 (with or without fractional seconds) or a bare date.
func Parse(s string) (Time, error) {
	if s == "" {
		return Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Time{Time: t}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Time{Time: t}, nil
	}
	return Time{}, fmt.Errorf("invalid date %q: expected RFC 3339 or YYYY-MM-DD", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
