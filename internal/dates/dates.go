// Package dates converts the date shapes found on both sides of the bridge
// into UTC time.Time values and renders them back as ISO-8601 strings.
//
// Accepted inputs:
//   - native time.Time / *time.Time values and BSON primitive.DateTime
//   - ISO-8601 strings, with or without fractional seconds, "Z" or a numeric offset
//   - naive ISO-8601 strings (interpreted as UTC) and date-only strings
//   - Extended JSON wrappers: {"$date": <string | millis | {"$numberLong": "..."}>}
//
// A nil or empty input yields the zero time with no error. Nothing else is
// silently defaulted: unrecognised input returns a *FormatError.
package dates

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrInvalidDateFormat is matched by every error returned from Normalize.
var ErrInvalidDateFormat = errors.New("invalid date format")

// FormatError reports the value that could not be normalized.
type FormatError struct {
	Value any
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid date format: %v (%T)", e.Value, e.Value)
}

func (e *FormatError) Unwrap() error {
	return ErrInvalidDateFormat
}

const extendedDateKey = "$date"

// layouts are tried in order. Layouts without a zone parse as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Normalize converts v into a UTC time.Time.
//
// The zero time is returned for nil, empty strings and nil pointers; callers
// treat it as "absent" via IsZero.
func Normalize(v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		if val.IsZero() {
			return time.Time{}, nil
		}
		return val.UTC(), nil
	case *time.Time:
		if val == nil {
			return time.Time{}, nil
		}
		return Normalize(*val)
	case primitive.DateTime:
		return val.Time().UTC(), nil
	case string:
		return parseString(val)
	case *string:
		if val == nil {
			return time.Time{}, nil
		}
		return parseString(*val)
	case map[string]any:
		return unwrapExtended(val, v)
	case primitive.M:
		return unwrapExtended(map[string]any(val), v)
	case primitive.D:
		return unwrapExtended(val.Map(), v)
	default:
		return time.Time{}, &FormatError{Value: v}
	}
}

// MustNormalize is Normalize for literals known to be valid, e.g. in tests
// and seed fixtures. It panics on error.
func MustNormalize(v any) time.Time {
	t, err := Normalize(v)
	if err != nil {
		panic(err)
	}
	return t
}

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &FormatError{Value: s}
}

func unwrapExtended(m map[string]any, orig any) (time.Time, error) {
	inner, ok := m[extendedDateKey]
	if !ok {
		return time.Time{}, &FormatError{Value: orig}
	}
	switch val := inner.(type) {
	case string, time.Time, primitive.DateTime:
		return Normalize(val)
	case int64:
		return fromMillis(val), nil
	case int32:
		return fromMillis(int64(val)), nil
	case int:
		return fromMillis(int64(val)), nil
	case float64:
		return fromMillis(int64(val)), nil
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			return time.Time{}, &FormatError{Value: orig}
		}
		return fromMillis(ms), nil
	case map[string]any:
		return numberLong(val, orig)
	case primitive.M:
		return numberLong(map[string]any(val), orig)
	default:
		return time.Time{}, &FormatError{Value: orig}
	}
}

// numberLong handles {"$date": {"$numberLong": "1715364117763"}}.
func numberLong(m map[string]any, orig any) (time.Time, error) {
	raw, ok := m["$numberLong"].(string)
	if !ok {
		return time.Time{}, &FormatError{Value: orig}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, &FormatError{Value: orig}
	}
	return fromMillis(ms), nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatISO renders t in UTC as "2006-01-02T15:04:05[.ffffff]+00:00".
// Fractional seconds are truncated to microseconds and omitted when zero.
func FormatISO(t time.Time) string {
	t = t.UTC()
	var b strings.Builder
	b.WriteString(t.Format("2006-01-02T15:04:05"))
	if us := t.Nanosecond() / 1000; us != 0 {
		fmt.Fprintf(&b, ".%06d", us)
	}
	b.WriteString("+00:00")
	return b.String()
}

// FormatISOPtr is FormatISO for optional timestamps; nil or zero yields nil.
func FormatISOPtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := FormatISO(*t)
	return &s
}
