package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ParseTimestamp parses a wire timestamp into a UTC instant truncated to
// milliseconds. Strings are tried against RFC 3339 and common variants;
// numbers (or numeric strings) are epoch milliseconds.
func ParseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Truncate(time.Millisecond), nil
			}
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpochMillis(ms)
		}
		return time.Time{}, fmt.Errorf("unparsable timestamp %q", val)
	case json.Number:
		ms, err := val.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("unparsable timestamp %q", val.String())
		}
		return fromEpochMillis(ms)
	case float64:
		return fromEpochMillis(val)
	case int64:
		return fromEpochMillis(float64(val))
	case int:
		return fromEpochMillis(float64(val))
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unparsable timestamp of type %T", v)
	}
}

// maxEpochMillis bounds accepted epoch values to +/-100,000,000 days.
const maxEpochMillis = 8.64e15

func fromEpochMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, fmt.Errorf("timestamp out of range: %v", ms)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}
