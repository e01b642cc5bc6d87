package normalize

import (
	"fmt"

	"github.com/roach88/runledger/internal/ir"
)

// DecodeBatch decodes an ingest request body.
//
// The canonical envelope is {"events": <event | [event...]>}; a bare JSON
// array of events is accepted too. Items are returned undecoded so that a
// malformed item fails on its own instead of rejecting the batch.
func DecodeBatch(body []byte) ([]any, error) {
	v, err := ir.DecodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	switch val := v.(type) {
	case []any:
		return val, nil
	case map[string]any:
		events, ok := val["events"]
		if !ok || events == nil {
			return nil, ErrMissingEvents
		}
		if list, ok := events.([]any); ok {
			return list, nil
		}
		return []any{events}, nil
	default:
		return nil, ErrMissingEvents
	}
}

// RawRunID returns the run id exactly as the caller submitted it, for
// echoing back in results. It accepts runId, run_id and run-id spellings.
func RawRunID(raw any) string {
	m, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"runId", "run_id", "run-id"} {
		if s, ok := m[key].(string); ok {
			return s
		}
	}
	return ""
}
