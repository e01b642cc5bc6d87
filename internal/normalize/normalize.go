package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/runledger/internal/ir"
	"github.com/roach88/runledger/internal/usage"
)

// modelPrefix is stripped from run names emitted by some model SDKs.
const modelPrefix = "models/"

// knownKeys are the camelized wire keys mapped onto typed ir.Event fields.
// Everything else is forwarded into Event.Extra.
var knownKeys = map[string]bool{
	"type": true, "event": true, "app": true, "runId": true, "parentRunId": true,
	"timestamp": true, "name": true, "tags": true, "threadTags": true,
	"input": true, "output": true, "error": true, "feedback": true,
	"tokensUsage": true, "message": true, "userId": true, "userProps": true,
	"templateId": true, "runtime": true, "metadata": true, "extra": true,
}

// Normalizer converts raw payloads into ir.Event.
type Normalizer struct {
	schema *Schema
	usage  usage.Completer
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithUsage sets the token-usage completer.
func WithUsage(c usage.Completer) Option {
	return func(n *Normalizer) { n.usage = c }
}

// WithSchema sets the event schema.
func WithSchema(s *Schema) Option {
	return func(n *Normalizer) { n.schema = s }
}

// New returns a Normalizer with the embedded schema and the default
// usage estimator.
func New(opts ...Option) (*Normalizer, error) {
	n := &Normalizer{}
	for _, opt := range opts {
		opt(n)
	}
	if n.schema == nil {
		s, err := NewSchema()
		if err != nil {
			return nil, err
		}
		n.schema = s
	}
	if n.usage == nil {
		n.usage = usage.NewEstimator()
	}
	return n, nil
}

// Normalize produces the canonical event for one raw payload.
// raw is never mutated.
func (n *Normalizer) Normalize(ctx context.Context, raw any) (ir.Event, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ir.Event{}, &ValidationError{Message: fmt.Sprintf("event must be a JSON object, got %s", jsonKind(raw))}
	}
	m := Camelize(obj).(map[string]any)

	if err := n.schema.Validate(m); err != nil {
		return ir.Event{}, err
	}

	var ev ir.Event
	var err error

	ev.Type = ir.RunType(stringField(m, "type"))
	ev.Event = ir.EventName(stringField(m, "event"))
	ev.App = stringField(m, "app")
	ev.TemplateID = stringField(m, "templateId")
	ev.Runtime = stringField(m, "runtime")

	if ev.RunID, err = ir.CoerceAnyID(m["runId"]); err != nil {
		return ir.Event{}, &ValidationError{Field: "runId", Message: err.Error()}
	}
	if ev.ParentRunID, err = ir.CoerceAnyID(m["parentRunId"]); err != nil {
		return ir.Event{}, &ValidationError{Field: "parentRunId", Message: err.Error()}
	}
	if ev.Timestamp, err = ParseTimestamp(m["timestamp"]); err != nil {
		return ir.Event{}, &ValidationError{Field: "timestamp", Message: err.Error()}
	}

	if name, ok := m["name"].(string); ok {
		ev.Name = strings.TrimPrefix(name, modelPrefix)
	}
	ev.Tags = stringList(m["tags"])
	ev.ThreadTags = stringList(m["threadTags"])

	if ev.Input, err = rawField(m, "input"); err != nil {
		return ir.Event{}, err
	}
	if ev.Output, err = rawField(m, "output"); err != nil {
		return ir.Event{}, err
	}
	if ev.Error, err = rawField(m, "error"); err != nil {
		return ir.Event{}, err
	}
	if ev.UserProps, err = rawField(m, "userProps"); err != nil {
		return ir.Event{}, err
	}
	if fb, ok := m["feedback"].(map[string]any); ok {
		ev.Feedback = fb
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		ev.Metadata = md
	}
	if ev.Metadata != nil {
		if ev.Tags == nil {
			ev.Tags = stringList(ev.Metadata["tags"])
		}
		if ev.TemplateID == "" {
			ev.TemplateID = stringField(ev.Metadata, "templateId")
		}
	}
	if uid, ok := m["userId"].(string); ok {
		ev.UserID = uid
	}

	switch msg := m["message"].(type) {
	case nil:
	case map[string]any:
		if ev.Message, err = chatMessage(msg); err != nil {
			return ir.Event{}, err
		}
	default:
		if ev.LogMessage, err = ir.MarshalCanonical(msg); err != nil {
			return ir.Event{}, &ValidationError{Field: "message", Message: err.Error()}
		}
	}

	ev.Extra = extraFields(m)

	supplied, err := tokenUsage(m["tokensUsage"])
	if err != nil {
		return ir.Event{}, err
	}
	ev.TokensUsage = n.usage.Complete(ctx, usage.Input{
		Type:     ev.Type,
		Event:    ev.Event,
		Supplied: supplied,
		Input:    ev.Input,
		Output:   ev.Output,
	})

	return ev, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// stringList accepts a scalar string or a list of strings.
func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, elem := range val {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func rawField(m map[string]any, key string) (json.RawMessage, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, &ValidationError{Field: key, Message: err.Error()}
	}
	return b, nil
}

func chatMessage(m map[string]any) (*ir.Message, error) {
	role, _ := m["role"].(string)
	if role == "" {
		return nil, &ValidationError{Field: "message.role", Message: "chat message requires a role"}
	}
	msg := &ir.Message{Role: ir.Role(role)}

	content, ok := m["content"]
	if !ok {
		content, ok = m["text"]
	}
	if ok && content != nil {
		b, err := ir.MarshalCanonical(content)
		if err != nil {
			return nil, &ValidationError{Field: "message.content", Message: err.Error()}
		}
		msg.Content = b
	}
	if extra, ok := m["extra"]; ok && extra != nil {
		b, err := ir.MarshalCanonical(extra)
		if err != nil {
			return nil, &ValidationError{Field: "message.extra", Message: err.Error()}
		}
		msg.Extra = b
	}
	msg.IsRetry, _ = m["isRetry"].(bool)
	return msg, nil
}

// extraFields merges unknown top-level keys with the explicit extra object.
// Explicit extra keys win. A non-object extra is kept under "extra".
func extraFields(m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		if !knownKeys[k] {
			out[k] = v
		}
	}
	switch extra := m["extra"].(type) {
	case nil:
	case map[string]any:
		for k, v := range extra {
			out[k] = v
		}
	default:
		out["extra"] = extra
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func tokenUsage(v any) (*ir.TokenUsage, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	var u ir.TokenUsage
	var err error
	if u.Prompt, err = tokenCount(m["prompt"]); err != nil {
		return nil, &ValidationError{Field: "tokensUsage.prompt", Message: err.Error()}
	}
	if u.Completion, err = tokenCount(m["completion"]); err != nil {
		return nil, &ValidationError{Field: "tokensUsage.completion", Message: err.Error()}
	}
	if u.Prompt == nil && u.Completion == nil {
		return nil, nil
	}
	return &u, nil
}

func tokenCount(v any) (*int64, error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case float64:
		f = val
	default:
		return nil, fmt.Errorf("token count must be a number, got %T", v)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("token count out of range: %v", f)
	}
	n := int64(math.Round(f))
	return &n, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
