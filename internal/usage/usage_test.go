package usage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/ir"
)

func i64(n int64) *int64 { return &n }

func TestEstimatorKeepsSuppliedUsage(t *testing.T) {
	e := NewEstimator()
	supplied := &ir.TokenUsage{Prompt: i64(10), Completion: i64(20)}

	got := e.Complete(context.Background(), Input{
		Type:     ir.RunTypeLLM,
		Supplied: supplied,
		Output:   json.RawMessage(`"a long answer"`),
	})
	assert.Same(t, supplied, got)
}

func TestEstimatorIgnoresNonLLMRuns(t *testing.T) {
	e := NewEstimator()
	got := e.Complete(context.Background(), Input{
		Type:   ir.RunTypeTool,
		Output: json.RawMessage(`"result"`),
	})
	assert.Nil(t, got)
}

func TestEstimatorFillsMissingCounts(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(func(context.Context) (Tokenizer, error) {
		return TokenizerFunc(func(s string) int { return len(s) }), nil
	}))

	got := e.Complete(context.Background(), Input{
		Type:     ir.RunTypeLLM,
		Event:    ir.EventEnd,
		Supplied: &ir.TokenUsage{Prompt: i64(7)},
		Output:   json.RawMessage(`[{"role":"assistant","content":"hello"}]`),
	})
	require.NotNil(t, got)
	assert.Equal(t, int64(7), *got.Prompt)
	assert.Equal(t, int64(5), *got.Completion)
}

func TestEstimatorNothingToEstimate(t *testing.T) {
	e := NewEstimator()
	got := e.Complete(context.Background(), Input{Type: ir.RunTypeLLM, Event: ir.EventEnd})
	assert.Nil(t, got)
}

func TestEstimatorTokenizerFailure(t *testing.T) {
	e := NewEstimator(WithTokenizerLoader(func(context.Context) (Tokenizer, error) {
		return nil, errors.New("no vocabulary")
	}))
	got := e.Complete(context.Background(), Input{
		Type:   ir.RunTypeLLM,
		Output: json.RawMessage(`"hi"`),
	})
	assert.Nil(t, got)
}

func TestPayloadText(t *testing.T) {
	assert.Equal(t, "", PayloadText(nil))
	assert.Equal(t, "hi", PayloadText(json.RawMessage(`"hi"`)))
	assert.Equal(t, "ctx\nhi", PayloadText(json.RawMessage(
		`[{"role":"system","content":"ctx"},{"role":"user","text":"hi"}]`)))
	assert.Equal(t, `{"a":1}`, PayloadText(json.RawMessage(`{"a":1}`)))
}

func TestApproximateTokens(t *testing.T) {
	assert.Equal(t, 0, ApproximateTokens(""))
	assert.Equal(t, 1, ApproximateTokens("hi"))
	assert.Equal(t, 2, ApproximateTokens("hello"))
	// "hello" (2) + "," (1) + "world" (2) + "!" (1)
	assert.Equal(t, 6, ApproximateTokens("hello, world!"))
}
