// Package usage completes token counts for runs whose emitters did not
// report them.
package usage

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/roach88/runledger/internal/ir"
)

// Input is what the completer sees of an event.
type Input struct {
	Type     ir.RunType
	Event    ir.EventName
	Supplied *ir.TokenUsage
	Input    json.RawMessage
	Output   json.RawMessage
}

// Completer resolves the token usage of an event. It returns nil when usage
// is unknown.
type Completer interface {
	Complete(ctx context.Context, in Input) *ir.TokenUsage
}

// Tokenizer counts tokens in text.
type Tokenizer interface {
	Count(text string) int
}

// TokenizerFunc adapts a function to Tokenizer.
type TokenizerFunc func(text string) int

func (f TokenizerFunc) Count(text string) int { return f(text) }

// Estimator fills missing counts of llm runs from their input and output text.
// Supplied counts always win.
type Estimator struct {
	tokenizer *Lazy[Tokenizer]
	logger    *zap.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger used to report tokenizer load failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// WithTokenizerLoader replaces the default tokenizer with one loaded on first use.
func WithTokenizerLoader(load func(ctx context.Context) (Tokenizer, error)) Option {
	return func(e *Estimator) { e.tokenizer = NewLazy(load) }
}

// NewEstimator returns an Estimator using the approximate tokenizer unless
// another loader is given.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		logger: zap.NewNop(),
		tokenizer: NewLazy(func(context.Context) (Tokenizer, error) {
			return TokenizerFunc(ApproximateTokens), nil
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Complete implements Completer.
func (e *Estimator) Complete(ctx context.Context, in Input) *ir.TokenUsage {
	if in.Supplied.Complete() || in.Type != ir.RunTypeLLM {
		return in.Supplied
	}

	var out ir.TokenUsage
	if in.Supplied != nil {
		out = *in.Supplied
	}
	needPrompt := out.Prompt == nil && len(in.Input) > 0
	needCompletion := out.Completion == nil && len(in.Output) > 0
	if !needPrompt && !needCompletion {
		return in.Supplied
	}

	tok, err := e.tokenizer.Get(ctx)
	if err != nil {
		e.logger.Warn("tokenizer unavailable, keeping supplied usage", zap.Error(err))
		return in.Supplied
	}
	if needPrompt {
		n := int64(tok.Count(PayloadText(in.Input)))
		out.Prompt = &n
	}
	if needCompletion {
		n := int64(tok.Count(PayloadText(in.Output)))
		out.Completion = &n
	}
	return &out
}

// PayloadText flattens a run payload to the text a model would have seen.
// Message lists contribute their content; other values are used verbatim.
func PayloadText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v, err := ir.DecodeJSON(raw)
	if err != nil {
		return string(raw)
	}
	var b strings.Builder
	collectText(&b, v)
	return b.String()
}

func collectText(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
	case string:
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(val)
	case []any:
		for _, elem := range val {
			collectText(b, elem)
		}
	case map[string]any:
		for _, key := range []string{"content", "text"} {
			if c, ok := val[key]; ok {
				collectText(b, c)
				return
			}
		}
		if raw, err := ir.MarshalCanonical(val); err == nil {
			collectText(b, string(raw))
		}
	default:
		if raw, err := ir.MarshalCanonical(val); err == nil {
			collectText(b, string(raw))
		}
	}
}

// ApproximateTokens estimates a BPE token count: one token per punctuation
// rune and one per started group of four letters or digits in a word.
func ApproximateTokens(text string) int {
	count := 0
	word := 0
	flush := func() {
		count += (word + 3) / 4
		word = 0
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			count++
		}
	}
	flush()
	return count
}
