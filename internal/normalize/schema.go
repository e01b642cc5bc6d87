package normalize

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed event.cue
var eventSchema string

// recompileEvery is how many events one cue.Context validates before it is
// dropped. Every compiled event stays in its context's index, so a context
// kept for the process lifetime grows without bound.
const recompileEvery = 1024

// Schema validates camelized event payloads against the embedded CUE
// definition #Event. A cue.Context is not safe for concurrent use, so
// validation is serialized.
type Schema struct {
	mu    sync.Mutex
	ctx   *cue.Context
	event cue.Value
	used  int
	limit int
	// generation counts compiled contexts, starting at 1.
	generation int
}

// NewSchema compiles the embedded event schema.
func NewSchema() (*Schema, error) {
	s := &Schema{limit: recompileEvery}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

// compile replaces the context and #Event with fresh ones.
func (s *Schema) compile() error {
	ctx := cuecontext.New()
	v := ctx.CompileString(eventSchema, cue.Filename("event.cue"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to compile event schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Event"))
	if !def.Exists() {
		return fmt.Errorf("event schema has no #Event definition")
	}
	s.ctx, s.event, s.used = ctx, def, 0
	s.generation++
	return nil
}

// Validate checks one camelized event. The first violation is reported as a
// *ValidationError naming the offending field.
func (s *Schema) Validate(event map[string]any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("event is not JSON-encodable: %v", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used >= s.limit {
		if err := s.compile(); err != nil {
			return err
		}
	}
	s.used++

	v := s.ctx.CompileBytes(data, cue.Filename("event.json"))
	if err := v.Err(); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if err := s.event.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) *ValidationError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	path := first.Path()
	// Drop the definition name so paths read like wire fields.
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}
