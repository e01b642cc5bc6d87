package normalize

import (
	"errors"
	"fmt"
)

// ErrMissingEvents is returned by DecodeBatch when the payload carries no events.
var ErrMissingEvents = errors.New("missing events payload")

// ValidationError reports a malformed event. Field is the camelized wire
// path of the offending value, or empty when the event as a whole is invalid.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid event: %s", e.Message)
	}
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
