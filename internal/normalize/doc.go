// Package normalize turns raw, loosely-typed telemetry payloads into ir.Event.
//
// Normalization camelizes keys at every nesting level, validates the wire
// shape against an embedded CUE schema, coerces run identifiers, parses the
// timestamp and completes token usage. It never mutates its input.
package normalize
