// Package ir provides the shared domain types for runledger.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Run identifiers are canonical 36-character UUID strings (see CoerceID)
//   - Free-form payloads (input, output, params, feedback, error) stay as raw JSON
//   - All JSON tags use snake_case
//   - Timestamps are UTC with millisecond precision
package ir
