package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Process exit statuses.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // events rejected, scenarios failed, server stopped on error
	ExitCommandError = 2 // config, input, database or queue unusable
)

// ErrorCode names a failure in --format json output.
type ErrorCode string

const (
	CodeConfig         ErrorCode = "E_CONFIG"
	CodeInput          ErrorCode = "E_INPUT"
	CodeBatch          ErrorCode = "E_BATCH"
	CodeRejected       ErrorCode = "E_REJECTED"
	CodeStore          ErrorCode = "E_STORE"
	CodeQueue          ErrorCode = "E_QUEUE"
	CodeServe          ErrorCode = "E_SERVE"
	CodeThreadNotFound ErrorCode = "E_THREAD_NOT_FOUND"
	CodeScenarios      ErrorCode = "E_SCENARIOS_FAILED"
	CodeInternal       ErrorCode = "E_INTERNAL"
)

// ExitError is a command failure carrying the exit status and code it is
// reported with. Data, when set, is the partial result shown with it.
type ExitError struct {
	Status  int
	Code    ErrorCode
	Message string
	Err     error
	Data    any
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// commandError reports a command that could not run.
func commandError(code ErrorCode, message string, err error) *ExitError {
	return &ExitError{Status: ExitCommandError, Code: code, Message: message, Err: err}
}

// failure reports a command that ran without succeeding.
func failure(code ErrorCode, message string, err error) *ExitError {
	return &ExitError{Status: ExitFailure, Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit status. Errors that are not an
// *ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Status
	}
	return ExitFailure
}

// Response is the envelope of every --format json output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes why a command failed.
type ResponseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// printer renders one command's output in the selected format. Results go
// to out; verbose diagnostics go to diag so JSON stays parseable.
type printer struct {
	json    bool
	out     io.Writer
	diag    io.Writer
	verbose bool
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *printer {
	return &printer{
		json:    opts.Format == "json",
		out:     cmd.OutOrStdout(),
		diag:    cmd.ErrOrStderr(),
		verbose: opts.Verbose,
	}
}

// result writes a successful outcome; text renders it for humans.
func (p *printer) result(data any, text func(w io.Writer)) error {
	if p.json {
		return p.encode(Response{Status: "ok", Data: data})
	}
	text(p.out)
	return nil
}

// partial returns err with data attached. In text mode data is rendered
// first; in JSON mode fail renders both.
func (p *printer) partial(data any, text func(w io.Writer), err *ExitError) error {
	if !p.json {
		text(p.out)
	}
	err.Data = data
	return err
}

// fail returns err unchanged after writing it as an error envelope in JSON
// mode. Text-mode errors are printed by the caller of Execute.
func (p *printer) fail(err error) error {
	if err == nil || !p.json {
		return err
	}
	resp := Response{Status: "error", Error: &ResponseError{Code: CodeInternal, Message: err.Error()}}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		resp.Data = exitErr.Data
		resp.Error.Code = exitErr.Code
	}
	_ = p.encode(resp)
	return err
}

func (p *printer) debugf(format string, args ...any) {
	if p.verbose {
		fmt.Fprintf(p.diag, format+"\n", args...)
	}
}

func (p *printer) encode(r Response) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
