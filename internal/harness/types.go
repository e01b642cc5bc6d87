package harness

import "github.com/roach88/runledger/internal/ir"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Batches holds the engine results of each submitted batch.
	Batches [][]ir.Result `json:"batches"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Batches: [][]ir.Result{},
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddBatch records the results of one batch.
func (r *Result) AddBatch(results []ir.Result) {
	r.Batches = append(r.Batches, results)
}
