package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines an ingestion scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Batches are submitted to the engine in order, one request each.
	// Every event is a raw wire object exactly as a client would send it.
	Batches [][]map[string]any `yaml:"batches"`

	// Assertions validate the results and the final store state.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates results or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "results": Check the success flags of one batch
	// - "run": Check fields of a persisted run
	// - "thread": Check the turn tree of a thread
	// - "logs": Check the number of logs attached to a run
	Type string `yaml:"type"`

	// Batch is the batch index (used by results).
	Batch int `yaml:"batch,omitempty"`

	// Success lists the expected flags in processing order (used by results).
	Success []bool `yaml:"success,omitempty"`

	// Run is the run id as submitted; it is coerced before lookup
	// (used by run and logs).
	Run string `yaml:"run,omitempty"`

	// Expect contains expected run fields by their JSON name (used by run).
	// Subset match - only specified fields are validated. A null value
	// expects the field to be absent.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent expects the run not to exist (used by run).
	Absent bool `yaml:"absent,omitempty"`

	// Thread is the thread id (used by thread).
	Thread string `yaml:"thread,omitempty"`

	// Turns lists the main-line turn ids in order (used by thread).
	Turns []string `yaml:"turns,omitempty"`

	// Forks maps a turn id to the ids of its direct forks (used by thread).
	Forks map[string][]string `yaml:"forks,omitempty"`

	// Count is the expected number of log entries (used by logs).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertResults = "results"
	AssertRun     = "run"
	AssertThread  = "thread"
	AssertLogs    = "logs"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Batches) == 0 {
		return fmt.Errorf("batches list is required and must be non-empty")
	}

	for i, batch := range s.Batches {
		if len(batch) == 0 {
			return fmt.Errorf("batches[%d]: at least one event is required", i)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, len(s.Batches)); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, batches int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertResults:
		if a.Batch < 0 || a.Batch >= batches {
			return fmt.Errorf("assertions[%d]: batch %d out of range", index, a.Batch)
		}
		if len(a.Success) == 0 {
			return fmt.Errorf("assertions[%d]: success list is required for results", index)
		}
	case AssertRun:
		if a.Run == "" {
			return fmt.Errorf("assertions[%d]: run is required for run", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for run", index)
		}
	case AssertThread:
		if a.Thread == "" {
			return fmt.Errorf("assertions[%d]: thread is required for thread", index)
		}
	case AssertLogs:
		if a.Run == "" {
			return fmt.Errorf("assertions[%d]: run is required for logs", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for logs", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
