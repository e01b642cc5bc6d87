package ir

import (
	"encoding/json"
	"time"
)

// RunType classifies a run.
type RunType string

const (
	RunTypeLLM       RunType = "llm"
	RunTypeChain     RunType = "chain"
	RunTypeAgent     RunType = "agent"
	RunTypeTool      RunType = "tool"
	RunTypeLog       RunType = "log"
	RunTypeEmbed     RunType = "embed"
	RunTypeRetriever RunType = "retriever"
	RunTypeChat      RunType = "chat"
	RunTypeConvo     RunType = "convo"
	RunTypeMessage   RunType = "message"
	RunTypeThread    RunType = "thread"
	RunTypeTrace     RunType = "trace"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Run is a persisted node: one unit of execution or one conversational turn.
//
// SiblingOf marks a run as an alternate branch of another run with the same
// Type and ParentRun. Runs with an empty SiblingOf form the main line.
type Run struct {
	ID               string          `json:"id"`
	Type             RunType         `json:"type"`
	App              string          `json:"app"`
	UserID           *int64          `json:"user_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	ParentRun        string          `json:"parent_run,omitempty"`
	SiblingOf        string          `json:"sibling_of,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	Params           json.RawMessage `json:"params,omitempty"`
	Feedback         json.RawMessage `json:"feedback,omitempty"`
	Error            json.RawMessage `json:"error,omitempty"`
	Status           Status          `json:"status,omitempty"`
	TemplateID       string          `json:"template_id,omitempty"`
	Runtime          string          `json:"runtime,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	PromptTokens     *int64          `json:"prompt_tokens,omitempty"`
	CompletionTokens *int64          `json:"completion_tokens,omitempty"`
}

// OriginID returns the turn this run forks from, or "" for main-line runs.
func (r Run) OriginID() string {
	return r.SiblingOf
}

// IsMainLine reports whether the run is not a retry fork.
func (r Run) IsMainLine() bool {
	return r.SiblingOf == ""
}

// RunPatch is a partial update of a run. Nil fields are left untouched.
type RunPatch struct {
	Status           *Status
	EndedAt          *time.Time
	Input            json.RawMessage
	Output           json.RawMessage
	Feedback         json.RawMessage
	Error            json.RawMessage
	PromptTokens     *int64
	CompletionTokens *int64
}

// Empty reports whether the patch sets nothing.
func (p RunPatch) Empty() bool {
	return p.Status == nil && p.EndedAt == nil && p.Input == nil && p.Output == nil &&
		p.Feedback == nil && p.Error == nil && p.PromptTokens == nil && p.CompletionTokens == nil
}

// AppUser is an end user of an instrumented application.
// (ExternalID, App) is unique.
type AppUser struct {
	ID         int64           `json:"id"`
	ExternalID string          `json:"external_id"`
	App        string          `json:"app"`
	LastSeen   time.Time       `json:"last_seen"`
	Props      json.RawMessage `json:"props,omitempty"`
}

// LogEntry is a log line attached to a run.
type LogEntry struct {
	ID        int64           `json:"id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	App       string          `json:"app"`
	Level     string          `json:"level"`
	Message   json.RawMessage `json:"message,omitempty"`
	Extra     json.RawMessage `json:"extra"`
	CreatedAt time.Time       `json:"created_at"`
}

// Result reports the outcome of one ingested event.
// ID echoes the caller's run id as submitted.
type Result struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Turn is a chat run together with the retries forked from it.
type Turn struct {
	Run      Run    `json:"run"`
	Siblings []Turn `json:"siblings,omitempty"`
}
