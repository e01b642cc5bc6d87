package ir

import (
	"encoding/json"
	"time"
)

// EventName is the lifecycle verb carried by an event.
type EventName string

const (
	EventStart    EventName = "start"
	EventEnd      EventName = "end"
	EventError    EventName = "error"
	EventFeedback EventName = "feedback"
	EventChat     EventName = "chat"
)

// Event is the normalized shape of one ingested telemetry event.
//
// Known fields are typed; every other top-level key of the wire payload,
// together with the keys of an explicit "extra" object, lands in Extra.
type Event struct {
	Type        RunType
	Event       EventName
	App         string
	RunID       string
	ParentRunID string
	Timestamp   time.Time
	Name        string
	Tags        []string
	ThreadTags  []string
	Input       json.RawMessage
	Output      json.RawMessage
	Error       json.RawMessage
	Feedback    map[string]any
	TokensUsage *TokenUsage
	Message     *Message
	// LogMessage holds a non-chat "message" value (log text or payload).
	LogMessage json.RawMessage
	UserID     string
	UserProps  json.RawMessage
	TemplateID string
	Runtime    string
	Metadata   map[string]any
	Extra      map[string]any
}

// IsChat reports whether the event should be reconciled as a chat message.
func (e Event) IsChat() bool {
	if e.Event == EventChat {
		return true
	}
	return e.Event == "" && e.Message != nil && (e.Type == RunTypeChat || e.Type == RunTypeMessage)
}

// TokenUsage counts prompt and completion tokens. Either side may be unknown.
type TokenUsage struct {
	Prompt     *int64 `json:"prompt,omitempty"`
	Completion *int64 `json:"completion,omitempty"`
}

// Complete reports whether both counts are known.
func (u *TokenUsage) Complete() bool {
	return u != nil && u.Prompt != nil && u.Completion != nil
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleBot       Role = "bot"
)

// Direction says which side of a turn a message belongs to.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInput
	DirectionOutput
)

// Direction classifies the role.
func (r Role) Direction() Direction {
	switch r {
	case RoleUser, RoleSystem:
		return DirectionInput
	case RoleAssistant, RoleTool, RoleBot:
		return DirectionOutput
	default:
		return DirectionUnknown
	}
}

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content json.RawMessage
	Extra   json.RawMessage
	IsRetry bool
}

// Core returns the persisted form {role, content, extra}, omitting absent fields.
func (m Message) Core() map[string]any {
	core := map[string]any{"role": string(m.Role)}
	if len(m.Content) > 0 {
		core["content"] = m.Content
	}
	if len(m.Extra) > 0 {
		core["extra"] = m.Extra
	}
	return core
}
