package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status represents the lifecycle state of a message.
type Status string

const (
	// StatusSent means the message content is settled and, for persisted
	// roles, durably stored.
	StatusSent Status = "sent"
	// StatusStreaming marks the single in-flight assistant message that is
	// still receiving deltas.
	StatusStreaming Status = "streaming"
	// StatusLoading marks a transient system placeholder shown while a turn
	// is submitted. Never persisted.
	StatusLoading Status = "loading"
	// StatusError marks a message whose content is visible but whose stream
	// or persistence failed.
	StatusError Status = "error"
)

// Reaction is user feedback on an assistant message.
type Reaction string

const (
	ReactionThumbsUp   Reaction = "thumbs_up"
	ReactionThumbsDown Reaction = "thumbs_down"
)

// Source is a citation attached to an assistant message by the inference
// backend.
type Source struct {
	Kind  string `json:"kind"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Message is one entry in a conversation transcript.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`

	Role    Role   `json:"role"`
	Content string `json:"content"`
	// HTMLContent is the rendered, sanitized markdown of Content, refreshed
	// on every content mutation.
	HTMLContent string `json:"html_content,omitempty"`

	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	// ResponseID is the upstream correlation id assigned by the inference
	// backend. Once present on the latest assistant message, subsequent
	// turns send only new text chained off it instead of replaying history.
	ResponseID string `json:"response_id,omitempty"`

	Suggestions []string  `json:"suggestions,omitempty"`
	Reaction    *Reaction `json:"reaction,omitempty"`
	Throttle    bool      `json:"throttle,omitempty"`
	Sources     []Source  `json:"sources,omitempty"`
}

// Persistable reports whether the message belongs in the backing store.
// Loading placeholders and system notices are UI-only.
func (m *Message) Persistable() bool {
	return m.Status != StatusLoading && m.Role != RoleSystem
}

// AssistantMessage carries the fields persisted for a finalized assistant
// reply.
type AssistantMessage struct {
	ConversationID string
	Text           string
	// PromptID is the user message this reply answers.
	PromptID string
	// ResponseID is the upstream correlation id, when the backend assigned
	// one.
	ResponseID string
	// Throttle marks the reply as a throttle notice.
	Throttle bool
}

// SendMessageRequest is the request body for starting a turn.
type SendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ReactionRequest is the request body for reacting to an assistant message.
type ReactionRequest struct {
	Reaction Reaction `json:"reaction"`
}
