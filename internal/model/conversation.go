// Package model defines data structures for the coach platform.
package model

import (
	"errors"
	"time"
)

// ErrNoActiveConversation is returned when a turn cannot obtain a
// conversation to attach to, including when lazy creation fails.
var ErrNoActiveConversation = errors.New("no active conversation")

// Owner identifies who a conversation belongs to. Exactly one of UserID or
// SessionID is set at creation time; session ownership can later be migrated
// to a user account.
type Owner struct {
	UserID    string
	SessionID string
}

// Anonymous reports whether the owner is a session rather than an account.
func (o Owner) Anonymous() bool {
	return o.UserID == ""
}

// Conversation is a thread of messages with a single coach persona.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// VectorStoreID names the knowledge scope used to enable
	// retrieval-augmented replies. Opaque to this service.
	VectorStoreID string `json:"vector_store_id,omitempty"`

	// ResponseID mirrors the correlation id of the latest assistant message
	// so incremental turns survive a cold reload.
	ResponseID string `json:"response_id,omitempty"`

	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title         string `json:"title"`
	VectorStoreID string `json:"vector_store_id,omitempty"`
}

// ConversationUpdate carries the mutable conversation fields. Nil fields are
// left untouched.
type ConversationUpdate struct {
	Title      *string `json:"title,omitempty"`
	ResponseID *string `json:"response_id,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
