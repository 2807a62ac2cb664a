// Package stream implements the client side of the inference backend's
// server-sent-event protocol: incremental frame parsing and single-exchange
// response sessions.
package stream

import (
	"context"
	"encoding/json"
	"io"
)

// Upstream payload type discriminators. Treated as a versioned contract:
// unknown values are ignored, never errors.
const (
	typeCreated         = "response.created"
	typeTextDelta       = "response.output_text.delta"
	typeAnnotationAdded = "response.output_text.annotation.added"
	typeCompleted       = "response.completed"
	typeFailed          = "response.failed"
)

// Event is a parsed protocol event.
type Event interface {
	isEvent()
}

// CreatedEvent signals that the backend accepted a new response. The UI
// flips to streaming state on receipt.
type CreatedEvent struct {
	ResponseID string
}

// TextDeltaEvent carries one content fragment to append.
type TextDeltaEvent struct {
	Fragment string
}

// AnnotationEvent carries a citation or similar marker attached to the
// output text.
type AnnotationEvent struct {
	Kind    string
	Payload json.RawMessage
}

// CompletedEvent is terminal and carries the authoritative full text plus
// the upstream correlation id.
type CompletedEvent struct {
	FinalText  string
	ResponseID string
}

// FailedEvent is terminal and carries the upstream failure reason.
type FailedEvent struct {
	Reason string
}

func (CreatedEvent) isEvent()    {}
func (TextDeltaEvent) isEvent()  {}
func (AnnotationEvent) isEvent() {}
func (CompletedEvent) isEvent()  {}
func (FailedEvent) isEvent()     {}

// Turn is one role-tagged entry of a full-context prompt payload.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptPayload is what a session sends upstream: either plain text (used
// for incremental turns and fixed directives) or a structured list of turns
// replaying eligible history.
type PromptPayload struct {
	Text  string
	Turns []Turn
}

// TextPrompt builds a plain-text payload.
func TextPrompt(text string) PromptPayload {
	return PromptPayload{Text: text}
}

// TurnsPrompt builds a full-history payload.
func TurnsPrompt(turns []Turn) PromptPayload {
	return PromptPayload{Turns: turns}
}

// Structured reports whether the payload replays history.
func (p PromptPayload) Structured() bool {
	return len(p.Turns) > 0
}

// Request is one inference exchange to open.
type Request struct {
	Prompt PromptPayload
	// PreviousResponseID chains this exchange off a prior one so the
	// backend resumes context without a transcript replay.
	PreviousResponseID string
	// VectorStoreID, when set, asks the backend to attach its retrieval
	// tool scoped to that store.
	VectorStoreID string
}

// Transport opens a raw framed byte stream for one inference request. The
// returned body carries the event/data protocol consumed by Parser.
type Transport interface {
	OpenStream(ctx context.Context, req Request) (io.ReadCloser, error)
}
