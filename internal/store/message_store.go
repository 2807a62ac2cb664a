// Package store holds the live, observable message lists for active
// conversations. It performs no I/O; ordering and the single-streaming
// invariant are enforced by construction.
package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/ask-dwight/coach-platform/internal/model"
)

// ErrStreamInFlight is returned when a second streaming message would be
// appended to a conversation that already has one.
var ErrStreamInFlight = errors.New("conversation already has a streaming message")

// MessageStore maps conversation ids to their live message lists.
type MessageStore struct {
	mu    sync.Mutex
	lists map[string]*MessageList
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		lists: make(map[string]*MessageList),
	}
}

// List returns the message list for a conversation, creating it lazily.
func (s *MessageStore) List(conversationID string) *MessageList {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lists[conversationID]
	if !ok {
		l = &MessageList{}
		s.lists[conversationID] = l
	}
	return l
}

// Drop discards the list for a conversation, e.g. after deletion elsewhere.
func (s *MessageStore) Drop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, conversationID)
}

// Seed replaces a conversation's list with hydrated messages, keeping them
// sorted by timestamp.
func (s *MessageStore) Seed(conversationID string, messages []model.Message) {
	l := s.List(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]model.Message(nil), messages...)
	l.sortLocked()
}

// MessageList is the ordered message list of one conversation. All methods
// are safe for concurrent use; mutation happens only through them.
type MessageList struct {
	mu       sync.Mutex
	messages []model.Message
}

// Append adds a message, preserving timestamp order. Appending a second
// streaming message is rejected.
func (l *MessageList) Append(msg model.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.Status == model.StatusStreaming {
		for i := range l.messages {
			if l.messages[i].Status == model.StatusStreaming {
				return ErrStreamInFlight
			}
		}
	}

	l.messages = append(l.messages, msg)
	l.sortLocked()
	return nil
}

// Messages returns a copy of the list.
func (l *MessageList) Messages() []model.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Message(nil), l.messages...)
}

// Len returns the number of messages.
func (l *MessageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Find returns a copy of the first message matching pred.
func (l *MessageList) Find(pred func(model.Message) bool) (model.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if pred(l.messages[i]) {
			return l.messages[i], true
		}
	}
	return model.Message{}, false
}

// Streaming returns the in-flight streaming message, if any.
func (l *MessageList) Streaming() (model.Message, bool) {
	return l.Find(func(m model.Message) bool { return m.Status == model.StatusStreaming })
}

// LastOfRole returns a copy of the most recent message with the given role.
func (l *MessageList) LastOfRole(role model.Role) (model.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == role {
			return l.messages[i], true
		}
	}
	return model.Message{}, false
}

// Update applies fn to the message with the given id, in place.
func (l *MessageList) Update(id string, fn func(*model.Message)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			fn(&l.messages[i])
			return true
		}
	}
	return false
}

// AppendToStreaming appends a content fragment to the streaming message
// and, when render is non-nil, refreshes its rendered HTML from the new
// content. Returns false when no message is streaming.
func (l *MessageList) AppendToStreaming(fragment string, render func(string) string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].Status == model.StatusStreaming {
			l.messages[i].Content += fragment
			if render != nil {
				l.messages[i].HTMLContent = render(l.messages[i].Content)
			}
			return true
		}
	}
	return false
}

// Remove deletes the message with the given id.
func (l *MessageList) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveLoading deletes any transient loading placeholder. Loading messages
// are a UI affordance and vanish as soon as the triggering operation
// settles.
func (l *MessageList) RemoveLoading() {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.messages[:0]
	for _, m := range l.messages {
		if m.Status != model.StatusLoading {
			kept = append(kept, m)
		}
	}
	l.messages = kept
}

func (l *MessageList) sortLocked() {
	sort.SliceStable(l.messages, func(i, j int) bool {
		return l.messages[i].Timestamp.Before(l.messages[j].Timestamp)
	})
}
