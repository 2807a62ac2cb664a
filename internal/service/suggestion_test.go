package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ask-dwight/coach-platform/internal/llm"
	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/internal/store"
	"github.com/ask-dwight/coach-platform/pkg/logger"
)

// scriptedClient replays canned completion replies in order.
type scriptedClient struct {
	replies  []string
	errs     []error
	calls    int
	requests []*llm.CompletionRequest
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := c.calls
	c.calls++
	c.requests = append(c.requests, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	reply := ""
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

func (c *scriptedClient) Name() string     { return "scripted" }
func (c *scriptedClient) Models() []string { return nil }

type suggestionRepoSpy struct {
	savedID string
	saved   []string
	err     error
}

func (r *suggestionRepoSpy) Save(ctx context.Context, responseID string, suggestions []string) error {
	r.savedID = responseID
	r.saved = suggestions
	return r.err
}

func seededStore(t *testing.T) (*store.MessageStore, string) {
	t.Helper()
	s := store.NewMessageStore()
	base := time.Now()
	l := s.List("c1")
	require.NoError(t, l.Append(model.Message{
		ID: "u1", Role: model.RoleUser, Status: model.StatusSent, Content: "How do I open a cold call?", Timestamp: base,
	}))
	require.NoError(t, l.Append(model.Message{
		ID: "a1", Role: model.RoleAssistant, Status: model.StatusSent, Content: "Lead with their problem.", Timestamp: base.Add(time.Second),
	}))
	return s, "a1"
}

func TestGenerateAttachesThreeSuggestions(t *testing.T) {
	msgStore, lastID := seededStore(t)
	client := &scriptedClient{replies: []string{"One\nTwo\nThree"}}
	repo := &suggestionRepoSpy{}
	svc := NewSuggestionService(client, repo, msgStore, "persona", logger.NewNop())

	err := svc.Generate(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, lastID, repo.savedID)
	assert.Equal(t, []string{"One", "Two", "Three"}, repo.saved)

	msg, ok := msgStore.List("c1").Find(func(m model.Message) bool { return m.ID == lastID })
	require.True(t, ok)
	assert.Equal(t, []string{"One", "Two", "Three"}, msg.Suggestions)

	// The trigger goes up as the final user turn.
	req := client.requests[0]
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, SuggestionTrigger, req.Messages[len(req.Messages)-1].Content)
	assert.Equal(t, "persona", req.Instructions)
}

func TestGenerateRetriesOnWrongLineCount(t *testing.T) {
	msgStore, _ := seededStore(t)
	client := &scriptedClient{replies: []string{"only two\nlines", "A\nB\nC"}}
	repo := &suggestionRepoSpy{}
	svc := NewSuggestionService(client, repo, msgStore, "persona", logger.NewNop())

	err := svc.Generate(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, []string{"A", "B", "C"}, repo.saved)
}

func TestGenerateRetriesOnceOnError(t *testing.T) {
	msgStore, _ := seededStore(t)
	client := &scriptedClient{
		replies: []string{"", "A\nB\nC"},
		errs:    []error{errors.New("backend down"), nil},
	}
	repo := &suggestionRepoSpy{}
	svc := NewSuggestionService(client, repo, msgStore, "persona", logger.NewNop())

	err := svc.Generate(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateFailsAfterRetry(t *testing.T) {
	msgStore, _ := seededStore(t)
	boom := errors.New("backend down")
	client := &scriptedClient{errs: []error{boom, boom}}
	repo := &suggestionRepoSpy{}
	svc := NewSuggestionService(client, repo, msgStore, "persona", logger.NewNop())

	err := svc.Generate(context.Background(), "c1")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, client.calls)
	assert.Empty(t, repo.savedID, "nothing persisted on failure")
}

func TestGenerateSkipsWhenLastMessageIsNotAssistant(t *testing.T) {
	msgStore := store.NewMessageStore()
	base := time.Now()
	l := msgStore.List("c1")
	require.NoError(t, l.Append(model.Message{
		ID: "a1", Role: model.RoleAssistant, Status: model.StatusSent, Content: "reply", Timestamp: base,
	}))
	require.NoError(t, l.Append(model.Message{
		ID: "u2", Role: model.RoleUser, Status: model.StatusSent, Content: "follow-up", Timestamp: base.Add(time.Second),
	}))

	client := &scriptedClient{}
	svc := NewSuggestionService(client, &suggestionRepoSpy{}, msgStore, "persona", logger.NewNop())

	require.NoError(t, svc.Generate(context.Background(), "c1"))
	assert.Zero(t, client.calls)
}

func TestClearDropsStaleSuggestions(t *testing.T) {
	msgStore, lastID := seededStore(t)
	msgStore.List("c1").Update(lastID, func(m *model.Message) {
		m.Suggestions = []string{"stale"}
	})

	svc := NewSuggestionService(&scriptedClient{}, &suggestionRepoSpy{}, msgStore, "persona", logger.NewNop())
	svc.Clear(context.Background(), "c1")

	msg, ok := msgStore.List("c1").Find(func(m model.Message) bool { return m.ID == lastID })
	require.True(t, ok)
	assert.Nil(t, msg.Suggestions)
}

func TestSplitSuggestions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "three clean lines", content: "a\nb\nc", want: []string{"a", "b", "c"}},
		{name: "blank lines dropped", content: "a\n\nb\n\n\nc\n", want: []string{"a", "b", "c"}},
		{name: "whitespace trimmed", content: "  a \n\tb\n c ", want: []string{"a", "b", "c"}},
		{name: "empty input", content: "", want: nil},
		{name: "only whitespace", content: " \n\t\n", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSuggestions(tt.content))
		})
	}
}
