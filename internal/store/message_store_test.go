package store

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ask-dwight/coach-platform/internal/model"
)

func msg(id string, role model.Role, status model.Status, ts time.Time) model.Message {
	return model.Message{
		ID:        id,
		Role:      role,
		Status:    status,
		Timestamp: ts,
	}
}

func TestListIsLazyAndStable(t *testing.T) {
	s := NewMessageStore()
	a := s.List("c1")
	b := s.List("c1")
	assert.Same(t, a, b)
	assert.NotSame(t, a, s.List("c2"))
}

func TestAppendKeepsTimestampOrder(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	base := time.Now()

	require.NoError(t, l.Append(msg("m2", model.RoleAssistant, model.StatusSent, base.Add(2*time.Second))))
	require.NoError(t, l.Append(msg("m1", model.RoleUser, model.StatusSent, base)))
	require.NoError(t, l.Append(msg("m3", model.RoleUser, model.StatusSent, base.Add(3*time.Second))))

	got := l.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
	assert.Equal(t, "m3", got[2].ID)
}

func TestAppendRejectsSecondStreamingMessage(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	now := time.Now()

	require.NoError(t, l.Append(msg("s1", model.RoleAssistant, model.StatusStreaming, now)))
	err := l.Append(msg("s2", model.RoleAssistant, model.StatusStreaming, now.Add(time.Second)))
	assert.ErrorIs(t, err, ErrStreamInFlight)

	// A settled message is still accepted alongside the streaming one.
	require.NoError(t, l.Append(msg("u1", model.RoleUser, model.StatusSent, now.Add(2*time.Second))))
	assert.Equal(t, 2, l.Len())
}

func TestAppendToStreaming(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	require.NoError(t, l.Append(msg("s1", model.RoleAssistant, model.StatusStreaming, time.Now())))

	upper := func(content string) string { return strings.ToUpper(content) }
	assert.True(t, l.AppendToStreaming("hel", upper))
	assert.True(t, l.AppendToStreaming("lo", upper))

	streaming, ok := l.Streaming()
	require.True(t, ok)
	assert.Equal(t, "hello", streaming.Content)
	assert.Equal(t, "HELLO", streaming.HTMLContent)
}

func TestAppendToStreamingNoTarget(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	require.NoError(t, l.Append(msg("m1", model.RoleUser, model.StatusSent, time.Now())))

	assert.False(t, l.AppendToStreaming("x", nil))
}

func TestUpdateAndFind(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	require.NoError(t, l.Append(msg("s1", model.RoleAssistant, model.StatusStreaming, time.Now())))

	ok := l.Update("s1", func(m *model.Message) {
		m.Content = "done"
		m.Status = model.StatusSent
	})
	require.True(t, ok)

	got, found := l.Find(func(m model.Message) bool { return m.ID == "s1" })
	require.True(t, found)
	assert.Equal(t, "done", got.Content)
	assert.Equal(t, model.StatusSent, got.Status)

	_, streaming := l.Streaming()
	assert.False(t, streaming)

	assert.False(t, l.Update("missing", func(*model.Message) {}))
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	require.NoError(t, l.Append(msg("m1", model.RoleUser, model.StatusSent, time.Now())))

	snapshot := l.Messages()
	snapshot[0].Content = "mutated"

	got := l.Messages()
	assert.Empty(t, got[0].Content)
}

func TestRemoveLoading(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	base := time.Now()

	require.NoError(t, l.Append(msg("u1", model.RoleUser, model.StatusSent, base)))
	require.NoError(t, l.Append(msg("l1", model.RoleSystem, model.StatusLoading, base.Add(time.Second))))
	require.NoError(t, l.Append(msg("a1", model.RoleAssistant, model.StatusSent, base.Add(2*time.Second))))

	l.RemoveLoading()

	got := l.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)

	// Idempotent with nothing loading.
	l.RemoveLoading()
	assert.Equal(t, 2, l.Len())
}

func TestLastOfRole(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	base := time.Now()

	require.NoError(t, l.Append(msg("a1", model.RoleAssistant, model.StatusSent, base)))
	require.NoError(t, l.Append(msg("u1", model.RoleUser, model.StatusSent, base.Add(time.Second))))
	require.NoError(t, l.Append(msg("a2", model.RoleAssistant, model.StatusSent, base.Add(2*time.Second))))

	last, ok := l.LastOfRole(model.RoleAssistant)
	require.True(t, ok)
	assert.Equal(t, "a2", last.ID)

	_, ok = l.LastOfRole(model.RoleSystem)
	assert.False(t, ok)
}

func TestSeedReplacesAndSorts(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	require.NoError(t, l.Append(msg("old", model.RoleUser, model.StatusSent, time.Now())))

	base := time.Now()
	s.Seed("c1", []model.Message{
		msg("m2", model.RoleAssistant, model.StatusSent, base.Add(time.Second)),
		msg("m1", model.RoleUser, model.StatusSent, base),
	})

	got := l.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
}

func TestDrop(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")
	require.NoError(t, l.Append(msg("m1", model.RoleUser, model.StatusSent, time.Now())))

	s.Drop("c1")
	assert.Equal(t, 0, s.List("c1").Len())
}

func TestConcurrentAppends(t *testing.T) {
	s := NewMessageStore()
	l := s.List("c1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Append(msg(fmt.Sprintf("m%d", i), model.RoleUser, model.StatusSent, time.Now()))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
}
