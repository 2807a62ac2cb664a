package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ask-dwight/coach-platform/pkg/logger"
)

// scriptedTransport serves a fixed body, or fails to open.
type scriptedTransport struct {
	body    io.ReadCloser
	openErr error
	lastReq Request
}

func (t *scriptedTransport) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	t.lastReq = req
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.body, nil
}

// faultyReader yields its content, then a non-EOF error.
type faultyReader struct {
	r   io.Reader
	err error
}

func (f *faultyReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err == io.EOF {
		return n, f.err
	}
	return n, err
}

func (f *faultyReader) Close() error { return nil }

func exchangeBody(deltas []string, finalText, responseID string) string {
	var b strings.Builder
	b.WriteString(frame(`{"type":"response.created","response":{"id":"` + responseID + `"}}`))
	for _, d := range deltas {
		b.WriteString(frame(`{"type":"response.output_text.delta","delta":"` + d + `"}`))
	}
	b.WriteString(frame(`{"type":"response.completed","response":{"id":"` + responseID + `","output":[{"content":[{"type":"output_text","text":"` + finalText + `"}]}]}}`))
	return b.String()
}

func TestSessionOpenDeliversDeltasInOrder(t *testing.T) {
	body := exchangeBody([]string{"Hel", "lo ", "world"}, "Hello world", "r1")
	transport := &scriptedTransport{body: io.NopCloser(strings.NewReader(body))}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	var got []string
	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(fragment string) {
		got = append(got, fragment)
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"Hel", "lo ", "world"}, got)
	assert.Equal(t, "Hello world", result.FinalText)
	assert.Equal(t, "r1", result.ResponseID)
}

func TestSessionOpenTransportError(t *testing.T) {
	transport := &scriptedTransport{openErr: errors.New("connection refused")}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(string) {})

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSessionOpenUpstreamFailure(t *testing.T) {
	body := frame(`{"type":"response.created","response":{"id":"r1"}}`) +
		frame(`{"type":"response.failed","response":{"error":{"message":"overloaded"}}}`)
	transport := &scriptedTransport{body: io.NopCloser(strings.NewReader(body))}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(string) {})

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSessionOpenMidStreamReadError(t *testing.T) {
	// Two deltas arrive, then the connection drops without a completed
	// frame. Delivered fragments stay delivered; the result is nil.
	partial := frame(`{"type":"response.created","response":{"id":"r1"}}`) +
		frame(`{"type":"response.output_text.delta","delta":"par"}`) +
		frame(`{"type":"response.output_text.delta","delta":"tial"}`)
	transport := &scriptedTransport{body: &faultyReader{
		r:   strings.NewReader(partial),
		err: errors.New("connection reset"),
	}}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	var got []string
	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(fragment string) {
		got = append(got, fragment)
	})

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, []string{"par", "tial"}, got)
}

func TestSessionOpenTruncatedStream(t *testing.T) {
	// EOF without a terminal frame is a failure, not a half-result.
	body := frame(`{"type":"response.created","response":{"id":"r1"}}`) +
		frame(`{"type":"response.output_text.delta","delta":"x"}`)
	transport := &scriptedTransport{body: io.NopCloser(strings.NewReader(body))}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(string) {})

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSessionOpenCancellation(t *testing.T) {
	body := exchangeBody([]string{"one", "two", "three"}, "one two three", "r1")
	transport := &scriptedTransport{body: io.NopCloser(strings.NewReader(body))}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []string
	result, err := session.Open(ctx, Request{Prompt: TextPrompt("hi")}, func(fragment string) {
		got = append(got, fragment)
	})

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, got, "no deltas after cancellation")
}

func TestSessionOpenSingleUse(t *testing.T) {
	body := exchangeBody(nil, "ok", "r1")
	transport := &scriptedTransport{body: io.NopCloser(strings.NewReader(body))}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	_, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(string) {})
	require.NoError(t, err)

	_, err = session.Open(context.Background(), Request{Prompt: TextPrompt("again")}, func(string) {})
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestSessionOpenCollectsSources(t *testing.T) {
	body := frame(`{"type":"response.created","response":{"id":"r1"}}`) +
		frame(`{"type":"response.output_text.annotation.added","annotation":{"type":"url_citation","title":"Objections","url":"https://example.com/objections"}}`) +
		frame(`{"type":"response.output_text.annotation.added","annotation":{"type":"file_citation","filename":"playbook.pdf"}}`) +
		frame(`{"type":"response.completed","response":{"id":"r1","output":[{"content":[{"type":"output_text","text":"see sources"}]}]}}`)
	transport := &scriptedTransport{body: io.NopCloser(strings.NewReader(body))}
	session := NewSession(transport, logger.NewNop(), Timeouts{})

	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(string) {})

	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "url_citation", result.Sources[0].Kind)
	assert.Equal(t, "Objections", result.Sources[0].Title)
	assert.Equal(t, "https://example.com/objections", result.Sources[0].URL)
	assert.Equal(t, "file_citation", result.Sources[1].Kind)
	assert.Equal(t, "playbook.pdf", result.Sources[1].Title)
}

// stalledTransport returns a body that produces nothing until the request
// context is canceled, mimicking an HTTP response body.
type stalledTransport struct{}

func (stalledTransport) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	return &stalledBody{ctx: ctx}, nil
}

type stalledBody struct {
	ctx context.Context
}

func (b *stalledBody) Read(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *stalledBody) Close() error { return nil }

// pacedBody serves one chunk per Read, sleeping before each chunk after
// the first.
type pacedBody struct {
	chunks []string
	gap    time.Duration
	next   int
}

func (b *pacedBody) Read(p []byte) (int, error) {
	if b.next >= len(b.chunks) {
		return 0, io.EOF
	}
	if b.next > 0 {
		time.Sleep(b.gap)
	}
	n := copy(p, b.chunks[b.next])
	b.next++
	return n, nil
}

func (b *pacedBody) Close() error { return nil }

func TestSessionFirstByteWatchdogStopsAfterFirstChunk(t *testing.T) {
	// First chunk arrives well inside the first-byte bound; the rest of the
	// stream takes longer than that bound in total. With no idle bound
	// configured the exchange must still settle successfully.
	body := &pacedBody{
		chunks: []string{
			frame(`{"type":"response.created","response":{"id":"r1"}}`),
			frame(`{"type":"response.output_text.delta","delta":"slow"}`),
			frame(`{"type":"response.output_text.delta","delta":" burn"}`),
			frame(`{"type":"response.completed","response":{"id":"r1","output":[{"content":[{"type":"output_text","text":"slow burn"}]}]}}`),
		},
		gap: 15 * time.Millisecond,
	}
	transport := &scriptedTransport{body: body}
	session := NewSession(transport, logger.NewNop(), Timeouts{FirstByte: 25 * time.Millisecond})

	var got []string
	result, err := session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(fragment string) {
		got = append(got, fragment)
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "slow burn", result.FinalText)
	assert.Equal(t, []string{"slow", " burn"}, got)
}

func TestSessionFirstByteTimeout(t *testing.T) {
	session := NewSession(stalledTransport{}, logger.NewNop(), Timeouts{FirstByte: 20 * time.Millisecond})

	done := make(chan struct{})
	var result *CompletedResult
	var err error
	go func() {
		defer close(done)
		result, err = session.Open(context.Background(), Request{Prompt: TextPrompt("hi")}, func(string) {})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not resolve")
	}
	require.NoError(t, err)
	assert.Nil(t, result)
}
