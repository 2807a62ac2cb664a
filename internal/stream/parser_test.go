package stream

import (
	"reflect"
	"testing"

	"github.com/ask-dwight/coach-platform/pkg/logger"
)

func frame(payload string) string {
	return "data: " + payload + "\n\n"
}

func collectEvents(t *testing.T, chunks []string) []Event {
	t.Helper()
	var events []Event
	p := NewParser(logger.NewNop(), func(ev Event) {
		events = append(events, ev)
	})
	for _, c := range chunks {
		p.Feed(c)
	}
	p.Close()
	return events
}

func TestParserFullExchange(t *testing.T) {
	input := frame(`{"type":"response.created","response":{"id":"r1"}}`) +
		frame(`{"type":"response.output_text.delta","delta":"Hel"}`) +
		frame(`{"type":"response.output_text.delta","delta":"lo "}`) +
		frame(`{"type":"response.output_text.delta","delta":"world"}`) +
		frame(`{"type":"response.completed","response":{"id":"r1","output":[{"content":[{"type":"output_text","text":"Hello world"}]}]}}`)

	got := collectEvents(t, []string{input})

	want := []Event{
		CreatedEvent{ResponseID: "r1"},
		TextDeltaEvent{Fragment: "Hel"},
		TextDeltaEvent{Fragment: "lo "},
		TextDeltaEvent{Fragment: "world"},
		CompletedEvent{FinalText: "Hello world", ResponseID: "r1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserChunkBoundaries(t *testing.T) {
	// The same exchange, split mid-line and mid-frame.
	whole := frame(`{"type":"response.created","response":{"id":"r1"}}`) +
		frame(`{"type":"response.output_text.delta","delta":"Hello"}`) +
		frame(`{"type":"response.completed","response":{"id":"r1","output":[{"content":[{"type":"output_text","text":"Hello"}]}]}}`)

	want := collectEvents(t, []string{whole})

	for _, size := range []int{1, 3, 7, 16} {
		var chunks []string
		for i := 0; i < len(whole); i += size {
			end := i + size
			if end > len(whole) {
				end = len(whole)
			}
			chunks = append(chunks, whole[i:end])
		}
		got := collectEvents(t, chunks)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("chunk size %d: events = %#v, want %#v", size, got, want)
		}
	}
}

func TestParserSkipsMalformedFrame(t *testing.T) {
	input := frame(`{"type":"response.output_text.delta","delta":"a"}`) +
		frame(`{"type":"response.output_text.delta","del`) + // truncated JSON
		frame(`{"type":"response.output_text.delta","delta":"b"}`)

	got := collectEvents(t, []string{input})

	want := []Event{
		TextDeltaEvent{Fragment: "a"},
		TextDeltaEvent{Fragment: "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserIgnoresUnknownTypes(t *testing.T) {
	input := frame(`{"type":"response.output_item.added","item":{}}`) +
		frame(`{"type":"response.output_text.delta","delta":"x"}`) +
		frame(`{"type":"response.in_progress"}`)

	got := collectEvents(t, []string{input})

	want := []Event{TextDeltaEvent{Fragment: "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserIgnoresCommentsAndEventFields(t *testing.T) {
	input := ": keep-alive\n\n" +
		"event: response.output_text.delta\n" +
		"data: {\"type\":\"response.output_text.delta\",\"delta\":\"hi\"}\n\n"

	got := collectEvents(t, []string{input})

	want := []Event{TextDeltaEvent{Fragment: "hi"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserCRLFLines(t *testing.T) {
	input := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"hi\"}\r\n\r\n"

	got := collectEvents(t, []string{input})

	want := []Event{TextDeltaEvent{Fragment: "hi"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserCloseFlushesTrailingFrame(t *testing.T) {
	// Final frame arrives without its terminating blank line.
	input := `data: {"type":"response.completed","response":{"id":"r9","output":[{"content":[{"type":"output_text","text":"done"}]}]}}`

	got := collectEvents(t, []string{input})

	want := []Event{CompletedEvent{FinalText: "done", ResponseID: "r9"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserFailureFrames(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantReason string
	}{
		{
			name:       "typed failure with response error",
			payload:    `{"type":"response.failed","response":{"error":{"message":"rate limited"}}}`,
			wantReason: "rate limited",
		},
		{
			name:       "bare error string with message",
			payload:    `{"error":"Stream error","message":"connection reset"}`,
			wantReason: "Stream error: connection reset",
		},
		{
			name:       "error object",
			payload:    `{"error":{"message":"bad request"}}`,
			wantReason: "bad request",
		},
		{
			name:       "typed failure with no detail",
			payload:    `{"type":"response.failed"}`,
			wantReason: "upstream failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectEvents(t, []string{frame(tt.payload)})
			if len(got) != 1 {
				t.Fatalf("got %d events, want 1", len(got))
			}
			failed, ok := got[0].(FailedEvent)
			if !ok {
				t.Fatalf("event = %#v, want FailedEvent", got[0])
			}
			if failed.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", failed.Reason, tt.wantReason)
			}
		})
	}
}

func TestParserCompletedFlatContentShape(t *testing.T) {
	input := frame(`{"type":"response.completed","response":{"id":"r2","content":[{"type":"output_text","text":"flat"}]}}`)

	got := collectEvents(t, []string{input})

	want := []Event{CompletedEvent{FinalText: "flat", ResponseID: "r2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %#v, want %#v", got, want)
	}
}

func TestParserAnnotation(t *testing.T) {
	input := frame(`{"type":"response.output_text.annotation.added","annotation":{"type":"url_citation","title":"Cold Calls","url":"https://example.com/cold-calls"}}`)

	got := collectEvents(t, []string{input})
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	ann, ok := got[0].(AnnotationEvent)
	if !ok {
		t.Fatalf("event = %#v, want AnnotationEvent", got[0])
	}
	if ann.Kind != "url_citation" {
		t.Errorf("kind = %q, want url_citation", ann.Kind)
	}
}
