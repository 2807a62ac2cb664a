package stream

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/pkg/logger"
	"github.com/ask-dwight/coach-platform/pkg/metrics"
)

// Parser decodes an incremental text stream using line-oriented
// "event:/data:" framing into typed events, emitted in order through a
// callback. It buffers at most one partial frame and is purely synchronous.
// A malformed frame is dropped with a warning; it never aborts the stream.
type Parser struct {
	emit func(Event)
	log  *logger.Logger

	// partial holds bytes of the current incomplete line.
	partial strings.Builder
	// data holds the data lines of the frame being assembled.
	data []string
}

// NewParser creates a parser that forwards each decoded event to emit.
func NewParser(log *logger.Logger, emit func(Event)) *Parser {
	return &Parser{
		emit: emit,
		log:  log,
	}
}

// Feed consumes one chunk of decoded text. Chunk boundaries are arbitrary;
// frames split across chunks are reassembled.
func (p *Parser) Feed(chunk string) {
	for {
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			p.partial.WriteString(chunk)
			return
		}

		p.partial.WriteString(chunk[:i])
		line := strings.TrimSuffix(p.partial.String(), "\r")
		p.partial.Reset()
		chunk = chunk[i+1:]

		p.processLine(line)
	}
}

// Close dispatches a trailing frame that arrived without its terminating
// blank line. Lenient by intent; some backends close the connection right
// after the last data line.
func (p *Parser) Close() {
	if p.partial.Len() > 0 {
		p.processLine(strings.TrimSuffix(p.partial.String(), "\r"))
		p.partial.Reset()
	}
	p.dispatch()
}

func (p *Parser) processLine(line string) {
	switch {
	case line == "":
		p.dispatch()
	case strings.HasPrefix(line, ":"):
		// comment line, keep-alive
	case strings.HasPrefix(line, "data:"):
		p.data = append(p.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	default:
		// event:, id: and retry: fields carry nothing the payload's own
		// type discriminator doesn't; ignored.
	}
}

func (p *Parser) dispatch() {
	if len(p.data) == 0 {
		return
	}
	payload := strings.Join(p.data, "\n")
	p.data = nil

	ev, ok := p.decode(payload)
	if !ok {
		return
	}
	if ev != nil {
		p.emit(ev)
	}
}

// decode maps one frame payload to an event. The second return value is
// false only for malformed JSON; a nil event with true means a frame type
// this version does not care about.
func (p *Parser) decode(payload string) (Event, bool) {
	var probe struct {
		Type  string          `json:"type"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		p.log.Warn("dropping malformed stream frame", zap.Error(err))
		metrics.StreamFramesDroppedTotal.Inc()
		return nil, false
	}

	// Error frames produced outside the typed protocol, e.g. a transport
	// shim reporting a mid-stream failure.
	if probe.Type == "" && len(probe.Error) > 0 {
		metrics.StreamEventsTotal.WithLabelValues("failed").Inc()
		return FailedEvent{Reason: errorReason(payload)}, true
	}

	switch probe.Type {
	case typeCreated:
		var frame struct {
			Response struct {
				ID string `json:"id"`
			} `json:"response"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			p.log.Warn("dropping malformed created frame", zap.Error(err))
			metrics.StreamFramesDroppedTotal.Inc()
			return nil, false
		}
		metrics.StreamEventsTotal.WithLabelValues("created").Inc()
		return CreatedEvent{ResponseID: frame.Response.ID}, true

	case typeTextDelta:
		var frame struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			p.log.Warn("dropping malformed delta frame", zap.Error(err))
			metrics.StreamFramesDroppedTotal.Inc()
			return nil, false
		}
		metrics.StreamEventsTotal.WithLabelValues("delta").Inc()
		return TextDeltaEvent{Fragment: frame.Delta}, true

	case typeAnnotationAdded:
		var frame struct {
			Annotation json.RawMessage `json:"annotation"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			p.log.Warn("dropping malformed annotation frame", zap.Error(err))
			metrics.StreamFramesDroppedTotal.Inc()
			return nil, false
		}
		var kind struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(frame.Annotation, &kind)
		metrics.StreamEventsTotal.WithLabelValues("annotation").Inc()
		return AnnotationEvent{Kind: kind.Type, Payload: frame.Annotation}, true

	case typeCompleted:
		var frame struct {
			Response completedResponse `json:"response"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			p.log.Warn("dropping malformed completed frame", zap.Error(err))
			metrics.StreamFramesDroppedTotal.Inc()
			return nil, false
		}
		metrics.StreamEventsTotal.WithLabelValues("completed").Inc()
		return CompletedEvent{
			FinalText:  frame.Response.finalText(),
			ResponseID: frame.Response.ID,
		}, true

	case typeFailed:
		metrics.StreamEventsTotal.WithLabelValues("failed").Inc()
		return FailedEvent{Reason: errorReason(payload)}, true

	default:
		// Unknown type: versioned contract, ignore.
		return nil, true
	}
}

// completedResponse accepts both the nested output shape the backend emits
// today and the flat content shape older responses carried.
type completedResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Content []outputTextPart `json:"content"`
	} `json:"output"`
	Content []outputTextPart `json:"content"`
}

type outputTextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (r completedResponse) finalText() string {
	var b strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	for _, part := range r.Content {
		if part.Type == "output_text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// errorReason digs the most specific human-readable message out of a
// failure frame. The error field is a bare string in some producers and an
// object in others.
func errorReason(payload string) string {
	var frame struct {
		Message  string          `json:"message"`
		Error    json.RawMessage `json:"error"`
		Response struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err == nil {
		if frame.Response.Error.Message != "" {
			return frame.Response.Error.Message
		}
		if len(frame.Error) > 0 {
			var s string
			if json.Unmarshal(frame.Error, &s) == nil && s != "" {
				if frame.Message != "" {
					return s + ": " + frame.Message
				}
				return s
			}
			var obj struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(frame.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
		}
		if frame.Message != "" {
			return frame.Message
		}
	}
	return "upstream failure"
}
