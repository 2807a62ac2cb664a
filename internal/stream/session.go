package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ask-dwight/coach-platform/internal/model"
	"github.com/ask-dwight/coach-platform/pkg/logger"
)

// ErrSessionBusy is returned when Open is called while the session already
// has an exchange in flight, or after it has been used. Sessions are
// single-use.
var ErrSessionBusy = errors.New("response session already opened")

// CompletedResult is the settled outcome of a successful exchange.
type CompletedResult struct {
	FinalText  string
	ResponseID string
	Sources    []model.Source
}

// DeltaFunc receives content fragments in strict arrival order.
type DeltaFunc func(fragment string)

// Timeouts bound how long a session waits for stream progress. Zero values
// disable the corresponding watchdog.
type Timeouts struct {
	// FirstByte bounds the wait for the first chunk after the stream opens.
	FirstByte time.Duration
	// Idle bounds the gap between consecutive chunks.
	Idle time.Duration
}

// Session owns exactly one request/response exchange with the inference
// backend. Expected failures (transport errors, upstream failure events,
// watchdog expiry) resolve to a nil result; an error is returned only for
// misuse.
type Session struct {
	transport Transport
	log       *logger.Logger
	timeouts  Timeouts

	opened atomic.Bool
}

// NewSession creates a session bound to one future exchange.
func NewSession(transport Transport, log *logger.Logger, timeouts Timeouts) *Session {
	return &Session{
		transport: transport,
		log:       log,
		timeouts:  timeouts,
	}
}

// Open performs the exchange: issues the transport call, feeds the frame
// parser, and invokes onDelta synchronously for each text fragment, in
// arrival order. It returns the completed result, or nil if the stream
// failed in any expected way. Cancelling ctx stops the read loop
// cooperatively; no deltas are delivered after cancellation is observed.
func (s *Session) Open(ctx context.Context, req Request, onDelta DeltaFunc) (*CompletedResult, error) {
	if !s.opened.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}

	// The watchdog cancels the derived context when the stream stalls,
	// which unblocks the pending body read.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watchdog *time.Timer
	if s.timeouts.FirstByte > 0 || s.timeouts.Idle > 0 {
		first := s.timeouts.FirstByte
		if first == 0 {
			first = s.timeouts.Idle
		}
		watchdog = time.AfterFunc(first, cancel)
		defer watchdog.Stop()
	}

	body, err := s.transport.OpenStream(ctx, req)
	if err != nil {
		s.log.Warn("failed to open inference stream", zap.Error(err))
		return nil, nil
	}
	defer body.Close()

	var (
		result   *CompletedResult
		failed   bool
		sources  []model.Source
		canceled bool
	)

	parser := NewParser(s.log, func(ev Event) {
		if canceled {
			return
		}
		switch e := ev.(type) {
		case CreatedEvent:
			// Nothing to accumulate; the controller already holds the
			// streaming placeholder.
		case TextDeltaEvent:
			onDelta(e.Fragment)
		case AnnotationEvent:
			if src, ok := sourceFromAnnotation(e); ok {
				sources = append(sources, src)
			}
		case CompletedEvent:
			result = &CompletedResult{
				FinalText:  e.FinalText,
				ResponseID: e.ResponseID,
			}
		case FailedEvent:
			s.log.Warn("inference stream failed upstream", zap.String("reason", e.Reason))
			failed = true
		}
	})

	buf := make([]byte, 4096)
	for {
		// Cooperative cancellation: check before each read and stop
		// dispatching once observed.
		if ctx.Err() != nil {
			canceled = true
			return nil, nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if watchdog != nil {
				// The first-byte bound is satisfied. From here the idle
				// watchdog takes over, or no watchdog at all.
				if s.timeouts.Idle > 0 {
					watchdog.Reset(s.timeouts.Idle)
				} else {
					watchdog.Stop()
				}
			}
			if ctx.Err() != nil {
				canceled = true
				return nil, nil
			}
			parser.Feed(string(buf[:n]))
			if result != nil || failed {
				break
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				parser.Close()
				break
			}
			s.log.Warn("inference stream read error", zap.Error(readErr))
			return nil, nil
		}
	}

	if failed || result == nil {
		return nil, nil
	}
	result.Sources = sources
	return result, nil
}

// sourceFromAnnotation maps known annotation kinds to citation sources.
func sourceFromAnnotation(ev AnnotationEvent) (model.Source, bool) {
	switch ev.Kind {
	case "url_citation":
		var a struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		}
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return model.Source{}, false
		}
		return model.Source{Kind: ev.Kind, Title: a.Title, URL: a.URL}, true
	case "file_citation":
		var a struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return model.Source{}, false
		}
		return model.Source{Kind: ev.Kind, Title: a.Filename}, true
	default:
		return model.Source{}, false
	}
}
