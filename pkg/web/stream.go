package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrStreamClosed is returned when writing to an EventStream after Close.
var ErrStreamClosed = errors.New("event stream closed")

// EventStream writes server-sent event frames and flushes each one
// immediately. It is safe for concurrent use so a keepalive goroutine can
// share the stream with the request goroutine.
type EventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	closed  bool
}

// NewEventStream wraps w. Headers are written lazily on the first frame.
func NewEventStream(w http.ResponseWriter) *EventStream {
	return &EventStream{w: w, rc: http.NewResponseController(w)}
}

// WriteEvent writes a single named event with a one-line data payload.
func (s *EventStream) WriteEvent(name string, data []byte) error {
	return s.write(eventFrame(name, data), false)
}

// WriteFinalEvent writes a named event and closes the stream in the same
// critical section. No frame can follow it.
func (s *EventStream) WriteFinalEvent(name string, data []byte) error {
	return s.write(eventFrame(name, data), true)
}

func eventFrame(name string, data []byte) string {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// WriteComment writes a comment frame. Browsers ignore these; proxies see
// traffic and keep the connection open.
func (s *EventStream) WriteComment(text string) error {
	return s.write(": "+text+"\n\n", false)
}

// Close marks the stream finished. Later writes return ErrStreamClosed.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Started reports whether any frame has been written.
func (s *EventStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *EventStream) write(frame string, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if final {
		s.closed = true
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := s.w.Write([]byte(frame)); err != nil {
		return fmt.Errorf("writing event frame: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing event frame: %w", err)
	}
	return nil
}
