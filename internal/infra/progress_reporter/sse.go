package progressreporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/web"
)

// ErrStreamFinished is returned when reporting after the terminal event.
var ErrStreamFinished = errors.New("progress stream already finished")

var _ provisioning.ProgressSink = (*SSESink)(nil)

// progressData is the JSON payload of one server-sent event frame.
type progressData struct {
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Message     string `json:"message"`
}

// SSESink writes progress events as server-sent event frames:
//
//	event: OK
//	data: {"currentStep":1,"totalSteps":5,"message":"..."}
//
// Each frame is flushed as soon as it is written. While a job runs the sink
// can emit keepalive comments so proxies don't drop the connection during
// the multi-minute transmission wait. The stream ends after an ERROR frame
// or the final OK frame.
type SSESink struct {
	stream    *web.EventStream
	keepalive time.Duration
	logger    *logger.Logger

	mu       sync.Mutex
	finished bool
	stop     chan struct{}
	done     chan struct{}
}

// SSEOption configures an SSESink.
type SSEOption func(*SSESink)

// WithKeepalive sets the interval between keepalive comments. Zero disables them.
func WithKeepalive(d time.Duration) SSEOption {
	return func(s *SSESink) { s.keepalive = d }
}

// NewSSESink creates a sink writing to stream.
func NewSSESink(stream *web.EventStream, logger *logger.Logger, opts ...SSEOption) *SSESink {
	s := &SSESink{
		stream:    stream,
		keepalive: 15 * time.Second,
		logger:    logger.With("component", "sse_sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins emitting keepalive comments until Stop is called, ctx is
// done or the stream finishes.
func (s *SSESink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepalive <= 0 || s.stop != nil || s.finished {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.runKeepalive(ctx, s.stop, s.done)
}

func (s *SSESink) runKeepalive(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := s.stream.WriteComment("keepalive"); err != nil {
				if !errors.Is(err, web.ErrStreamClosed) {
					s.logger.Debug(ctx, "Keepalive write failed", "error", err)
				}
				return
			}
		}
	}
}

// Stop ends the keepalive goroutine and waits for it to exit.
func (s *SSESink) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Report writes one event frame. After an ERROR frame or the final OK frame
// the stream is closed and later reports return ErrStreamFinished.
func (s *SSESink) Report(ctx context.Context, evt provisioning.ProgressEvent) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid progress event: %w", err)
	}

	data, err := json.Marshal(progressData{
		CurrentStep: evt.CurrentStep,
		TotalSteps:  evt.TotalSteps,
		Message:     evt.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrStreamFinished
	}
	if evt.Terminal() {
		s.finished = true
	}
	s.mu.Unlock()

	if !evt.Terminal() {
		if err := s.stream.WriteEvent(evt.Status.String(), data); err != nil {
			return fmt.Errorf("failed to write progress event: %w", err)
		}
		return nil
	}

	// The keepalive goroutine must be gone before the terminal frame so
	// nothing can follow it on the wire.
	s.Stop()
	if err := s.stream.WriteFinalEvent(evt.Status.String(), data); err != nil {
		return fmt.Errorf("failed to write progress event: %w", err)
	}
	return nil
}
