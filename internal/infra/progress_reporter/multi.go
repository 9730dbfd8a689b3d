package progressreporter

import (
	"context"

	"github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/common/logger"
)

var _ provisioning.ProgressSink = (*MultiSink)(nil)

// MultiSink fans progress events out to several sinks. The primary sink is
// authoritative: its error is returned and stops the job. Errors from the
// secondary sinks are logged.
type MultiSink struct {
	primary     provisioning.ProgressSink
	secondaries []provisioning.ProgressSink
	logger      *logger.Logger
}

// NewMultiSink creates a MultiSink.
func NewMultiSink(logger *logger.Logger, primary provisioning.ProgressSink, secondaries ...provisioning.ProgressSink) *MultiSink {
	return &MultiSink{primary: primary, secondaries: secondaries, logger: logger.With("component", "multi_sink")}
}

// Report sends evt to the primary sink, then to every secondary sink.
func (m *MultiSink) Report(ctx context.Context, evt provisioning.ProgressEvent) error {
	if err := m.primary.Report(ctx, evt); err != nil {
		return err
	}
	for _, s := range m.secondaries {
		if err := s.Report(ctx, evt); err != nil {
			m.logger.Warn(ctx, "Secondary progress sink failed", "error", err, "step", evt.CurrentStep)
		}
	}
	return nil
}
