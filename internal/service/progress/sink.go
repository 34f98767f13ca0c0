package progress

import (
	"context"
	"sync"

	"github.com/oshokin/client-launcher/internal/logger"
)

// Sink consumes pipeline progress. Implementations must not block for long
// and never feed anything back into the pipeline.
type Sink interface {
	// Progress reports done out of total bytes.
	Progress(done, total int64)
	// Status reports a human readable stage description.
	Status(text string)
}

// Nop discards everything.
type Nop struct{}

// Progress implements Sink.
func (Nop) Progress(int64, int64) {}

// Status implements Sink.
func (Nop) Status(string) {}

// Percent converts done/total to a whole percentage clamped to [0, 100].
// Nothing to do counts as complete.
func Percent(done, total int64) int {
	if total <= 0 {
		return 100
	}

	switch {
	case done <= 0:
		return 0
	case done >= total:
		return 100
	default:
		return int(done * 100 / total)
	}
}

// LogSink presents progress on the console log, once per whole percent.
type LogSink struct {
	ctx context.Context //nolint:containedctx // The sink logs with the caller's named logger.

	mu   sync.Mutex
	last int
}

// NewLogSink returns a LogSink logging through the logger carried by ctx.
func NewLogSink(ctx context.Context) *LogSink {
	return &LogSink{ctx: ctx, last: -1}
}

// Progress implements Sink.
func (s *LogSink) Progress(done, total int64) {
	percent := Percent(done, total)

	s.mu.Lock()
	changed := percent != s.last
	s.last = percent
	s.mu.Unlock()

	if changed {
		logger.InfoKV(s.ctx, "Progress", "percent", percent, "done", done, "total", total)
	}
}

// Status implements Sink.
func (s *LogSink) Status(text string) {
	logger.Info(s.ctx, text)
}
