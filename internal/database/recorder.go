package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"speech-preroll/internal/preroll"
)

type EventWriter interface {
	Insert(ctx context.Context, e preroll.Event) error
}

// Recorder persists preroll events off the caller's goroutine. Handle never
// blocks; when the queue is full the event is dropped and logged.
type Recorder struct {
	writer EventWriter
	logger *zap.Logger
	queue  chan preroll.Event
}

func NewRecorder(writer EventWriter, logger *zap.Logger, size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		writer: writer,
		logger: logger,
		queue:  make(chan preroll.Event, size),
	}
}

func (r *Recorder) Handle(e preroll.Event) {
	if r == nil {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("preroll event queue full, dropping event",
			zap.String("kind", string(e.Kind)),
			zap.String("capture_id", e.CaptureID))
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e preroll.Event) {
	writeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.writer.Insert(writeCtx, e); err != nil {
		r.logger.Warn("record preroll event failed", zap.Error(err), zap.String("kind", string(e.Kind)))
	}
}
