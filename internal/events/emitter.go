package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EmitFunc func(ctx context.Context, name string, evt ResearchEvent)

type ProgressFunc func(ctx context.Context, evt ProgressEvent)

// Emitter fans research events out to a sink. A nil *Emitter drops events.
type Emitter struct {
	emit     EmitFunc
	progress ProgressFunc
}

// NewEmitter wraps custom sink functions; either may be nil.
func NewEmitter(emit EmitFunc, progress ProgressFunc) *Emitter {
	return &Emitter{emit: emit, progress: progress}
}

// NewLoggerEmitter writes every event to logger at the matching level.
func NewLoggerEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("research")
	return &Emitter{
		emit: func(_ context.Context, name string, evt ResearchEvent) {
			logResearchEvent(logger, name, evt)
		},
		progress: func(_ context.Context, evt ProgressEvent) {
			logger.Debug("progress",
				zap.String("session", evt.SessionKey),
				zap.Int("completed", evt.Completed),
				zap.Int("expected", evt.Expected),
				zap.Float64("percent", evt.Percent),
			)
		},
	}
}

func (e *Emitter) Emit(ctx context.Context, name string, evt ResearchEvent) {
	if e == nil || e.emit == nil {
		return
	}
	if evt.SessionKey == "" {
		evt.SessionKey = SessionFromContext(ctx)
	}
	e.emit(ctx, name, evt)
}

func (e *Emitter) Progress(ctx context.Context, evt ProgressEvent) {
	if e == nil || e.progress == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.SessionKey == "" {
		evt.SessionKey = SessionFromContext(ctx)
	}
	e.progress(ctx, evt)
}
