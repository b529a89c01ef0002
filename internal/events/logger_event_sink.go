package events

import (
	"go.uber.org/zap"
)

func logResearchEvent(logger *zap.Logger, name string, event ResearchEvent) {
	fields := []zap.Field{
		zap.String("event", name),
		zap.String("id", event.ID),
		zap.Time("at", event.Timestamp),
	}
	if event.SessionKey != "" {
		fields = append(fields, zap.String("session", event.SessionKey))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	switch event.Type {
	case EventDebug:
		logger.Debug(event.Message, fields...)
	case EventError:
		logger.Error(event.Message, fields...)
	case EventWarn:
		logger.Warn(event.Message, fields...)
	default:
		logger.Info(event.Message, fields...)
	}
}
