package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDebug   EventType = "debug"
	EventInfo    EventType = "info"
	EventWarn    EventType = "warn"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

const (
	ResearchEventLog      = "events:research:log"
	ResearchEventPhase    = "events:research:phase"
	ResearchEventProgress = "events:research:progress"
)

// ResearchEvent is one entry of a research session's trace.
type ResearchEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	SessionKey string            `json:"sessionKey,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type contextKey string

const sessionContextKey contextKey = "deepresearch/events/session"

// WithSession returns a derived context annotated with the given session key
// so event emitters can automatically scope payloads.
func WithSession(ctx context.Context, sessionKey string) context.Context {
	if strings.TrimSpace(sessionKey) == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey, sessionKey)
}

// SessionFromContext extracts the session key associated with ctx.
func SessionFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(sessionContextKey).(string); ok {
		return v
	}
	return ""
}

func CreateResearchEvent(eventType EventType, message string) ResearchEvent {
	return ResearchEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewDebug(message string) ResearchEvent {
	return CreateResearchEvent(EventDebug, message)
}

// NewInfo creates an info ResearchEvent.
func NewInfo(message string) ResearchEvent {
	return CreateResearchEvent(EventInfo, message)
}

// NewWarn creates a warn ResearchEvent.
func NewWarn(message string) ResearchEvent {
	return CreateResearchEvent(EventWarn, message)
}

// NewError creates an error ResearchEvent.
func NewError(message string) ResearchEvent {
	return CreateResearchEvent(EventError, message)
}

// NewSuccess creates a success ResearchEvent.
func NewSuccess(message string) ResearchEvent {
	return CreateResearchEvent(EventSuccess, message)
}

// WithMetadata returns a copy of evt carrying the given key/value pair.
func (e ResearchEvent) WithMetadata(key, value string) ResearchEvent {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}
