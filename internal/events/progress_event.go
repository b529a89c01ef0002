package events

import (
	"time"
)

// Task statuses reported in ProgressEvent items.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskDone       = "done"
)

// TaskProgressItem represents a single research task in the progress list
type TaskProgressItem struct {
	ID     string `json:"id"`
	Tier   int    `json:"tier"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// ProgressEvent represents a task progress update
type ProgressEvent struct {
	ID         string             `json:"id"`
	Completed  int                `json:"completed"`
	Expected   int                `json:"expected"`
	Percent    float64            `json:"percent"`
	Items      []TaskProgressItem `json:"items"`
	Timestamp  time.Time          `json:"timestamp"`
	SessionKey string             `json:"sessionKey,omitempty"`
}
