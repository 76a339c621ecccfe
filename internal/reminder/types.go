package reminder

import (
	"context"
	"time"
)

// Confidence labels how much interpretive risk a resolver took.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps a free-form label onto a Confidence, defaulting to medium.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s)
	default:
		return ConfidenceMedium
	}
}

// ParsedReminder is the result of resolving one message. FireAt is always
// strictly after the now the resolver was called with.
type ParsedReminder struct {
	TaskDescription string
	FireAt          time.Time
	Confidence      Confidence
}

// Task is a persisted reminder.
type Task struct {
	ID              int64      `json:"id"`
	OwnerID         string     `json:"owner_id"`
	TaskDescription string     `json:"task_description"`
	FireAt          time.Time  `json:"fire_at"`
	CreatedAt       time.Time  `json:"created_at"`
	IsSent          bool       `json:"is_sent"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

// Due reports whether the task belongs to the dispatch scan at now.
func (t Task) Due(now time.Time) bool {
	return !t.IsSent && !t.FireAt.After(now)
}

// CompletionService is a stateless text-completion capability.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DeliveryChannel sends a text to a channel-specific owner. It reports
// failure as false and never panics past the call site.
type DeliveryChannel interface {
	Send(ctx context.Context, ownerID, body string) bool
}

// TaskStore persists tasks. Each call is its own atomic unit.
type TaskStore interface {
	Insert(ctx context.Context, ownerID, description string, fireAt time.Time) (Task, error)
	Due(ctx context.Context, now time.Time) ([]Task, error)
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
	ForOwner(ctx context.Context, ownerID string, includeSent bool) ([]Task, error)
}
