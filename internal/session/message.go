package session

import (
	"fmt"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
)

type MessageStatus string

const (
	MessageQueued     MessageStatus = "queued"
	MessageProcessing MessageStatus = "processing"
	MessageDone       MessageStatus = "done"
	MessageFailed     MessageStatus = "failed"
)

// ErrInvalidTransition is returned for any status change outside the lifecycle
// queued -> processing -> done|failed.
var ErrInvalidTransition = apperrors.New(apperrors.ErrInvalidInput, "invalid message status transition")

var transitions = map[MessageStatus][]MessageStatus{
	MessageQueued:     {MessageProcessing},
	MessageProcessing: {MessageDone, MessageFailed},
}

// ParseMessageStatus converts a stored value into a MessageStatus.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch st := MessageStatus(s); st {
	case MessageQueued, MessageProcessing, MessageDone, MessageFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown message status %q", s)
	}
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to MessageStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s MessageStatus) Terminal() bool {
	return s == MessageDone || s == MessageFailed
}

type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	AuthorID    string        `json:"author_id"`
	Content     string        `json:"content"`
	Source      string        `json:"source,omitempty"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Transition moves m to next, stamping the lifecycle timestamps.
func (m *Message) Transition(next MessageStatus, now time.Time) error {
	if !CanTransition(m.Status, next) {
		return apperrors.Wrap(apperrors.ErrInvalidInput,
			fmt.Sprintf("message %s cannot move from %s to %s", m.ID, m.Status, next), ErrInvalidTransition)
	}
	m.Status = next
	switch next {
	case MessageProcessing:
		m.StartedAt = &now
	case MessageDone, MessageFailed:
		m.CompletedAt = &now
	}
	return nil
}
