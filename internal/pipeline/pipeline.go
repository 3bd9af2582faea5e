// Package pipeline drives the per-session message lifecycle
// queued -> processing -> done|failed.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/session"
	"github.com/harunnryd/inspect/internal/store"
)

// Sessions resolves the store worker of a session.
type Sessions interface {
	Session(ctx context.Context, sessionID string) (*store.Worker, error)
}

type Pipeline struct {
	sessions Sessions
}

func New(sessions Sessions) *Pipeline {
	return &Pipeline{sessions: sessions}
}

// Enqueue appends a queued message authored by a participant of the session.
func (p *Pipeline) Enqueue(ctx context.Context, sessionID, authorID, content, source string) (*session.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.InvalidInput("message content is required")
	}
	w, err := p.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msg := &session.Message{AuthorID: authorID, Content: content, Source: source}
	if err := w.EnqueueMessage(ctx, msg); err != nil {
		return nil, err
	}
	slog.Debug("Message queued", "session_id", sessionID, "message_id", msg.ID, "source", source)
	return msg, nil
}

// StartNext promotes the oldest queued message. It fails with Conflict while
// another message is processing and NotFound when nothing is queued.
func (p *Pipeline) StartNext(ctx context.Context, sessionID string) (*session.Message, error) {
	w, err := p.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msg, err := w.StartNextMessage(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Message processing", "session_id", sessionID, "message_id", msg.ID)
	return msg, nil
}

func (p *Pipeline) Complete(ctx context.Context, sessionID, messageID string) (*session.Message, error) {
	return p.finish(ctx, sessionID, messageID, session.MessageDone)
}

func (p *Pipeline) Fail(ctx context.Context, sessionID, messageID string) (*session.Message, error) {
	return p.finish(ctx, sessionID, messageID, session.MessageFailed)
}

func (p *Pipeline) finish(ctx context.Context, sessionID, messageID string, status session.MessageStatus) (*session.Message, error) {
	w, err := p.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msg, err := w.FinishMessage(ctx, messageID, status)
	if err != nil {
		return nil, err
	}
	slog.Info("Message finished", "session_id", sessionID, "message_id", messageID, "status", status)
	return msg, nil
}

// Processing returns the message currently processing, or nil.
func (p *Pipeline) Processing(ctx context.Context, sessionID string) (*session.Message, error) {
	w, err := p.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return w.ProcessingMessage(ctx)
}

func (p *Pipeline) List(ctx context.Context, sessionID string) ([]session.Message, error) {
	w, err := p.sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return w.ListMessages(ctx)
}
