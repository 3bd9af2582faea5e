package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	stdatomic "sync/atomic"

	"github.com/harunnryd/inspect/internal/concurrency"
	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/session"
)

type Operation int

const (
	OpGetSession Operation = iota
	OpBindRepository
	OpAddParticipant
	OpGetParticipant
	OpListParticipants
	OpUpdateParticipantTokens
	OpEnqueueMessage
	OpStartNextMessage
	OpFinishMessage
	OpGetProcessingMessage
	OpListMessages
	OpAppendArtifact
	OpListArtifacts
	OpHasArtifact
)

type Request struct {
	Ctx      context.Context
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type BindRepositoryPayload struct {
	Repository session.RepoBinding
}

type ParticipantPayload struct {
	Participant *session.Participant
}

type GetParticipantPayload struct {
	ParticipantID string
}

type EnqueueMessagePayload struct {
	Message *session.Message
}

type FinishMessagePayload struct {
	MessageID string
	Status    session.MessageStatus
}

type ArtifactPayload struct {
	Artifact *session.Artifact
}

type HasArtifactPayload struct {
	Kind session.ArtifactKind
}

// Worker owns all writes for one session. Requests are handled one at a time
// in arrival order.
type Worker struct {
	sessionID string
	repo      *Repository
	inbox     chan Request
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	running   stdatomic.Bool
}

func NewWorker(sessionID string, repo *Repository, inboxSize int) *Worker {
	if inboxSize <= 0 {
		inboxSize = 1
	}
	return &Worker{
		sessionID: sessionID,
		repo:      repo,
		inbox:     make(chan Request, inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *Worker) SessionID() string {
	return w.sessionID
}

func (w *Worker) Start() {
	w.running.Store(true)
	concurrency.SafeGo("store-worker:"+w.sessionID, w.loop, func(err error) {
		slog.Error("Session worker crashed", "session_id", w.sessionID, "error", err)
		w.running.Store(false)
		close(w.done)
	})
}

func (w *Worker) loop() {
	slog.Debug("Session worker started", "session_id", w.sessionID)

	for {
		select {
		case req := <-w.inbox:
			err := w.safeHandle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			w.running.Store(false)
			slog.Debug("Session worker stopping", "session_id", w.sessionID)
			close(w.done)
			return
		}
	}
}

func (w *Worker) safeHandle(req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Session worker request panicked", "session_id", w.sessionID, "op", req.Op, "panic", r)
			err = apperrors.Internal("session worker failure", fmt.Errorf("panic: %v", r))
		}
	}()
	return w.handle(req)
}

func (w *Worker) handle(req Request) error {
	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrTransient, "request cancelled before it was handled", err)
	}

	respond := func(v interface{}) {
		if req.Response != nil {
			req.Response <- v
		}
	}

	switch req.Op {
	case OpGetSession:
		s, err := w.repo.GetSession(ctx, w.sessionID)
		respond(s)
		return err

	case OpBindRepository:
		p, ok := req.Payload.(BindRepositoryPayload)
		if !ok {
			return fmt.Errorf("invalid payload for BindRepository")
		}
		return w.repo.BindRepository(ctx, w.sessionID, p.Repository)

	case OpAddParticipant:
		p, ok := req.Payload.(ParticipantPayload)
		if !ok {
			return fmt.Errorf("invalid payload for AddParticipant")
		}
		p.Participant.SessionID = w.sessionID
		return w.repo.AddParticipant(ctx, p.Participant)

	case OpGetParticipant:
		p, ok := req.Payload.(GetParticipantPayload)
		if !ok {
			return fmt.Errorf("invalid payload for GetParticipant")
		}
		participant, err := w.repo.GetParticipant(ctx, w.sessionID, p.ParticipantID)
		respond(participant)
		return err

	case OpListParticipants:
		list, err := w.repo.ListParticipants(ctx, w.sessionID)
		respond(list)
		return err

	case OpUpdateParticipantTokens:
		p, ok := req.Payload.(ParticipantPayload)
		if !ok {
			return fmt.Errorf("invalid payload for UpdateParticipantTokens")
		}
		p.Participant.SessionID = w.sessionID
		return w.repo.UpdateParticipantTokens(ctx, p.Participant)

	case OpEnqueueMessage:
		p, ok := req.Payload.(EnqueueMessagePayload)
		if !ok {
			return fmt.Errorf("invalid payload for EnqueueMessage")
		}
		if _, err := w.repo.GetParticipant(ctx, w.sessionID, p.Message.AuthorID); err != nil {
			return err
		}
		p.Message.SessionID = w.sessionID
		p.Message.Status = session.MessageQueued
		p.Message.StartedAt, p.Message.CompletedAt = nil, nil
		return w.repo.InsertMessage(ctx, p.Message)

	case OpStartNextMessage:
		m, err := w.repo.StartNextMessage(ctx, w.sessionID)
		respond(m)
		return err

	case OpFinishMessage:
		p, ok := req.Payload.(FinishMessagePayload)
		if !ok {
			return fmt.Errorf("invalid payload for FinishMessage")
		}
		m, err := w.repo.FinishMessage(ctx, w.sessionID, p.MessageID, p.Status)
		respond(m)
		return err

	case OpGetProcessingMessage:
		m, err := w.repo.ProcessingMessage(ctx, w.sessionID)
		respond(m)
		return err

	case OpListMessages:
		list, err := w.repo.ListMessages(ctx, w.sessionID)
		respond(list)
		return err

	case OpAppendArtifact:
		p, ok := req.Payload.(ArtifactPayload)
		if !ok {
			return fmt.Errorf("invalid payload for AppendArtifact")
		}
		p.Artifact.SessionID = w.sessionID
		if p.Artifact.Kind == session.ArtifactPR {
			exists, err := w.repo.HasArtifact(ctx, w.sessionID, session.ArtifactPR)
			if err != nil {
				return err
			}
			if exists {
				return apperrors.Conflict("A pull request has already been created for this session.")
			}
		}
		return w.repo.InsertArtifact(ctx, p.Artifact)

	case OpListArtifacts:
		list, err := w.repo.ListArtifacts(ctx, w.sessionID)
		respond(list)
		return err

	case OpHasArtifact:
		p, ok := req.Payload.(HasArtifactPayload)
		if !ok {
			return fmt.Errorf("invalid payload for HasArtifact")
		}
		exists, err := w.repo.HasArtifact(ctx, w.sessionID, p.Kind)
		respond(exists)
		return err

	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

// submit hands req to the worker and waits for the result.
func (w *Worker) submit(ctx context.Context, op Operation, payload interface{}, wantResponse bool) (interface{}, error) {
	req := Request{Ctx: ctx, Op: op, Payload: payload, Result: make(chan error, 1)}
	if wantResponse {
		req.Response = make(chan interface{}, 1)
	}

	select {
	case w.inbox <- req:
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.ErrTransient, "session worker busy", ctx.Err())
	case <-w.done:
		return nil, apperrors.Internal("session worker stopped", fmt.Errorf("session %s", w.sessionID))
	}

	// The worker always answers once it has taken the request.
	if err := <-req.Result; err != nil {
		return nil, err
	}
	if !wantResponse {
		return nil, nil
	}
	return <-req.Response, nil
}

// Public API for other components

func (w *Worker) GetSession(ctx context.Context) (*session.Session, error) {
	val, err := w.submit(ctx, OpGetSession, nil, true)
	if err != nil {
		return nil, err
	}
	return val.(*session.Session), nil
}

func (w *Worker) BindRepository(ctx context.Context, repo session.RepoBinding) error {
	_, err := w.submit(ctx, OpBindRepository, BindRepositoryPayload{Repository: repo}, false)
	return err
}

func (w *Worker) AddParticipant(ctx context.Context, p *session.Participant) error {
	_, err := w.submit(ctx, OpAddParticipant, ParticipantPayload{Participant: p}, false)
	return err
}

func (w *Worker) GetParticipant(ctx context.Context, participantID string) (*session.Participant, error) {
	val, err := w.submit(ctx, OpGetParticipant, GetParticipantPayload{ParticipantID: participantID}, true)
	if err != nil {
		return nil, err
	}
	return val.(*session.Participant), nil
}

func (w *Worker) ListParticipants(ctx context.Context) ([]session.Participant, error) {
	val, err := w.submit(ctx, OpListParticipants, nil, true)
	if err != nil {
		return nil, err
	}
	return val.([]session.Participant), nil
}

func (w *Worker) UpdateParticipantTokens(ctx context.Context, p *session.Participant) error {
	_, err := w.submit(ctx, OpUpdateParticipantTokens, ParticipantPayload{Participant: p}, false)
	return err
}

func (w *Worker) EnqueueMessage(ctx context.Context, m *session.Message) error {
	_, err := w.submit(ctx, OpEnqueueMessage, EnqueueMessagePayload{Message: m}, false)
	return err
}

func (w *Worker) StartNextMessage(ctx context.Context) (*session.Message, error) {
	val, err := w.submit(ctx, OpStartNextMessage, nil, true)
	if err != nil {
		return nil, err
	}
	return val.(*session.Message), nil
}

func (w *Worker) FinishMessage(ctx context.Context, messageID string, status session.MessageStatus) (*session.Message, error) {
	val, err := w.submit(ctx, OpFinishMessage, FinishMessagePayload{MessageID: messageID, Status: status}, true)
	if err != nil {
		return nil, err
	}
	return val.(*session.Message), nil
}

// ProcessingMessage returns the message currently processing, or nil.
func (w *Worker) ProcessingMessage(ctx context.Context) (*session.Message, error) {
	val, err := w.submit(ctx, OpGetProcessingMessage, nil, true)
	if err != nil {
		return nil, err
	}
	return val.(*session.Message), nil
}

func (w *Worker) ListMessages(ctx context.Context) ([]session.Message, error) {
	val, err := w.submit(ctx, OpListMessages, nil, true)
	if err != nil {
		return nil, err
	}
	return val.([]session.Message), nil
}

func (w *Worker) AppendArtifact(ctx context.Context, a *session.Artifact) error {
	_, err := w.submit(ctx, OpAppendArtifact, ArtifactPayload{Artifact: a}, false)
	return err
}

func (w *Worker) ListArtifacts(ctx context.Context) ([]session.Artifact, error) {
	val, err := w.submit(ctx, OpListArtifacts, nil, true)
	if err != nil {
		return nil, err
	}
	return val.([]session.Artifact), nil
}

func (w *Worker) HasArtifact(ctx context.Context, kind session.ArtifactKind) (bool, error) {
	val, err := w.submit(ctx, OpHasArtifact, HasArtifactPayload{Kind: kind}, true)
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}

func (w *Worker) IsRunning() bool {
	return w.running.Load()
}
