package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"
	"github.com/harunnryd/inspect/internal/session"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the SQLite access layer. Participant tokens are sealed with
// cipher before they are written.
type Repository struct {
	db     *sql.DB
	cipher *secrets.Cipher
	mapper apperrors.ErrorMapper
	now    func() time.Time
}

func NewRepository(db *sql.DB, cipher *secrets.Cipher) *Repository {
	return &Repository{
		db:     db,
		cipher: cipher,
		mapper: apperrors.NewDefaultErrorMapper(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Internal("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return r.mapErr("failed to commit transaction", err)
	}
	return nil
}

func (r *Repository) mapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return apperrors.Wrap(apperrors.ErrConflict, msg, err)
	}
	mapped := r.mapper.MapError(err)
	if apperrors.Category(mapped) == "Internal" {
		return apperrors.Internal(msg, err)
	}
	return mapped
}

// --- Sessions ---

const sessionColumns = `id, title, status, provider, owner, name, full_name, default_branch, is_private, provider_repo_id, created_at, updated_at`

func (r *Repository) CreateSession(ctx context.Context, s *session.Session) error {
	now := r.now()
	if s.ID == "" {
		s.ID = session.NewID()
	}
	if s.Status == "" {
		s.Status = session.StatusActive
	}
	s.CreatedAt, s.UpdatedAt = now, now
	repo := s.Repository

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Title, string(s.Status), repo.Provider, repo.Owner, repo.Name,
		nullString(repo.FullName), nullString(repo.DefaultBranch), repo.IsPrivate, nullString(repo.ProviderRepoID),
		millis(now), millis(now),
	)
	return r.mapErr("failed to create session", err)
}

func scanSession(row interface{ Scan(...any) error }) (*session.Session, error) {
	var (
		s                                    session.Session
		status                               string
		fullName, defaultBranch, providerRID sql.NullString
		createdAt, updatedAt                 int64
	)
	err := row.Scan(&s.ID, &s.Title, &status, &s.Repository.Provider, &s.Repository.Owner, &s.Repository.Name,
		&fullName, &defaultBranch, &s.Repository.IsPrivate, &providerRID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = session.Status(status)
	s.Repository.FullName = fullName.String
	s.Repository.DefaultBranch = defaultBranch.String
	s.Repository.ProviderRepoID = providerRID.String
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (*session.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(fmt.Sprintf("session %s not found", id))
	}
	if err != nil {
		return nil, r.mapErr("failed to get session", err)
	}
	return s, nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, r.mapErr("failed to list sessions", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, r.mapErr("failed to scan session", err)
		}
		out = append(out, *s)
	}
	return out, r.mapErr("failed to list sessions", rows.Err())
}

// BindRepository records the provider's canonical view of the session repository.
func (r *Repository) BindRepository(ctx context.Context, sessionID string, repo session.RepoBinding) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET provider = ?, owner = ?, name = ?, full_name = ?, default_branch = ?, is_private = ?, provider_repo_id = ?, updated_at = ?
		 WHERE id = ?`,
		repo.Provider, repo.Owner, repo.Name, nullString(repo.FullName), nullString(repo.DefaultBranch),
		repo.IsPrivate, nullString(repo.ProviderRepoID), millis(r.now()), sessionID,
	)
	if err != nil {
		return r.mapErr("failed to bind repository", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound(fmt.Sprintf("session %s not found", sessionID))
	}
	return nil
}

// --- Participants ---

const participantColumns = `id, session_id, user_id, provider_login, provider_user_id, access_token, refresh_token, token_expires_at, created_at`

func (r *Repository) AddParticipant(ctx context.Context, p *session.Participant) error {
	if p.ID == "" {
		p.ID = session.NewID()
	}
	p.CreatedAt = r.now()

	access, refresh, err := r.sealTokens(p)
	if err != nil {
		return err
	}
	var expires sql.NullInt64
	if !p.TokenExpiresAt.IsZero() {
		expires = nullMillis(&p.TokenExpiresAt)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO participants (`+participantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.UserID, nullString(p.ProviderLogin), nullString(p.ProviderUserID),
		access, refresh, expires, millis(p.CreatedAt),
	)
	return r.mapErr("failed to add participant", err)
}

func (r *Repository) sealTokens(p *session.Participant) (sql.NullString, sql.NullString, error) {
	access, err := r.cipher.Seal(p.AccessToken)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, apperrors.Internal("failed to seal access token", err)
	}
	refresh, err := r.cipher.Seal(p.RefreshToken)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, apperrors.Internal("failed to seal refresh token", err)
	}
	return nullString(access), nullString(refresh), nil
}

func (r *Repository) scanParticipant(row interface{ Scan(...any) error }) (*session.Participant, error) {
	var (
		p                     session.Participant
		login, providerUserID sql.NullString
		access, refresh       sql.NullString
		expiresAt             sql.NullInt64
		createdAt             int64
	)
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &login, &providerUserID, &access, &refresh, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	p.ProviderLogin = login.String
	p.ProviderUserID = providerUserID.String
	if t := fromNullMillis(expiresAt); t != nil {
		p.TokenExpiresAt = *t
	}
	p.CreatedAt = fromMillis(createdAt)

	var err error
	if p.AccessToken, err = r.cipher.Open(access.String); err != nil {
		return nil, apperrors.Internal("failed to open access token", err)
	}
	if p.RefreshToken, err = r.cipher.Open(refresh.String); err != nil {
		return nil, apperrors.Internal("failed to open refresh token", err)
	}
	return &p, nil
}

// GetParticipant loads participantID within sessionID.
func (r *Repository) GetParticipant(ctx context.Context, sessionID, participantID string) (*session.Participant, error) {
	p, err := r.scanParticipant(r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? AND id = ?`, sessionID, participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(fmt.Sprintf("participant %s not found", participantID))
	}
	if err != nil {
		return nil, r.mapErr("failed to get participant", err)
	}
	return p, nil
}

func (r *Repository) ListParticipants(ctx context.Context, sessionID string) ([]session.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, r.mapErr("failed to list participants", err)
	}
	defer rows.Close()

	var out []session.Participant
	for rows.Next() {
		p, err := r.scanParticipant(rows)
		if err != nil {
			return nil, r.mapErr("failed to scan participant", err)
		}
		out = append(out, *p)
	}
	return out, r.mapErr("failed to list participants", rows.Err())
}

// UpdateParticipantTokens overwrites the participant's OAuth fields.
func (r *Repository) UpdateParticipantTokens(ctx context.Context, p *session.Participant) error {
	access, refresh, err := r.sealTokens(p)
	if err != nil {
		return err
	}
	var expires sql.NullInt64
	if !p.TokenExpiresAt.IsZero() {
		expires = nullMillis(&p.TokenExpiresAt)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE participants SET access_token = ?, refresh_token = ?, token_expires_at = ? WHERE session_id = ? AND id = ?`,
		access, refresh, expires, p.SessionID, p.ID)
	if err != nil {
		return r.mapErr("failed to update participant tokens", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound(fmt.Sprintf("participant %s not found", p.ID))
	}
	return nil
}

// --- Messages ---

const messageColumns = `id, session_id, author_id, content, source, status, created_at, started_at, completed_at`

func scanMessage(row interface{ Scan(...any) error }) (*session.Message, error) {
	var (
		m                      session.Message
		source                 sql.NullString
		status                 string
		createdAt              int64
		startedAt, completedAt sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.AuthorID, &m.Content, &source, &status, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	st, err := session.ParseMessageStatus(status)
	if err != nil {
		return nil, err
	}
	m.Status = st
	m.Source = source.String
	m.CreatedAt = fromMillis(createdAt)
	m.StartedAt = fromNullMillis(startedAt)
	m.CompletedAt = fromNullMillis(completedAt)
	return &m, nil
}

func (r *Repository) InsertMessage(ctx context.Context, m *session.Message) error {
	if m.ID == "" {
		m.ID = session.NewID()
	}
	if m.Status == "" {
		m.Status = session.MessageQueued
	}
	m.CreatedAt = r.now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.AuthorID, m.Content, nullString(m.Source), string(m.Status),
		millis(m.CreatedAt), nullMillis(m.StartedAt), nullMillis(m.CompletedAt))
	return r.mapErr("failed to insert message", err)
}

func (r *Repository) getMessage(ctx context.Context, q querier, sessionID, messageID string) (*session.Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? AND id = ?`, sessionID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(fmt.Sprintf("message %s not found", messageID))
	}
	if err != nil {
		return nil, r.mapErr("failed to get message", err)
	}
	return m, nil
}

func (r *Repository) GetMessage(ctx context.Context, sessionID, messageID string) (*session.Message, error) {
	return r.getMessage(ctx, r.db, sessionID, messageID)
}

func (r *Repository) firstWithStatus(ctx context.Context, q querier, sessionID string, status session.MessageStatus) (*session.Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? AND status = ? ORDER BY created_at, id LIMIT 1`,
		sessionID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.mapErr("failed to query messages", err)
	}
	return m, nil
}

// ProcessingMessage returns the session's processing message, or nil.
func (r *Repository) ProcessingMessage(ctx context.Context, sessionID string) (*session.Message, error) {
	return r.firstWithStatus(ctx, r.db, sessionID, session.MessageProcessing)
}

// StartNextMessage promotes the oldest queued message to processing.
func (r *Repository) StartNextMessage(ctx context.Context, sessionID string) (*session.Message, error) {
	var started *session.Message
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		current, err := r.firstWithStatus(ctx, tx, sessionID, session.MessageProcessing)
		if err != nil {
			return err
		}
		if current != nil {
			return apperrors.Conflict(fmt.Sprintf("message %s is already processing", current.ID))
		}

		next, err := r.firstWithStatus(ctx, tx, sessionID, session.MessageQueued)
		if err != nil {
			return err
		}
		if next == nil {
			return apperrors.NotFound("no queued message")
		}

		if err := r.transition(ctx, tx, next, session.MessageProcessing); err != nil {
			return err
		}
		started = next
		return nil
	})
	return started, err
}

// FinishMessage moves a processing message to done or failed.
func (r *Repository) FinishMessage(ctx context.Context, sessionID, messageID string, status session.MessageStatus) (*session.Message, error) {
	var finished *session.Message
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		m, err := r.getMessage(ctx, tx, sessionID, messageID)
		if err != nil {
			return err
		}
		if err := r.transition(ctx, tx, m, status); err != nil {
			return err
		}
		finished = m
		return nil
	})
	return finished, err
}

func (r *Repository) transition(ctx context.Context, tx *sql.Tx, m *session.Message, next session.MessageStatus) error {
	prev := m.Status
	if err := m.Transition(next, r.now()); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET status = ?, started_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(m.Status), nullMillis(m.StartedAt), nullMillis(m.CompletedAt), m.ID, string(prev))
	if err != nil {
		return r.mapErr("failed to update message status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Conflict(fmt.Sprintf("message %s changed concurrently", m.ID))
	}
	return nil
}

func (r *Repository) ListMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, r.mapErr("failed to list messages", err)
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, r.mapErr("failed to scan message", err)
		}
		out = append(out, *m)
	}
	return out, r.mapErr("failed to list messages", rows.Err())
}

// --- Artifacts ---

// InsertArtifact appends an artifact. A second pr artifact for the same session
// fails with a Conflict.
func (r *Repository) InsertArtifact(ctx context.Context, a *session.Artifact) error {
	if a.ID == "" {
		a.ID = session.NewID()
	}
	a.CreatedAt = r.now()

	var metadata sql.NullString
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return apperrors.Internal("failed to encode artifact metadata", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, session_id, kind, url, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, string(a.Kind), a.URL, metadata, millis(a.CreatedAt))
	return r.mapErr("failed to insert artifact", err)
}

func (r *Repository) ListArtifacts(ctx context.Context, sessionID string) ([]session.Artifact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, kind, url, metadata, created_at FROM artifacts WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, r.mapErr("failed to list artifacts", err)
	}
	defer rows.Close()

	var out []session.Artifact
	for rows.Next() {
		var (
			a         session.Artifact
			kind      string
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &kind, &a.URL, &metadata, &createdAt); err != nil {
			return nil, r.mapErr("failed to scan artifact", err)
		}
		if a.Kind, err = session.ParseArtifactKind(kind); err != nil {
			return nil, apperrors.Internal("corrupt artifact row", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				return nil, apperrors.Internal("corrupt artifact metadata", err)
			}
		}
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, r.mapErr("failed to list artifacts", rows.Err())
}

// HasArtifact reports whether the session has an artifact of kind.
func (r *Repository) HasArtifact(ctx context.Context, sessionID string, kind session.ArtifactKind) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE session_id = ? AND kind = ?`, sessionID, string(kind)).Scan(&n)
	if err != nil {
		return false, r.mapErr("failed to count artifacts", err)
	}
	return n > 0, nil
}
