package credential

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/harunnryd/inspect/internal/concurrency"
	"github.com/harunnryd/inspect/internal/config"
	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"
)

// Principal identifies whose credential is being resolved.
type Principal struct {
	SessionID     string
	ParticipantID string
	// RepositoryID is the canonical repository id; empty means global scope only.
	RepositoryID string
}

type Options struct {
	RefreshBuffer  time.Duration
	RaceDelay      time.Duration
	RefreshTimeout time.Duration
}

// OptionsFrom converts the auth section of the config file.
func OptionsFrom(cfg config.AuthConfig) (Options, error) {
	buffer, err := config.DurationOrDefault(cfg.RefreshBuffer, config.DefaultAuthRefreshBuffer)
	if err != nil {
		return Options{}, err
	}
	delay, err := config.DurationOrDefault(cfg.RaceDelay, config.DefaultAuthRaceDelay)
	if err != nil {
		return Options{}, err
	}
	timeout, err := config.DurationOrDefault(cfg.RefreshTimeout, config.DefaultAuthRefreshTimeout)
	if err != nil {
		return Options{}, err
	}
	return Options{RefreshBuffer: buffer, RaceDelay: delay, RefreshTimeout: timeout}, nil
}

// Service resolves access tokens. Refreshes of the same scope are serialized
// inside this process; races with other processes are detected by re-reading
// the refresh token after an unauthorized response.
type Service struct {
	secrets   secrets.Provider
	refresher Refresher
	opts      Options
	locks     *concurrency.KeyedMutex
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewService(provider secrets.Provider, refresher Refresher, opts Options) *Service {
	if opts.RefreshBuffer <= 0 {
		opts.RefreshBuffer = config.MustDuration(config.DefaultAuthRefreshBuffer)
	}
	if opts.RaceDelay <= 0 {
		opts.RaceDelay = config.MustDuration(config.DefaultAuthRaceDelay)
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = config.MustDuration(config.DefaultAuthRefreshTimeout)
	}
	return &Service{
		secrets:   provider,
		refresher: refresher,
		opts:      opts,
		locks:     concurrency.NewKeyedMutex(),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve returns a valid access token for p.
func (s *Service) Resolve(ctx context.Context, p Principal) (*Token, error) {
	log := slog.With("session_id", p.SessionID, "participant_id", p.ParticipantID, "repository", p.RepositoryID)

	st, err := s.derive(ctx, p.RepositoryID)
	if err != nil {
		return nil, err
	}
	switch st.kind {
	case stateNotConfigured:
		return nil, ErrCredentialNotConfigured
	case stateCached:
		log.Debug("Using cached access token", "scope", st.scope)
		return st.token(s.now(), false), nil
	}

	unlock, err := s.locks.Lock(ctx, st.lockKey(p.RepositoryID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransient, "waiting for credential refresh", err)
	}
	defer unlock()

	// Another caller in this process may have refreshed while we waited.
	st, err = s.derive(ctx, p.RepositoryID)
	if err != nil {
		return nil, err
	}
	switch st.kind {
	case stateNotConfigured:
		return nil, ErrCredentialNotConfigured
	case stateCached:
		return st.token(s.now(), false), nil
	}

	return s.refresh(ctx, log, p.RepositoryID, st, true)
}

// derive reads repository scope first and falls back to global scope when the
// repository holds neither a usable token nor a refresh token.
func (s *Service) derive(ctx context.Context, repoID string) (state, error) {
	now := s.now()
	if repoID != "" {
		store := s.secrets.Repository(repoID)
		values, err := store.GetDecryptedSecrets(ctx)
		if err != nil {
			return state{}, apperrors.Internal("failed to read repository secrets", err)
		}
		if st := classify(values, secrets.ScopeRepository, store, now, s.opts.RefreshBuffer); st.kind != stateNotConfigured {
			return st, nil
		}
	}

	store := s.secrets.Global()
	values, err := store.GetDecryptedSecrets(ctx)
	if err != nil {
		return state{}, apperrors.Internal("failed to read global secrets", err)
	}
	return classify(values, secrets.ScopeGlobal, store, now, s.opts.RefreshBuffer), nil
}

func (s *Service) refresh(ctx context.Context, log *slog.Logger, repoID string, st state, retry bool) (*Token, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
	res, err := s.refresher.Refresh(callCtx, st.refreshToken)
	cancel()

	if err == nil {
		return s.persist(ctx, log, st, res), nil
	}

	if !errors.Is(err, ErrRefreshRejected) {
		log.Error("Credential refresh failed", "scope", st.scope, "error", err)
		return nil, upstream(err)
	}

	log.Warn("Refresh token rejected, checking for concurrent rotation", "scope", st.scope, "delay", s.opts.RaceDelay)
	if err := s.sleep(ctx, s.opts.RaceDelay); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransient, "credential refresh interrupted", err)
	}

	again, derr := s.derive(ctx, repoID)
	if derr != nil {
		return nil, derr
	}
	switch {
	case again.kind == stateCached:
		log.Info("Concurrent rotation detected, using rotated token", "scope", again.scope)
		return again.token(s.now(), false), nil
	case again.kind == stateRefreshNeeded && again.refreshToken != st.refreshToken && retry:
		log.Info("Refresh token rotated concurrently, retrying once", "scope", again.scope)
		return s.refresh(ctx, log, repoID, again, false)
	default:
		return nil, unauthorized(err)
	}
}

// persist writes the refreshed credential back to the scope it came from. A
// write failure is logged; the caller still gets the new token.
func (s *Service) persist(ctx context.Context, log *slog.Logger, st state, res *RefreshResult) *Token {
	now := s.now()
	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(time.Hour)
	}

	values := map[string]string{
		KeyAccessToken: res.AccessToken,
		KeyExpiresAt:   strconv.FormatInt(expiresAt.UnixMilli(), 10),
	}
	if res.RefreshToken != "" && res.RefreshToken != st.refreshToken {
		values[KeyRefreshToken] = res.RefreshToken
	}
	accountID := st.accountID
	if res.AccountID != "" {
		values[KeyAccountID] = res.AccountID
		accountID = res.AccountID
	}

	if err := st.store.SetSecrets(ctx, values); err != nil {
		log.Error("Failed to persist refreshed credential", "scope", st.scope, "error", err)
	} else {
		log.Info("Credential refreshed", "scope", st.scope, "rotated", values[KeyRefreshToken] != "")
	}

	return &Token{
		AccessToken: res.AccessToken,
		ExpiresAt:   expiresAt,
		ExpiresIn:   expiresAt.Sub(now),
		AccountID:   accountID,
		Scope:       st.scope,
		Refreshed:   true,
	}
}
