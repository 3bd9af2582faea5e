// Package credential resolves a usable OAuth access token from scoped secrets,
// refreshing and persisting rotated credentials when the cached one is about
// to expire.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"
)

// Secret keys holding OAuth material in either scope.
const (
	KeyAccessToken  = "OAUTH_ACCESS_TOKEN"
	KeyRefreshToken = "OAUTH_REFRESH_TOKEN"
	KeyExpiresAt    = "OAUTH_EXPIRES_AT" // unix milliseconds
	KeyAccountID    = "OAUTH_ACCOUNT_ID"
)

var (
	ErrCredentialNotConfigured = apperrors.New(apperrors.ErrUnauthenticated, "credential not configured")
	ErrRefreshUnauthorized     = apperrors.New(apperrors.ErrUnauthenticated, "refresh token rejected")
	ErrUpstreamRefresh         = apperrors.New(apperrors.ErrUpstream, "credential refresh failed")

	// ErrRefreshRejected is returned by a Refresher when the issuer explicitly
	// rejects the refresh token.
	ErrRefreshRejected = errors.New("refresh token rejected by issuer")
)

// RefreshResult is what the token endpoint handed back.
type RefreshResult struct {
	AccessToken string
	// RefreshToken is empty when the issuer did not rotate it.
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    string
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// Token is a resolved access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	ExpiresIn   time.Duration
	AccountID   string
	Scope       secrets.Scope
	Refreshed   bool
}

type stateKind int

const (
	stateNotConfigured stateKind = iota
	stateCached
	stateRefreshNeeded
)

// state is derived fresh from secret values on every read.
type state struct {
	kind         stateKind
	scope        secrets.Scope
	store        secrets.Store
	accessToken  string
	expiresAt    time.Time
	accountID    string
	refreshToken string
}

func (s state) lockKey(repoID string) string {
	if s.scope == secrets.ScopeRepository {
		return "repository:" + repoID
	}
	return "global"
}

func classify(values map[string]string, scope secrets.Scope, store secrets.Store, now time.Time, buffer time.Duration) state {
	st := state{
		kind:         stateNotConfigured,
		scope:        scope,
		store:        store,
		accessToken:  strings.TrimSpace(values[KeyAccessToken]),
		accountID:    values[KeyAccountID],
		refreshToken: strings.TrimSpace(values[KeyRefreshToken]),
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(values[KeyExpiresAt]), 10, 64); err == nil {
		st.expiresAt = time.UnixMilli(ms)
	}

	switch {
	case st.accessToken != "" && !st.expiresAt.IsZero() && st.expiresAt.Sub(now) > buffer:
		st.kind = stateCached
	case st.refreshToken != "":
		st.kind = stateRefreshNeeded
	}
	return st
}

func (s state) token(now time.Time, refreshed bool) *Token {
	return &Token{
		AccessToken: s.accessToken,
		ExpiresAt:   s.expiresAt,
		ExpiresIn:   s.expiresAt.Sub(now),
		AccountID:   s.accountID,
		Scope:       s.scope,
		Refreshed:   refreshed,
	}
}

func unauthorized(cause error) error {
	return fmt.Errorf("%w: %w", ErrRefreshUnauthorized, cause)
}

func upstream(cause error) error {
	return fmt.Errorf("%w: %w", ErrUpstreamRefresh, cause)
}
