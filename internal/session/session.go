package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// RepoBinding is the repository a session publishes to.
type RepoBinding struct {
	Provider       string `json:"provider"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	FullName       string `json:"full_name,omitempty"`
	DefaultBranch  string `json:"default_branch,omitempty"`
	IsPrivate      bool   `json:"is_private"`
	ProviderRepoID string `json:"provider_repo_id,omitempty"`
}

// Bound reports whether the provider has confirmed the repository.
func (r RepoBinding) Bound() bool {
	return strings.TrimSpace(r.ProviderRepoID) != ""
}

// CanonicalID keys repository-scoped secrets, e.g. "github:acme/widgets".
func (r RepoBinding) CanonicalID() string {
	return strings.ToLower(fmt.Sprintf("%s:%s/%s", r.Provider, r.Owner, r.Name))
}

type Session struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Status     Status      `json:"status"`
	Repository RepoBinding `json:"repository"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Participant is a user attached to a session. Token fields are plaintext in
// memory and sealed by the store.
type Participant struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	ProviderLogin  string    `json:"provider_login,omitempty"`
	ProviderUserID string    `json:"provider_user_id,omitempty"`
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitzero"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewID returns a sortable unique identifier.
func NewID() string {
	return ulid.Make().String()
}
