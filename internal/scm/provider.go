// Package scm describes what the publisher needs from a source-control host.
// Each host has its own implementation in a subpackage.
package scm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/session"
)

var (
	// ErrInsufficientPermissions means the credential may push but not open a pull request.
	ErrInsufficientPermissions = errors.New("insufficient permissions to create pull request")

	ErrRepositoryNotFound = apperrors.New(apperrors.ErrNotFound, "repository not found")
)

type AuthKind string

const (
	AuthOAuth AuthKind = "oauth" // participant's user token
	AuthApp   AuthKind = "app"   // app installation token
	AuthToken AuthKind = "token" // static token from config
)

// PushAuth is the credential used for git push.
type PushAuth struct {
	Kind  AuthKind
	Token string
}

type RepoIdentity struct {
	Owner string
	Name  string
}

func (r RepoIdentity) String() string {
	return r.Owner + "/" + r.Name
}

type Repository struct {
	Owner          string
	Name           string
	FullName       string
	DefaultBranch  string
	IsPrivate      bool
	ProviderRepoID string
}

type PullRequestSpec struct {
	Repository RepoIdentity
	// ProviderRepoID is used by hosts that address repositories by id.
	ProviderRepoID string
	Title          string
	Body           string
	Head           string
	Base           string
	// Token is the participant's access token; the pull request is opened as them.
	Token string
}

type PullRequest struct {
	URL    string
	Number int
}

type PushTarget struct {
	Repository RepoIdentity
	Branch     string
	Auth       PushAuth
	Force      bool
}

type PushSpec struct {
	RemoteURL         string
	RedactedRemoteURL string
	Refspec           string
	TargetBranch      string
	Force             bool
}

// Provider is implemented once per hosting platform.
type Provider interface {
	Name() string
	ResolvePushCredential(ctx context.Context, participant *session.Participant) (PushAuth, error)
	GetRepository(ctx context.Context, repo RepoIdentity) (*Repository, error)
	CreatePullRequest(ctx context.Context, spec PullRequestSpec) (*PullRequest, error)
	BuildManualPullRequestURL(spec PullRequestSpec) string
	BuildGitPushSpec(target PushTarget) PushSpec
}

// Binding converts a provider repository into the session's binding.
func (r *Repository) Binding(provider string) session.RepoBinding {
	return session.RepoBinding{
		Provider:       provider,
		Owner:          r.Owner,
		Name:           r.Name,
		FullName:       r.FullName,
		DefaultBranch:  r.DefaultBranch,
		IsPrivate:      r.IsPrivate,
		ProviderRepoID: r.ProviderRepoID,
	}
}

// HTTPSPushSpec builds a push spec for an https remote authenticated as user:token.
func HTTPSPushSpec(webURL, user string, target PushTarget) PushSpec {
	base, err := url.Parse(strings.TrimRight(webURL, "/"))
	if err != nil || base.Host == "" {
		base = &url.URL{Scheme: "https", Host: strings.TrimPrefix(strings.TrimPrefix(webURL, "https://"), "http://")}
	}

	remote := *base
	remote.Path = strings.TrimRight(base.Path, "/") + "/" + target.Repository.Owner + "/" + target.Repository.Name + ".git"
	redacted := remote
	if target.Auth.Token != "" {
		remote.User = url.UserPassword(user, target.Auth.Token)
		redacted.User = url.UserPassword(user, "***")
	}

	return PushSpec{
		RemoteURL:         remote.String(),
		RedactedRemoteURL: redactedString(&redacted),
		Refspec:           "HEAD:refs/heads/" + target.Branch,
		TargetBranch:      target.Branch,
		Force:             target.Force,
	}
}

func redactedString(u *url.URL) string {
	// url.Userinfo would percent-encode the asterisks.
	if u.User == nil {
		return u.String()
	}
	clean := *u
	clean.User = nil
	s := clean.String()
	prefix := clean.Scheme + "://"
	return prefix + u.User.Username() + ":***@" + strings.TrimPrefix(s, prefix)
}

// Redact replaces every occurrence of secret in s.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

// Registry selects a provider by name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

func NewRegistry(defaultName string, providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider), fallback: defaultName}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.providers[strings.ToLower(p.Name())] = p
}

// Get returns the provider for name, or the default provider when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = strings.ToLower(r.fallback)
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported source control provider %q", name))
	}
	return p, nil
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}
