// Package github implements scm.Provider for GitHub and GitHub Enterprise.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/scm"
	"github.com/harunnryd/inspect/internal/session"

	gh "github.com/google/go-github/v66/github"
)

const Name = "github"

type Config struct {
	APIURL string
	WebURL string
	// App credentials; when set, pushes and repository lookups use an
	// installation token instead of the participant's token.
	AppID             string
	AppPrivateKey     string
	AppInstallationID string
	HTTPClient        *http.Client
}

type Provider struct {
	apiURL     *url.URL
	webURL     string
	httpClient *http.Client
	app        *appTokenSource
}

var _ scm.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		apiURL = "https://api.github.com/"
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api url: %w", err)
	}

	webURL := strings.TrimRight(strings.TrimSpace(cfg.WebURL), "/")
	if webURL == "" {
		webURL = "https://github.com"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	p := &Provider{apiURL: u, webURL: webURL, httpClient: httpClient}

	if cfg.AppID != "" || cfg.AppPrivateKey != "" || cfg.AppInstallationID != "" {
		p.app, err = newAppTokenSource(cfg.AppID, cfg.AppPrivateKey, cfg.AppInstallationID, p.client)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) Name() string {
	return Name
}

// client returns a REST client authenticated with token, or anonymous when token is empty.
func (p *Provider) client(token string) *gh.Client {
	c := gh.NewClient(p.httpClient)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	base := *p.apiURL
	c.BaseURL = &base
	return c
}

// ResolvePushCredential prefers the app installation token and falls back to
// the participant's OAuth token.
func (p *Provider) ResolvePushCredential(ctx context.Context, participant *session.Participant) (scm.PushAuth, error) {
	if p.app != nil {
		token, err := p.app.Token(ctx)
		if err != nil {
			return scm.PushAuth{}, apperrors.Upstream("failed to issue GitHub App installation token", err)
		}
		return scm.PushAuth{Kind: scm.AuthApp, Token: token}, nil
	}
	if participant != nil && participant.AccessToken != "" {
		return scm.PushAuth{Kind: scm.AuthOAuth, Token: participant.AccessToken}, nil
	}
	return scm.PushAuth{}, apperrors.Unauthenticated("no GitHub credential available for push")
}

func (p *Provider) GetRepository(ctx context.Context, id scm.RepoIdentity) (*scm.Repository, error) {
	token := ""
	if p.app != nil {
		var err error
		if token, err = p.app.Token(ctx); err != nil {
			return nil, apperrors.Upstream("failed to issue GitHub App installation token", err)
		}
	}

	repo, _, err := p.client(token).Repositories.Get(ctx, id.Owner, id.Name)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", scm.ErrRepositoryNotFound, id)
		}
		return nil, apperrors.Upstream("failed to look up repository "+id.String(), err)
	}

	return &scm.Repository{
		Owner:          repo.GetOwner().GetLogin(),
		Name:           repo.GetName(),
		FullName:       repo.GetFullName(),
		DefaultBranch:  repo.GetDefaultBranch(),
		IsPrivate:      repo.GetPrivate(),
		ProviderRepoID: strconv.FormatInt(repo.GetID(), 10),
	}, nil
}

func (p *Provider) CreatePullRequest(ctx context.Context, spec scm.PullRequestSpec) (*scm.PullRequest, error) {
	pr, _, err := p.client(spec.Token).PullRequests.Create(ctx, spec.Repository.Owner, spec.Repository.Name, &gh.NewPullRequest{
		Title: gh.String(spec.Title),
		Head:  gh.String(spec.Head),
		Base:  gh.String(spec.Base),
		Body:  gh.String(spec.Body),
	})
	if err != nil {
		switch statusOf(err) {
		case http.StatusForbidden:
			slog.Info("GitHub refused pull request creation", "repository", spec.Repository.String(), "head", spec.Head)
			return nil, fmt.Errorf("%w: %v", scm.ErrInsufficientPermissions, err)
		}
		// A rejected token at this point is the provider's failure, not the caller's.
		return nil, apperrors.Upstream("failed to create pull request", err)
	}
	return &scm.PullRequest{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
}

// BuildManualPullRequestURL links to GitHub's prefilled pull request form.
func (p *Provider) BuildManualPullRequestURL(spec scm.PullRequestSpec) string {
	q := url.Values{}
	q.Set("expand", "1")
	if spec.Title != "" {
		q.Set("title", spec.Title)
	}
	if spec.Body != "" {
		q.Set("body", spec.Body)
	}
	return fmt.Sprintf("%s/%s/%s/pull/new/%s...%s?%s",
		p.webURL, url.PathEscape(spec.Repository.Owner), url.PathEscape(spec.Repository.Name),
		escapeRef(spec.Base), escapeRef(spec.Head), q.Encode())
}

func (p *Provider) BuildGitPushSpec(target scm.PushTarget) scm.PushSpec {
	return scm.HTTPSPushSpec(p.webURL, "x-access-token", target)
}

func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func statusOf(err error) int {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return 0
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return 0
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}
