// Package gitlab implements scm.Provider against the GitLab REST v4 API.
package gitlab

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

	gl "gitlab.com/gitlab-org/api/client-go"
)

const Name = "gitlab"

type Config struct {
	BaseURL string
	// Token is a project or group access token used for lookups and as the
	// push credential of last resort.
	Token      string
	HTTPClient *http.Client
}

type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ scm.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://gitlab.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Provider{baseURL: base, token: cfg.Token, httpClient: client}
}

func (p *Provider) Name() string {
	return Name
}

// client builds an API client for one call. Participant tokens are OAuth
// bearer tokens; the configured token is sent as a private token.
// Retries are left to the caller's deadline.
func (p *Provider) client(token string, oauth bool) (*gl.Client, error) {
	opts := []gl.ClientOptionFunc{
		gl.WithBaseURL(p.baseURL),
		gl.WithHTTPClient(p.httpClient),
		gl.WithCustomRetryMax(0),
	}
	if oauth {
		return gl.NewOAuthClient(token, opts...)
	}
	return gl.NewClient(token, opts...)
}

func statusOf(resp *gl.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var respErr *gl.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}

func (p *Provider) ResolvePushCredential(ctx context.Context, participant *session.Participant) (scm.PushAuth, error) {
	if participant != nil && participant.AccessToken != "" {
		return scm.PushAuth{Kind: scm.AuthOAuth, Token: participant.AccessToken}, nil
	}
	if p.token != "" {
		return scm.PushAuth{Kind: scm.AuthToken, Token: p.token}, nil
	}
	return scm.PushAuth{}, apperrors.Unauthenticated("no GitLab credential available for push")
}

func (p *Provider) GetRepository(ctx context.Context, id scm.RepoIdentity) (*scm.Repository, error) {
	c, err := p.client(p.token, false)
	if err != nil {
		return nil, apperrors.Internal("failed to build GitLab client", err)
	}
	proj, resp, err := c.Projects.GetProject(id.Owner+"/"+id.Name, nil, gl.WithContext(ctx))
	if err != nil {
		if statusOf(resp, err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", scm.ErrRepositoryNotFound, id)
		}
		return nil, apperrors.Upstream("failed to look up project "+id.String(), err)
	}

	owner := id.Owner
	if proj.Namespace != nil && proj.Namespace.FullPath != "" {
		owner = proj.Namespace.FullPath
	}
	return &scm.Repository{
		Owner:          owner,
		Name:           proj.Path,
		FullName:       proj.PathWithNamespace,
		DefaultBranch:  proj.DefaultBranch,
		IsPrivate:      proj.Visibility != gl.PublicVisibility,
		ProviderRepoID: strconv.Itoa(proj.ID),
	}, nil
}

func (p *Provider) CreatePullRequest(ctx context.Context, spec scm.PullRequestSpec) (*scm.PullRequest, error) {
	c, err := p.client(spec.Token, true)
	if err != nil {
		return nil, apperrors.Internal("failed to build GitLab client", err)
	}
	pid := spec.Repository.Owner + "/" + spec.Repository.Name
	if spec.ProviderRepoID != "" {
		pid = spec.ProviderRepoID
	}

	mr, resp, err := c.MergeRequests.CreateMergeRequest(pid, &gl.CreateMergeRequestOptions{
		Title:        gl.Ptr(spec.Title),
		Description:  gl.Ptr(spec.Body),
		SourceBranch: gl.Ptr(spec.Head),
		TargetBranch: gl.Ptr(spec.Base),
	}, gl.WithContext(ctx))
	if err != nil {
		if statusOf(resp, err) == http.StatusForbidden {
			slog.Info("GitLab refused merge request creation", "project", spec.Repository.String(), "head", spec.Head)
			return nil, fmt.Errorf("%w: %v", scm.ErrInsufficientPermissions, err)
		}
		return nil, apperrors.Upstream("failed to create merge request", err)
	}
	return &scm.PullRequest{URL: mr.WebURL, Number: mr.IID}, nil
}

// BuildManualPullRequestURL links to GitLab's prefilled merge request form.
func (p *Provider) BuildManualPullRequestURL(spec scm.PullRequestSpec) string {
	q := url.Values{}
	q.Set("merge_request[source_branch]", spec.Head)
	q.Set("merge_request[target_branch]", spec.Base)
	if spec.Title != "" {
		q.Set("merge_request[title]", spec.Title)
	}
	if spec.Body != "" {
		q.Set("merge_request[description]", spec.Body)
	}
	return fmt.Sprintf("%s/%s/%s/-/merge_requests/new?%s", p.baseURL, spec.Repository.Owner, spec.Repository.Name, q.Encode())
}

func (p *Provider) BuildGitPushSpec(target scm.PushTarget) scm.PushSpec {
	return scm.HTTPSPushSpec(p.baseURL, "oauth2", target)
}
