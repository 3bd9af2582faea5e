// Package publish turns the work attached to a session's processing message
// into a pushed branch and, when the credential allows, a pull request.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/credential"
	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/git"
	"github.com/harunnryd/inspect/internal/logger"
	"github.com/harunnryd/inspect/internal/scm"
	"github.com/harunnryd/inspect/internal/session"
	"github.com/harunnryd/inspect/internal/store"
)

// User-facing failure messages.
const (
	MsgNoActivePrompt = "No active prompt found. PR creation must be triggered by a user prompt."
	MsgUserNotFound   = "User not found. Please re-authenticate."
	MsgTokenExpired   = "Token expired and could not be refreshed. Please re-authenticate."
	MsgAlreadyCreated = "A pull request has already been created for this session."
	// MsgPublishInProgress is returned while another publish for the same
	// session holds the claim; unlike MsgAlreadyCreated it is worth retrying.
	MsgPublishInProgress = "A pull request is already being published for this session. Try again shortly."
)

type Status string

const (
	StatusCreated Status = "created"
	StatusManual  Status = "manual"
)

type Request struct {
	SessionID string `json:"-"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

type Result struct {
	Status      Status `json:"status"`
	PRURL       string `json:"prUrl,omitempty"`
	PRNumber    int    `json:"prNumber,omitempty"`
	CreatePRURL string `json:"createPrUrl,omitempty"`
	HeadBranch  string `json:"headBranch"`
	BaseBranch  string `json:"baseBranch"`
	ArtifactID  string `json:"artifactId,omitempty"`
}

// SessionStore is the slice of a session worker the orchestrator uses.
type SessionStore interface {
	GetSession(ctx context.Context) (*session.Session, error)
	ProcessingMessage(ctx context.Context) (*session.Message, error)
	GetParticipant(ctx context.Context, participantID string) (*session.Participant, error)
	UpdateParticipantTokens(ctx context.Context, p *session.Participant) error
	BindRepository(ctx context.Context, repo session.RepoBinding) error
	HasArtifact(ctx context.Context, kind session.ArtifactKind) (bool, error)
	AppendArtifact(ctx context.Context, a *session.Artifact) error
}

type Sessions interface {
	Session(ctx context.Context, sessionID string) (SessionStore, error)
}

type managerSessions struct {
	m *store.Manager
}

func (s managerSessions) Session(ctx context.Context, sessionID string) (SessionStore, error) {
	w, err := s.m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// FromManager exposes the workers of m as Sessions.
func FromManager(m *store.Manager) Sessions {
	return managerSessions{m: m}
}

type Credentials interface {
	Resolve(ctx context.Context, p credential.Principal) (*credential.Token, error)
}

// Claims guards the publish slot of a session while a publish is in flight.
type Claims interface {
	CheckAndMark(key string, ttl time.Duration) (bool, error)
	Release(key string) error
}

type Options struct {
	BranchPrefix    string
	ClaimTTL        time.Duration
	RefreshTimeout  time.Duration
	ProviderTimeout time.Duration
	PushTimeout     time.Duration
}

func OptionsFrom(pub config.PublishConfig, gitCfg config.GitConfig) (Options, error) {
	var (
		opts Options
		err  error
	)
	opts.BranchPrefix = strings.Trim(strings.TrimSpace(gitCfg.BranchPrefix), "/")
	if opts.ClaimTTL, err = config.DurationOrDefault(pub.ClaimTTL, config.DefaultPublishClaimTTL); err != nil {
		return Options{}, err
	}
	if opts.RefreshTimeout, err = config.DurationOrDefault(pub.RefreshTimeout, config.DefaultPublishRefreshTimeout); err != nil {
		return Options{}, err
	}
	if opts.ProviderTimeout, err = config.DurationOrDefault(pub.ProviderTimeout, config.DefaultPublishProviderTimeout); err != nil {
		return Options{}, err
	}
	if opts.PushTimeout, err = config.DurationOrDefault(pub.PushTimeout, config.DefaultPublishPushTimeout); err != nil {
		return Options{}, err
	}
	if opts.ClaimTTL < opts.minClaimTTL() {
		return Options{}, fmt.Errorf("publish.claim_ttl %s must be at least push_timeout + provider_timeout (%s)",
			opts.ClaimTTL, opts.minClaimTTL())
	}
	return opts, nil
}

// minClaimTTL is the longest a publish can hold its claim: the push and the
// provider call run under these deadlines back to back. A shorter claim
// could expire mid-publish and admit a second publisher.
func (o Options) minClaimTTL() time.Duration {
	return o.PushTimeout + o.ProviderTimeout
}

type Orchestrator struct {
	sessions    Sessions
	credentials Credentials
	providers   *scm.Registry
	pusher      git.Pusher
	claims      Claims
	opts        Options
}

func NewOrchestrator(sessions Sessions, credentials Credentials, providers *scm.Registry, pusher git.Pusher, claims Claims, opts Options) *Orchestrator {
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = config.DefaultGitBranchPrefix
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = config.MustDuration(config.DefaultPublishClaimTTL)
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = config.MustDuration(config.DefaultPublishRefreshTimeout)
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = config.MustDuration(config.DefaultPublishProviderTimeout)
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = config.MustDuration(config.DefaultPublishPushTimeout)
	}
	if opts.ClaimTTL < opts.minClaimTTL() {
		opts.ClaimTTL = opts.minClaimTTL()
	}
	return &Orchestrator{
		sessions:    sessions,
		credentials: credentials,
		providers:   providers,
		pusher:      pusher,
		claims:      claims,
		opts:        opts,
	}
}

// BranchName is stable for a given session and message, so a retried
// publish of the same prompt pushes to the same branch.
func BranchName(prefix, sessionID, messageID string) string {
	sum := sha256.Sum256([]byte(sessionID + "/" + messageID))
	short := strings.ToLower(sessionID)
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s/%s-%s", prefix, short, hex.EncodeToString(sum[:])[:10])
}

func claimKey(sessionID string) string {
	return "publish:" + sessionID
}

// CreatePullRequest publishes the session's current work. At most one pull
// request is ever recorded per session.
func (o *Orchestrator) CreatePullRequest(ctx context.Context, req Request) (*Result, error) {
	ctx = logger.WithSessionID(ctx, req.SessionID)
	log := logger.From(ctx)

	// 1. session
	w, err := o.sessions.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	sess, err := w.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	// 2. work unit
	msg, err := w.ProcessingMessage(ctx)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperrors.PreconditionFailed(MsgNoActivePrompt)
	}

	// 3. author
	participant, err := w.GetParticipant(ctx, msg.AuthorID)
	if err != nil {
		if apperrors.Category(err) == "NotFound" {
			return nil, apperrors.Wrap(apperrors.ErrUnauthenticated, MsgUserNotFound, err)
		}
		return nil, err
	}

	provider, err := o.providers.Get(sess.Repository.Provider)
	if err != nil {
		return nil, err
	}

	// 4. repository binding
	repo, err := o.ensureBinding(ctx, w, provider, sess.Repository)
	if err != nil {
		return nil, err
	}
	log = log.With("repository", repo.CanonicalID(), "message_id", msg.ID)

	// 5. credentials
	refreshCtx, cancel := context.WithTimeout(ctx, o.opts.RefreshTimeout)
	token, err := o.credentials.Resolve(refreshCtx, credential.Principal{
		SessionID:     sess.ID,
		ParticipantID: participant.ID,
		RepositoryID:  repo.CanonicalID(),
	})
	cancel()
	if err != nil {
		return nil, credentialError(err)
	}
	participant.AccessToken = token.AccessToken
	if token.Refreshed {
		participant.TokenExpiresAt = token.ExpiresAt
		if err := w.UpdateParticipantTokens(ctx, participant); err != nil {
			log.Warn("Failed to store refreshed participant token", "error", err)
		}
	}

	pushAuth, err := provider.ResolvePushCredential(ctx, participant)
	if err != nil {
		if apperrors.Category(err) == "Unknown" {
			return nil, apperrors.Wrap(apperrors.ErrUnauthenticated, MsgTokenExpired, err)
		}
		return nil, err
	}

	// 6. publish slot
	key := claimKey(sess.ID)
	held, err := o.claims.CheckAndMark(key, o.opts.ClaimTTL)
	if err != nil {
		return nil, apperrors.Internal("failed to claim publish slot", err)
	}
	if held {
		log.Info("Publish already in flight")
		return nil, apperrors.Conflict(MsgPublishInProgress)
	}
	defer func() {
		if err := o.claims.Release(key); err != nil {
			log.Warn("Failed to release publish claim", "error", err)
		}
	}()

	exists, err := w.HasArtifact(ctx, session.ArtifactPR)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.Conflict(MsgAlreadyCreated)
	}

	// 7. branch
	head := BranchName(o.opts.BranchPrefix, sess.ID, msg.ID)
	base := repo.DefaultBranch
	if base == "" {
		base = "main"
	}
	identity := scm.RepoIdentity{Owner: repo.Owner, Name: repo.Name}

	// 8. push
	spec := provider.BuildGitPushSpec(scm.PushTarget{Repository: identity, Branch: head, Auth: pushAuth})
	log.Info("Publishing session work", "head", head, "base", base, "remote", spec.RedactedRemoteURL)

	pushCtx, cancel := context.WithTimeout(ctx, o.opts.PushTimeout)
	err = o.pusher.Push(pushCtx, sess.ID, spec)
	cancel()
	if err != nil {
		if apperrors.Category(err) == "Unknown" {
			err = apperrors.Upstream("failed to push branch", err)
		}
		return nil, err
	}

	// 9. pull request
	prSpec := scm.PullRequestSpec{
		Repository:     identity,
		ProviderRepoID: repo.ProviderRepoID,
		Title:          title(req, sess),
		Body:           req.Body,
		Head:           head,
		Base:           base,
		Token:          participant.AccessToken,
	}

	providerCtx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	pr, err := provider.CreatePullRequest(providerCtx, prSpec)
	cancel()

	if errors.Is(err, scm.ErrInsufficientPermissions) {
		manualURL := provider.BuildManualPullRequestURL(prSpec)
		artifact := &session.Artifact{
			Kind: session.ArtifactBranch,
			URL:  manualURL,
			Metadata: map[string]string{
				"mode": "manual",
				"head": head,
				"base": base,
			},
		}
		if err := w.AppendArtifact(ctx, artifact); err != nil {
			return nil, err
		}
		log.Info("Pull request requires manual creation", "artifact_id", artifact.ID)
		return &Result{
			Status:      StatusManual,
			CreatePRURL: manualURL,
			HeadBranch:  head,
			BaseBranch:  base,
			ArtifactID:  artifact.ID,
		}, nil
	}

	// 10. anything else from the provider is an upstream failure, even when
	// the provider reports an auth or conflict outcome of its own
	if err != nil {
		log.Error("Pull request creation failed", "error", err)
		if apperrors.Category(err) != "UpstreamFailure" {
			err = apperrors.Upstream("failed to create pull request", err)
		}
		return nil, err
	}

	artifact := &session.Artifact{
		Kind: session.ArtifactPR,
		URL:  pr.URL,
		Metadata: map[string]string{
			"number": strconv.Itoa(pr.Number),
			"head":   head,
			"base":   base,
		},
	}
	if err := w.AppendArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	log.Info("Pull request created", "url", pr.URL, "number", pr.Number)

	return &Result{
		Status:     StatusCreated,
		PRURL:      pr.URL,
		PRNumber:   pr.Number,
		HeadBranch: head,
		BaseBranch: base,
		ArtifactID: artifact.ID,
	}, nil
}

// ensureBinding asks the provider for the canonical repository when the
// session has not been bound yet and stores the answer on the session.
func (o *Orchestrator) ensureBinding(ctx context.Context, w SessionStore, provider scm.Provider, binding session.RepoBinding) (session.RepoBinding, error) {
	if binding.Bound() {
		return binding, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	defer cancel()

	repo, err := provider.GetRepository(callCtx, scm.RepoIdentity{Owner: binding.Owner, Name: binding.Name})
	if err != nil {
		if apperrors.Category(err) == "Unknown" {
			return binding, apperrors.Upstream("failed to resolve repository", err)
		}
		return binding, err
	}

	bound := repo.Binding(provider.Name())
	if err := w.BindRepository(ctx, bound); err != nil {
		return binding, err
	}
	logger.From(ctx).Info("Repository bound", "repository", bound.CanonicalID(), "provider_repo_id", bound.ProviderRepoID)
	return bound, nil
}

func credentialError(err error) error {
	switch {
	case errors.Is(err, credential.ErrUpstreamRefresh):
		return err
	case errors.Is(err, credential.ErrCredentialNotConfigured), errors.Is(err, credential.ErrRefreshUnauthorized):
		return apperrors.Wrap(apperrors.ErrUnauthenticated, MsgTokenExpired, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Upstream("credential refresh timed out", err)
	default:
		return err
	}
}

func title(req Request, sess *session.Session) string {
	if t := strings.TrimSpace(req.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(sess.Title); t != "" {
		return t
	}
	short := sess.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Changes from session " + strings.ToLower(short)
}
