package components

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/credential"
	"github.com/harunnryd/inspect/internal/daemon"
	"github.com/harunnryd/inspect/internal/git"
	"github.com/harunnryd/inspect/internal/publish"
	"github.com/harunnryd/inspect/internal/scm"
	"github.com/harunnryd/inspect/internal/scm/github"
	"github.com/harunnryd/inspect/internal/scm/gitlab"
)

// PublisherComponent wires credentials, providers and git into the
// pull-request orchestrator.
type PublisherComponent struct {
	cfg          *config.Config
	storeComp    *StoreComponent
	orchestrator *publish.Orchestrator
	providers    *scm.Registry
	mu           sync.RWMutex
}

func NewPublisherComponent(cfg *config.Config, storeComp *StoreComponent) *PublisherComponent {
	return &PublisherComponent{cfg: cfg, storeComp: storeComp}
}

func (p *PublisherComponent) Name() string {
	return "Publisher"
}

func (p *PublisherComponent) Dependencies() []string {
	return []string{"Store"}
}

// BuildProviders constructs every configured source control provider.
func BuildProviders(cfg config.ProvidersConfig) (*scm.Registry, error) {
	ghTimeout, err := config.DurationOrDefault(cfg.GitHub.Timeout, config.DefaultGitHubTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse github timeout: %w", err)
	}
	glTimeout, err := config.DurationOrDefault(cfg.GitLab.Timeout, config.DefaultGitLabTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse gitlab timeout: %w", err)
	}

	gh, err := github.New(github.Config{
		APIURL:            cfg.GitHub.APIURL,
		WebURL:            cfg.GitHub.WebURL,
		AppID:             cfg.GitHub.AppID,
		AppPrivateKey:     cfg.GitHub.AppPrivateKey,
		AppInstallationID: cfg.GitHub.AppInstallationID,
		HTTPClient:        &http.Client{Timeout: ghTimeout},
	})
	if err != nil {
		return nil, err
	}
	gl := gitlab.New(gitlab.Config{
		BaseURL:    cfg.GitLab.BaseURL,
		Token:      cfg.GitLab.Token,
		HTTPClient: &http.Client{Timeout: glTimeout},
	})

	def := cfg.Default
	if def == "" {
		def = config.DefaultProvider
	}
	registry := scm.NewRegistry(def, gh, gl)
	if _, err := registry.Get(def); err != nil {
		return nil, err
	}
	return registry, nil
}

func (p *PublisherComponent) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.storeComp == nil || p.storeComp.Manager() == nil {
		return fmt.Errorf("store not initialized")
	}
	manager := p.storeComp.Manager()

	authOpts, err := credential.OptionsFrom(p.cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	refresher := credential.NewOAuthRefresher(p.cfg.Auth.TokenURL, p.cfg.Auth.ClientID, p.cfg.Auth.ClientSecret,
		&http.Client{Timeout: authOpts.RefreshTimeout})
	creds := credential.NewService(manager.Secrets(), refresher, authOpts)

	providers, err := BuildProviders(p.cfg.Providers)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	pusher, err := git.NewCLIPusher(p.cfg.Git)
	if err != nil {
		return fmt.Errorf("git: %w", err)
	}

	opts, err := publish.OptionsFrom(p.cfg.Publish, p.cfg.Git)
	if err != nil {
		return fmt.Errorf("publish config: %w", err)
	}

	p.providers = providers
	p.orchestrator = publish.NewOrchestrator(publish.FromManager(manager), creds, providers, pusher, manager.Claims(), opts)
	slog.Info("Publisher initialized", "component", p.Name(), "providers", providers.Names(), "branch_prefix", opts.BranchPrefix)
	return nil
}

func (p *PublisherComponent) Start(ctx context.Context) error {
	return nil
}

func (p *PublisherComponent) Stop(ctx context.Context) error {
	return nil
}

func (p *PublisherComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.orchestrator == nil {
		return daemon.Unhealthy(p.Name(), fmt.Errorf("not initialized")), nil
	}
	return daemon.Healthy(p.Name()), nil
}

func (p *PublisherComponent) Orchestrator() *publish.Orchestrator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orchestrator
}
