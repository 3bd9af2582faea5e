package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/inspect/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server      ServerConfig      `koanf:"server" yaml:"server"`
	Store       StoreConfig       `koanf:"store" yaml:"store"`
	Auth        AuthConfig        `koanf:"auth" yaml:"auth"`
	Providers   ProvidersConfig   `koanf:"providers" yaml:"providers"`
	Git         GitConfig         `koanf:"git" yaml:"git"`
	Publish     PublishConfig     `koanf:"publish" yaml:"publish"`
	Maintenance MaintenanceConfig `koanf:"maintenance" yaml:"maintenance"`
	Daemon      DaemonConfig      `koanf:"daemon" yaml:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port" yaml:"port"`
	LogLevel        string `koanf:"log_level" yaml:"log_level"`
	ReadTimeout     string `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	WorkspacePath string `koanf:"workspace_path" yaml:"workspace_path"`
	LockTimeout   string `koanf:"lock_timeout" yaml:"lock_timeout"`
	LockRetry     string `koanf:"lock_retry" yaml:"lock_retry"`
	LockMaxRetry  int    `koanf:"lock_max_retry" yaml:"lock_max_retry"`
	InboxSize     int    `koanf:"inbox_size" yaml:"inbox_size"`
	BusyTimeout   string `koanf:"busy_timeout" yaml:"busy_timeout"`
	// SecretKey is a base64 encoded 32 byte key sealing secrets and participant tokens at rest.
	SecretKey string `koanf:"secret_key" yaml:"secret_key"`
}

type AuthConfig struct {
	TokenURL       string `koanf:"token_url" yaml:"token_url"`
	ClientID       string `koanf:"client_id" yaml:"client_id"`
	ClientSecret   string `koanf:"client_secret" yaml:"client_secret"`
	RefreshBuffer  string `koanf:"refresh_buffer" yaml:"refresh_buffer"`
	RaceDelay      string `koanf:"race_delay" yaml:"race_delay"`
	RefreshTimeout string `koanf:"refresh_timeout" yaml:"refresh_timeout"`
}

type ProvidersConfig struct {
	Default string       `koanf:"default" yaml:"default"`
	GitHub  GitHubConfig `koanf:"github" yaml:"github"`
	GitLab  GitLabConfig `koanf:"gitlab" yaml:"gitlab"`
}

type GitHubConfig struct {
	APIURL            string `koanf:"api_url" yaml:"api_url"`
	WebURL            string `koanf:"web_url" yaml:"web_url"`
	AppID             string `koanf:"app_id" yaml:"app_id"`
	AppPrivateKey     string `koanf:"app_private_key" yaml:"app_private_key"`
	AppInstallationID string `koanf:"app_installation_id" yaml:"app_installation_id"`
	Timeout           string `koanf:"timeout" yaml:"timeout"`
}

type GitLabConfig struct {
	BaseURL string `koanf:"base_url" yaml:"base_url"`
	Token   string `koanf:"token" yaml:"token"`
	Timeout string `koanf:"timeout" yaml:"timeout"`
}

type GitConfig struct {
	Binary       string `koanf:"binary" yaml:"binary"`
	WorkdirRoot  string `koanf:"workdir_root" yaml:"workdir_root"`
	PushArgs     string `koanf:"push_args" yaml:"push_args"`
	BranchPrefix string `koanf:"branch_prefix" yaml:"branch_prefix"`
}

type PublishConfig struct {
	ClaimTTL        string `koanf:"claim_ttl" yaml:"claim_ttl"`
	RefreshTimeout  string `koanf:"refresh_timeout" yaml:"refresh_timeout"`
	ProviderTimeout string `koanf:"provider_timeout" yaml:"provider_timeout"`
	PushTimeout     string `koanf:"push_timeout" yaml:"push_timeout"`
}

type MaintenanceConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Schedule string `koanf:"schedule" yaml:"schedule"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval" yaml:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout" yaml:"startup_shutdown_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl" yaml:"stale_lock_ttl"`
}

const (
	DefaultWorkspaceID                  = "default"
	DefaultServerPort                   = 8080
	DefaultServerLogLevel               = "info"
	DefaultServerReadTimeout            = "10s"
	DefaultServerWriteTimeout           = "90s"
	DefaultServerIdleTimeout            = "60s"
	DefaultServerShutdownTimeout        = "5s"
	DefaultStoreLockTimeout             = "30s"
	DefaultStoreLockRetry               = "100ms"
	DefaultStoreLockMaxRetry            = 300
	DefaultStoreInboxSize               = 64
	DefaultStoreBusyTimeout             = "5s"
	DefaultAuthRefreshBuffer            = "5m"
	DefaultAuthRaceDelay                = "500ms"
	DefaultAuthRefreshTimeout           = "15s"
	DefaultProvider                     = "github"
	DefaultGitHubAPIURL                 = "https://api.github.com/"
	DefaultGitHubWebURL                 = "https://github.com"
	DefaultGitHubTimeout                = "20s"
	DefaultGitLabBaseURL                = "https://gitlab.com"
	DefaultGitLabTimeout                = "20s"
	DefaultGitBinary                    = "git"
	DefaultGitBranchPrefix              = "inspect"
	DefaultPublishClaimTTL              = "5m"
	DefaultPublishRefreshTimeout        = "20s"
	DefaultPublishProviderTimeout       = "30s"
	DefaultPublishPushTimeout           = "2m"
	DefaultMaintenanceEnabled           = true
	DefaultMaintenanceSchedule          = "@every 10m"
	DefaultDaemonShutdownTimeout        = "30s"
	DefaultDaemonHealthCheckInterval    = "30s"
	DefaultDaemonStartupShutdownTimeout = "10s"
	DefaultDaemonStaleLockTTL           = "15m"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                     DefaultServerPort,
		"server.log_level":                DefaultServerLogLevel,
		"server.read_timeout":             DefaultServerReadTimeout,
		"server.write_timeout":            DefaultServerWriteTimeout,
		"server.idle_timeout":             DefaultServerIdleTimeout,
		"server.shutdown_timeout":         DefaultServerShutdownTimeout,
		"store.workspace_path":            filepath.Join(os.Getenv("HOME"), ".inspect", "workspaces"),
		"store.lock_timeout":              DefaultStoreLockTimeout,
		"store.lock_retry":                DefaultStoreLockRetry,
		"store.lock_max_retry":            DefaultStoreLockMaxRetry,
		"store.inbox_size":                DefaultStoreInboxSize,
		"store.busy_timeout":              DefaultStoreBusyTimeout,
		"auth.refresh_buffer":             DefaultAuthRefreshBuffer,
		"auth.race_delay":                 DefaultAuthRaceDelay,
		"auth.refresh_timeout":            DefaultAuthRefreshTimeout,
		"providers.default":               DefaultProvider,
		"providers.github.api_url":        DefaultGitHubAPIURL,
		"providers.github.web_url":        DefaultGitHubWebURL,
		"providers.github.timeout":        DefaultGitHubTimeout,
		"providers.gitlab.base_url":       DefaultGitLabBaseURL,
		"providers.gitlab.timeout":        DefaultGitLabTimeout,
		"git.binary":                      DefaultGitBinary,
		"git.workdir_root":                filepath.Join(os.Getenv("HOME"), ".inspect", "sandboxes"),
		"git.branch_prefix":               DefaultGitBranchPrefix,
		"publish.claim_ttl":               DefaultPublishClaimTTL,
		"publish.refresh_timeout":         DefaultPublishRefreshTimeout,
		"publish.provider_timeout":        DefaultPublishProviderTimeout,
		"publish.push_timeout":            DefaultPublishPushTimeout,
		"maintenance.enabled":             DefaultMaintenanceEnabled,
		"maintenance.schedule":            DefaultMaintenanceSchedule,
		"daemon.shutdown_timeout":         DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":    DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout": DefaultDaemonStartupShutdownTimeout,
		"daemon.stale_lock_ttl":           DefaultDaemonStaleLockTTL,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".inspect", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables: INSPECT_SERVER__PORT -> server.port, single underscores are kept.
	k.Load(env.Provider("INSPECT_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "INSPECT_")), "__", ".")
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: standard env vars fill missing credentials
	if key := os.Getenv("GITHUB_APP_PRIVATE_KEY"); key != "" && cfg.Providers.GitHub.AppPrivateKey == "" {
		cfg.Providers.GitHub.AppPrivateKey = key
	}
	if token := os.Getenv("GITLAB_TOKEN"); token != "" && cfg.Providers.GitLab.Token == "" {
		cfg.Providers.GitLab.Token = token
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := expandConfiguredPath(cfg.Store.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Store.WorkspacePath = workspacePath
	}

	workdirRoot, err := expandConfiguredPath(cfg.Git.WorkdirRoot)
	if err != nil {
		return err
	}
	if workdirRoot != "" {
		cfg.Git.WorkdirRoot = workdirRoot
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}

// Redacted returns a copy of cfg with credentials masked for display.
func Redacted(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.Store.SecretKey = mask(out.Store.SecretKey)
	out.Auth.ClientSecret = mask(out.Auth.ClientSecret)
	out.Providers.GitHub.AppPrivateKey = mask(out.Providers.GitHub.AppPrivateKey)
	out.Providers.GitLab.Token = mask(out.Providers.GitLab.Token)
	return &out
}

func mask(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "********"
}
