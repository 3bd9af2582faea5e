package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/inspect/internal/config"
	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/idempotency"
	"github.com/harunnryd/inspect/internal/secrets"
	"github.com/harunnryd/inspect/internal/session"

	"github.com/natefinch/atomic"
)

type RuntimeConfig struct {
	LockTimeout time.Duration
	LockRetry   time.Duration
	InboxSize   int
	BusyTimeout time.Duration
	// SecretKey is base64; when empty a key is generated once per workspace.
	SecretKey string
}

// RuntimeConfigFrom converts the store section of the config file.
func RuntimeConfigFrom(cfg config.StoreConfig) (RuntimeConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store lock retry: %w", err)
	}
	busyTimeout, err := config.DurationOrDefault(cfg.BusyTimeout, config.DefaultStoreBusyTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse store busy timeout: %w", err)
	}
	return RuntimeConfig{
		LockTimeout: lockTimeout,
		LockRetry:   lockRetry,
		InboxSize:   cfg.InboxSize,
		BusyTimeout: busyTimeout,
		SecretKey:   cfg.SecretKey,
	}, nil
}

// Manager owns the workspace: its lock, database, publish claims and one
// Worker per active session.
type Manager struct {
	workspaceID string
	basePath    string
	inboxSize   int

	fileLock *FileLock
	db       *sql.DB
	repo     *Repository
	claims   *idempotency.Store
	secrets  *SecretProvider

	mu      sync.Mutex
	workers map[string]*Worker
	closed  bool
}

func NewManager(workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Manager, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(basePath, "governance"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir %s: %w", basePath, err)
	}

	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.BusyTimeout <= 0 {
		runtimeCfg.BusyTimeout = config.MustDuration(config.DefaultStoreBusyTimeout)
	}

	// File Lock (Single Instance per Workspace)
	fileLock, err := NewFileLock(workspaceID, basePath, FileLockConfig{
		LockTimeout: runtimeCfg.LockTimeout,
		LockRetry:   runtimeCfg.LockRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	m := &Manager{
		workspaceID: workspaceID,
		basePath:    basePath,
		inboxSize:   runtimeCfg.InboxSize,
		fileLock:    fileLock,
		workers:     make(map[string]*Worker),
	}
	if err := m.open(runtimeCfg); err != nil {
		m.release()
		return nil, err
	}

	slog.Info("Session store ready", "workspace", workspaceID, "path", basePath)
	return m, nil
}

func (m *Manager) open(runtimeCfg RuntimeConfig) error {
	key, err := m.loadSecretKey(runtimeCfg.SecretKey)
	if err != nil {
		return err
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		return fmt.Errorf("invalid secret key: %w", err)
	}

	m.db, err = OpenDB(filepath.Join(m.basePath, "inspect.db"), runtimeCfg.BusyTimeout)
	if err != nil {
		return err
	}
	m.repo = NewRepository(m.db, cipher)
	m.secrets = &SecretProvider{repo: m.repo}

	m.claims, err = idempotency.NewStore(filepath.Join(m.basePath, "governance", "publish_claims.json"))
	if err != nil {
		return fmt.Errorf("failed to load publish claims: %w", err)
	}
	if n, err := m.claims.Prune(); err != nil {
		slog.Warn("Failed to prune publish claims", "error", err)
	} else if n > 0 {
		slog.Info("Pruned expired publish claims", "count", n)
	}
	return nil
}

// loadSecretKey returns configured, or the workspace key file, generating it
// on first use.
func (m *Manager) loadSecretKey(configured string) (string, error) {
	if strings.TrimSpace(configured) != "" {
		return configured, nil
	}

	path := filepath.Join(m.basePath, "governance", "secret.key")
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read secret key: %w", err)
	}

	key, err := secrets.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader([]byte(key))); err != nil {
		return "", fmt.Errorf("write secret key: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("chmod secret key: %w", err)
	}
	slog.Warn("Generated workspace secret key; set store.secret_key to manage it yourself", "path", path)
	return key, nil
}

// CreateSession stores a new active session bound to repo.
func (m *Manager) CreateSession(ctx context.Context, title string, repo session.RepoBinding) (*session.Session, error) {
	if strings.TrimSpace(repo.Provider) == "" || strings.TrimSpace(repo.Owner) == "" || strings.TrimSpace(repo.Name) == "" {
		return nil, apperrors.InvalidInput("repository provider, owner and name are required")
	}
	s := &session.Session{Title: title, Repository: repo}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) ListSessions(ctx context.Context) ([]session.Session, error) {
	return m.repo.ListSessions(ctx)
}

// Session returns the running worker for sessionID, starting it on first use.
// Unknown sessions fail with NotFound.
func (m *Manager) Session(ctx context.Context, sessionID string) (*Worker, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrTransient, "session store is shutting down")
	}
	if w, ok := m.workers[sessionID]; ok {
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	if _, err := m.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperrors.New(apperrors.ErrTransient, "session store is shutting down")
	}
	if w, ok := m.workers[sessionID]; ok {
		return w, nil
	}
	w := NewWorker(sessionID, m.repo, m.inboxSize)
	w.Start()
	m.workers[sessionID] = w
	return w, nil
}

func (m *Manager) Secrets() *SecretProvider {
	return m.secrets
}

func (m *Manager) Claims() *idempotency.Store {
	return m.claims
}

func (m *Manager) WorkspaceID() string {
	return m.workspaceID
}

func (m *Manager) BasePath() string {
	return m.basePath
}

// ActiveWorkers returns how many session workers are running.
func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Ping checks the database connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Checkpoint folds the write-ahead log back into the database file.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return apperrors.Internal("wal checkpoint failed", err)
	}
	return nil
}

// Stop drains every worker, closes the database and releases the workspace lock.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = map[string]*Worker{}
	m.mu.Unlock()

	slog.Info("Session store stopping", "workspace", m.workspaceID, "workers", len(workers))
	for _, w := range workers {
		w.Stop()
	}
	m.release()
}

func (m *Manager) release() {
	if m.claims != nil {
		if err := m.claims.Save(); err != nil {
			slog.Error("Failed to save publish claims", "error", err)
		}
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}
	if m.fileLock != nil && m.fileLock.IsLocked() {
		m.fileLock.Unlock()
	}
}

func (m *Manager) IsLockHeld() bool {
	return m.fileLock != nil && m.fileLock.IsLocked()
}
