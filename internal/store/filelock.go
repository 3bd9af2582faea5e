package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/inspect/internal/config"

	"github.com/gofrs/flock"
)

const lockFileName = "workspace.lock"

// FileLock keeps a workspace to a single running instance.
type FileLock struct {
	mu          sync.RWMutex
	fileLock    *flock.Flock
	lockPath    string
	workspaceID string
	acquiredAt  time.Time
}

type FileLockConfig struct {
	LockTimeout time.Duration
	LockRetry   time.Duration
}

func DefaultFileLockConfig() FileLockConfig {
	return FileLockConfig{
		LockTimeout: config.MustDuration(config.DefaultStoreLockTimeout),
		LockRetry:   config.MustDuration(config.DefaultStoreLockRetry),
	}
}

// NewFileLock acquires basePath/workspace.lock, retrying every LockRetry until
// LockTimeout elapses.
func NewFileLock(workspaceID, basePath string, cfg FileLockConfig) (*FileLock, error) {
	defaults := DefaultFileLockConfig()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaults.LockTimeout
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = defaults.LockRetry
	}

	lockPath := filepath.Join(basePath, lockFileName)
	fl := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, cfg.LockRetry)
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("failed to attempt lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("workspace %s is locked by another instance (timeout after %v)", workspaceID, cfg.LockTimeout)
	}

	lock := &FileLock{
		fileLock:    fl,
		lockPath:    lockPath,
		workspaceID: workspaceID,
		acquiredAt:  time.Now(),
	}
	slog.Info("Workspace lock acquired", "workspace", workspaceID, "path", lockPath)
	return lock, nil
}

func (l *FileLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLock == nil {
		return
	}

	held := time.Since(l.acquiredAt)
	if err := l.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release workspace lock", "workspace", l.workspaceID, "path", l.lockPath, "error", err)
	} else {
		slog.Info("Workspace lock released", "workspace", l.workspaceID, "held_ms", held.Milliseconds())
	}
	l.fileLock = nil
}

func (l *FileLock) IsLocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fileLock != nil
}

func (l *FileLock) HeldDuration() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.fileLock == nil {
		return 0
	}
	return time.Since(l.acquiredAt)
}

// CleanupStaleLocks removes a lock file older than maxAge when force is set.
// It reports whether a stale file was found.
func CleanupStaleLocks(basePath string, maxAge time.Duration, force bool) (bool, error) {
	lockPath := filepath.Join(basePath, lockFileName)
	info, err := os.Stat(lockPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	age := time.Since(info.ModTime())
	if age <= maxAge {
		return false, nil
	}

	slog.Warn("Found stale workspace lock", "path", lockPath, "age", age, "max_age", maxAge)
	if !force {
		return true, nil
	}
	if err := os.Remove(lockPath); err != nil {
		return true, fmt.Errorf("remove stale lock %s: %w", lockPath, err)
	}
	slog.Info("Stale workspace lock removed", "path", lockPath)
	return true, nil
}
