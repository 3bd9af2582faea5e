// Package git pushes a session's working tree to its remote.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/harunnryd/inspect/internal/config"
	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/pathutil"
	"github.com/harunnryd/inspect/internal/scm"

	"github.com/google/shlex"
)

var ErrGitNotFound = errors.New("git not found in PATH")

// Pusher publishes HEAD of a session's checkout according to spec.
type Pusher interface {
	Push(ctx context.Context, sessionID string, spec scm.PushSpec) error
}

// CLIPusher shells out to the git binary. Each session's checkout lives at
// WorkdirRoot/<sessionID>.
type CLIPusher struct {
	binary      string
	workdirRoot string
	extraArgs   []string
}

func NewCLIPusher(cfg config.GitConfig) (*CLIPusher, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = config.DefaultGitBinary
	}
	root, err := pathutil.Expand(cfg.WorkdirRoot)
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, apperrors.InvalidInput("git.workdir_root is required")
	}

	var extra []string
	if strings.TrimSpace(cfg.PushArgs) != "" {
		extra, err = shlex.Split(cfg.PushArgs)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid git.push_args", err)
		}
	}

	return &CLIPusher{binary: binary, workdirRoot: root, extraArgs: extra}, nil
}

// Workdir returns the checkout path for sessionID.
func (p *CLIPusher) Workdir(sessionID string) (string, error) {
	return pathutil.Within(p.workdirRoot, sessionID)
}

func (p *CLIPusher) args(spec scm.PushSpec) []string {
	args := []string{"push"}
	args = append(args, p.extraArgs...)
	if spec.Force {
		args = append(args, "--force")
	}
	return append(args, spec.RemoteURL, spec.Refspec)
}

func (p *CLIPusher) Push(ctx context.Context, sessionID string, spec scm.PushSpec) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return apperrors.Upstream("git push failed", ErrGitNotFound)
	}

	dir, err := p.Workdir(sessionID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "invalid session workdir", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return apperrors.Upstream("git push failed", fmt.Errorf("no checkout for session at %s", dir))
	}

	log := slog.With("session_id", sessionID, "remote", spec.RedactedRemoteURL, "branch", spec.TargetBranch)
	log.Info("Pushing branch", "force", spec.Force)

	cmd := exec.CommandContext(ctx, p.binary, p.args(spec)...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		output := redact(strings.TrimSpace(out.String()), spec)
		log.Error("Git push failed", "output", output, "error", err)
		if ctx.Err() != nil {
			return apperrors.Upstream("git push timed out", ctx.Err())
		}
		return apperrors.Upstream("git push failed", fmt.Errorf("%s: %w", output, err))
	}

	log.Info("Branch pushed")
	return nil
}

func redact(s string, spec scm.PushSpec) string {
	if spec.RemoteURL != "" && spec.RedactedRemoteURL != "" {
		s = strings.ReplaceAll(s, spec.RemoteURL, spec.RedactedRemoteURL)
	}
	return s
}
