package main

import (
	"bytes"
	"errors"
	"testing"

	apperrors "github.com/harunnryd/inspect/internal/errors"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeFollowsCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"plain", errors.New("unknown flag: --nope"), 1},
		{"invalid input", apperrors.InvalidInput("repository provider, owner and name are required"), 2},
		{"precondition", apperrors.PreconditionFailed("no active prompt"), 2},
		{"unauthenticated", apperrors.Unauthenticated("token expired"), 3},
		{"not found", apperrors.NotFound("session s1 not found"), 4},
		{"conflict", apperrors.Conflict("already created"), 5},
		{"upstream", apperrors.Upstream("failed to push branch", errors.New("exit 128")), 6},
		{"internal", apperrors.Internal("disk full", nil), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, exitCode(tt.err))
		})
	}
}

func TestReportError(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var out bytes.Buffer
	code := reportError(&out, apperrors.Wrap(apperrors.ErrInvalidInput, "failed to load configuration", errors.New("yaml: line 3")))
	assert.Equal(t, 2, code)
	assert.Equal(t, "Error: failed to load configuration: yaml: line 3 [InvalidInput]\n", out.String())

	out.Reset()
	code = reportError(&out, errors.New(`unknown command "nope"`))
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: unknown command \"nope\"\n", out.String())
}

func TestRootRegistersCommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "session", "secret", "config"})
	assert.Equal(t, version, rootCmd.Version)
	assert.True(t, rootCmd.SilenceErrors)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
