package main

import (
	"fmt"
	"io"
	"os"

	"github.com/harunnryd/inspect/internal/config"
	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "inspect",
	Short:   "Inspect session publisher",
	Long:    `Inspect runs coding sessions against a repository and publishes their work as a single pull request per session.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalidInput, "failed to load configuration", err)
		}
		cfg = loaded
		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCode maps an outcome category to the process exit status so scripts
// can tell a re-auth from a retry.
func exitCode(err error) int {
	switch apperrors.Category(err) {
	case "InvalidInput", "PreconditionFailed":
		return 2
	case "Unauthenticated":
		return 3
	case "NotFound":
		return 4
	case "Conflict":
		return 5
	case "UpstreamFailure", "Transient":
		return 6
	default:
		return 1
	}
}

func reportError(w io.Writer, err error) int {
	code := exitCode(err)
	label := color.New(color.FgRed).Sprint("Error:")
	if code == 1 {
		fmt.Fprintln(w, label, err)
		return code
	}
	fmt.Fprintf(w, "%s %v [%s]\n", label, err, apperrors.Category(err))
	return code
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.inspect/config.yaml)")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("server.port", config.DefaultServerPort, "server port")
}
