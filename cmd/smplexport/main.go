package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alnah/smplexport/internal/bundle"
	"github.com/alnah/smplexport/internal/cli"
	"github.com/alnah/smplexport/internal/config"
	"github.com/alnah/smplexport/internal/logging"
	"github.com/alnah/smplexport/internal/node"
	"github.com/alnah/smplexport/internal/npz"
	"github.com/alnah/smplexport/internal/pickle"
	"github.com/alnah/smplexport/internal/smpl"
	"github.com/alnah/smplexport/internal/tensor"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitSetup      = 3
	ExitValidation = 4
	ExitExport     = 5
	ExitInterrupt  = 130
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	// Context with signal cancellation.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := cli.DefaultEnv()

	if err := newRootCmd(env).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd(env *cli.Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "smplexport",
		Short:   "Export SMPL motion parameters to .npz archives and .pkl prediction records",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cli.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(cli.ExportCmd(env))
	rootCmd.AddCommand(cli.BatchCmd(env))
	rootCmd.AddCommand(cli.InspectCmd(env))
	rootCmd.AddCommand(cli.NodesCmd(env))
	rootCmd.AddCommand(cli.ConfigCmd(env))
	return rootCmd
}

// exitCode maps errors to process exit codes.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}

	// Cobra doesn't expose typed errors for flag/arg parsing.
	if isCobraUsageError(err) {
		return ExitUsage
	}

	if errors.Is(err, logging.ErrInvalidLevel) || errors.Is(err, config.ErrInvalidSyntax) ||
		errors.Is(err, config.ErrInvalidValue) || errors.Is(err, config.ErrUnknownKey) ||
		errors.Is(err, npz.ErrUnknownMethod) {
		return ExitSetup
	}

	if errors.Is(err, cli.ErrFileNotFound) || errors.Is(err, cli.ErrDuplicateOutput) ||
		errors.Is(err, cli.ErrUnsupportedFormat) || errors.Is(err, bundle.ErrInvalidBundle) ||
		errors.Is(err, bundle.ErrUnsupportedFormat) || errors.Is(err, smpl.ErrInvalidRecord) ||
		errors.Is(err, smpl.ErrInconsistent) || errors.Is(err, tensor.ErrRagged) ||
		errors.Is(err, tensor.ErrNotArrayLike) || errors.Is(err, tensor.ErrShapeMismatch) ||
		errors.Is(err, tensor.ErrUnsupportedDType) || errors.Is(err, tensor.ErrOverflow) ||
		errors.Is(err, npz.ErrInvalidHeader) ||
		errors.Is(err, npz.ErrTruncated) || errors.Is(err, pickle.ErrUnexpectedObject) ||
		errors.Is(err, node.ErrInvalidInput) {
		return ExitValidation
	}

	if errors.Is(err, cli.ErrExportFailed) {
		return ExitExport
	}

	return ExitGeneral
}

// cobraUsageErrorPatterns contains error message substrings that indicate Cobra usage errors.
// These patterns are stable across Cobra versions (tested with v1.8+).
var cobraUsageErrorPatterns = []string{
	"required flag",          // Missing required flag
	"unknown flag",           // Flag doesn't exist
	"unknown shorthand",      // Short flag doesn't exist
	"unknown command",        // Subcommand doesn't exist
	"flag needs an argument", // Flag provided without value
	"invalid argument",       // Invalid flag value, including --compression
	"accepts ",               // Wrong number of arguments (e.g., "accepts 1 arg(s)")
	"requires at least",      // Too few arguments
	"requires at most",       // Too many arguments
}

// isCobraUsageError checks if an error is a Cobra usage/parsing error.
func isCobraUsageError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	for _, pattern := range cobraUsageErrorPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
