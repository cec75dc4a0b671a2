// Package main implements the kodo CLI for capturing and serving
// project learnings.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/config"
	"github.com/paxtone-io/openkodo/internal/engine"
	"github.com/paxtone-io/openkodo/internal/logging"
	"github.com/paxtone-io/openkodo/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes. Hook wiring and scripts need to tell a missing store
// from a broken config, so failures are classified instead of all
// collapsing to 1.
const (
	exitGeneral        = 1
	exitUsage          = 2
	exitConfig         = 3
	exitNotInitialized = 4
)

var (
	// rootDir is where store discovery starts.
	rootDir string
	// rootVerbose lowers the log level to debug.
	rootVerbose bool

	// daemonLog forces the JSON log encoder. Long-running commands set
	// it so their output stays machine-parseable regardless of the
	// configured console format.
	daemonLog bool

	// cfg and logger are populated by loadConfig for the running command.
	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "kodo",
	Short: "Capture and serve learnings from coding sessions",
	Long: `kodo watches coding-session transcripts for durable learnings: corrections,
decisions, conventions, and stack facts. Captured records are deduplicated,
confidence-scored, and served back as relevance-ranked context.

All state lives in a .kodo/ directory at the project root. Run 'kodo init'
once per project, then wire 'kodo reflect --hook' into your agent's hooks.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "dir", ".", "project directory to operate in")
	rootCmd.PersistentFlags().BoolVar(&rootVerbose, "verbose", false, "enable debug logging")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &exitError{code: exitUsage, err: err}
	})
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  exactArgs(0),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kodo %s\n", version)
		fmt.Printf("  commit: %s\n", gitCommit)
		fmt.Printf("  built:  %s\n", buildDate)
	},
}

// exitError pairs an error with the process exit code it maps to.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageErr reports a bad invocation.
func usageErr(format string, a ...interface{}) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, a...)}
}

// exitCode classifies err for os.Exit.
func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	var notInit *store.NotInitializedError
	if errors.As(err, &notInit) {
		return exitNotInitialized
	}
	return exitGeneral
}

// exactArgs wraps cobra's validator so argument-count mistakes exit
// with the usage code instead of the general one.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageErr("%v", err)
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return usageErr("%v", err)
		}
		return nil
	}
}

// loadConfig resolves the project configuration and builds the process
// logger. The config file lives inside .kodo/, so a missing store is
// tolerated: defaults and environment still apply, which is what
// 'kodo init' relies on.
func loadConfig() error {
	path := ""
	if root, err := store.Find(rootDir); err == nil {
		path = store.NewLayout(root).ConfigFile()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}

	logCfg := loaded.Logging
	if rootVerbose {
		logCfg.Level = "debug"
	}
	if daemonLog {
		logCfg.Format = "json"
	}
	lg, err := logging.New(logCfg, nil)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}

	cfg = loaded
	logger = lg
	return nil
}

// openEngine wires the full stack for one command invocation. The
// caller owns the returned engine and must Close it.
func openEngine() (*engine.Engine, error) {
	if err := loadConfig(); err != nil {
		return nil, err
	}
	return engine.Open(engine.Options{
		Dir:    rootDir,
		Config: cfg,
		Logger: logger,
	})
}

// Helper functions shared across commands.

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
