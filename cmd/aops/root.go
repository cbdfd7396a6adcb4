package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	logLevel  string
	logFormat string
	cfgFile   string
	workDir   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aops",
	Short: "academicOps hook and policy layer",
	Long: `aops runs the hooks the agent runtime calls at each lifecycle point, and
gives operators a view of what those hooks will decide.

Hook Entry Point:
  hook      Read one event on stdin, write one decision on stdout

Inspection:
  resolve   Show the merged instruction set for a directory
  rules     List the merged policy rules, or check a path against them
  session   Show or clear pending deferred actions
  config    Show effective settings and where each came from
  doctor    Check the installation

Setup:
  hooks     Generate, install or show the runtime hook configuration

Tiers are read from $AOPS (framework, required), $AOPS_PERSONAL (optional)
and the nearest .aops directory above the working directory (project).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
		initLogging(config.Default())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Project config file (default: <project>/.aops/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "cwd", "C", "", "Directory to resolve tiers from (default: current directory)")
}

// exitError carries a specific exit code without printing anything more.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// run executes the root command and returns the process exit code.
func run() int {
	defer log.Sync()

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "aops:", err)
	return 1
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("AOPS_CONFIG", path) //nolint:errcheck // only fails on invalid key
}

// flagOverrides returns the config set by global flags.
func flagOverrides() *config.Config {
	return &config.Config{LogLevel: logLevel, LogFormat: logFormat}
}

// initLogging points the global logger at stderr with cfg's settings.
func initLogging(cfg *config.Config) {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(firstNonEmpty(logLevel, os.Getenv("AOPS_LOG_LEVEL"), cfg.LogLevel))
	if f := firstNonEmpty(logFormat, os.Getenv("AOPS_LOG_FORMAT"), cfg.LogFormat); f != "" {
		lc.Format = f
	}
	log.Init(lc)
}

// loadConfig loads settings for cwd and re-initializes logging from them.
func loadConfig(cwd string) (*config.Config, error) {
	cfg, err := config.Load(cwd, flagOverrides())
	if err != nil {
		return nil, err
	}
	initLogging(cfg)
	return cfg, nil
}

// resolveCwd is --cwd made absolute, else the process working directory.
func resolveCwd() (string, error) {
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return "", fmt.Errorf("resolve --cwd: %w", err)
		}
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
