// Package config provides runtime settings for aops hooks.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AOPS_*)
// 3. Project config (<project>/.aops/config.yaml, or $AOPS_CONFIG)
// 4. Personal config ($AOPS_PERSONAL/config.yaml)
// 5. Framework config ($AOPS/config.yaml)
// 6. Defaults
//
// Missing files are skipped. Files that exist but do not parse are errors:
// a broken config is never silently replaced by defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/academicops/aops/internal/lifecycle"
	"github.com/academicops/aops/internal/tier"
)

// Config holds all aops runtime settings.
type Config struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is console or json.
	LogFormat string `yaml:"log_format" json:"log_format"`

	// StateDir holds session flags.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	Budgets    BudgetConfig     `yaml:"budgets" json:"budgets"`
	Failure    FailureConfig    `yaml:"failure" json:"failure"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle" json:"lifecycle"`
	Autocommit AutocommitConfig `yaml:"autocommit" json:"autocommit"`
	EventLog   EventLogConfig   `yaml:"event_log" json:"event_log"`
}

// BudgetConfig holds per-event wall-clock budgets as Go durations.
type BudgetConfig struct {
	PreToolUse       string `yaml:"pre_tool_use" json:"pre_tool_use"`
	PostToolUse      string `yaml:"post_tool_use" json:"post_tool_use"`
	UserPromptSubmit string `yaml:"user_prompt_submit" json:"user_prompt_submit"`
	SessionStart     string `yaml:"session_start" json:"session_start"`
	// Stop also covers SubagentStop.
	Stop string `yaml:"stop" json:"stop"`
}

// FailureConfig sets, per handler category, whether an internal failure
// allows ("open") or blocks ("closed") the event.
type FailureConfig struct {
	Validation    string `yaml:"validation" json:"validation"`
	Lifecycle     string `yaml:"lifecycle" json:"lifecycle"`
	Context       string `yaml:"context" json:"context"`
	Observability string `yaml:"observability" json:"observability"`
}

// LifecycleConfig tunes the stop state machine.
type LifecycleConfig struct {
	// MinToolCalls and MinMutations decide when a turn was substantial.
	// Zero disables that trigger.
	MinToolCalls *int `yaml:"min_tool_calls" json:"min_tool_calls"`
	MinMutations *int `yaml:"min_mutations" json:"min_mutations"`
	// DeferredAction is the instruction given when a stop is deferred. The
	// merged "deferred-action" instruction block takes precedence.
	DeferredAction string   `yaml:"deferred_action" json:"deferred_action"`
	QuestionTools  []string `yaml:"question_tools" json:"question_tools"`
}

// AutocommitConfig controls git commits of state changes.
type AutocommitConfig struct {
	Enabled *bool `yaml:"enabled" json:"enabled"`
	// OnStop also commits when a stop is allowed.
	OnStop *bool `yaml:"on_stop" json:"on_stop"`
	// Repo defaults to the project root.
	Repo  string   `yaml:"repo" json:"repo"`
	Paths []string `yaml:"paths" json:"paths"`
	// Commands are substrings of Bash commands that change state without
	// a file tool, e.g. task scripts.
	Commands []string `yaml:"commands" json:"commands"`
	// Tools are non-file tools that change state, e.g. memory server writes.
	Tools   []string `yaml:"tools" json:"tools"`
	Push    *bool    `yaml:"push" json:"push"`
	Timeout string   `yaml:"timeout" json:"timeout"`
}

// EventLogConfig controls the JSONL invocation log.
type EventLogConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// Failure modes.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Default config values (used in resolution and validation).
const (
	defaultLogLevel       = "warn"
	defaultLogFormat      = "console"
	defaultDeferredAction = lifecycle.DefaultDeferredAction
)

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

// Int dereferences an optional number; unset is zero.
func Int(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// Bool dereferences an optional flag.
func Bool(b *bool) bool { return b != nil && *b }

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Budgets: BudgetConfig{
			PreToolUse:       "800ms",
			PostToolUse:      "3s",
			UserPromptSubmit: "2s",
			SessionStart:     "5s",
			Stop:             "45s",
		},
		Failure: FailureConfig{
			Validation:    FailClosed,
			Lifecycle:     FailOpen,
			Context:       FailOpen,
			Observability: FailOpen,
		},
		Lifecycle: LifecycleConfig{
			MinToolCalls:   intPtr(3),
			MinMutations:   intPtr(1),
			DeferredAction: defaultDeferredAction,
			QuestionTools:  []string{"AskUserQuestion"},
		},
		Autocommit: AutocommitConfig{
			Enabled: boolPtr(false),
			OnStop:  boolPtr(true),
			Paths:   []string{"data"},
			Commands: []string{
				"task_add.py", "task_archive.py", "task_process.py", "task_create.py", "task_modify.py",
			},
			Tools: []string{
				"mcp__memory__store_memory", "mcp__memory__update_memory_metadata",
				"mcp__memory__delete_memory", "mcp__memory__ingest_document",
			},
			Push:    boolPtr(false),
			Timeout: "20s",
		},
		EventLog: EventLogConfig{
			Enabled: boolPtr(true),
		},
	}
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault   Source = "default"
	SourceFramework Source = "$AOPS/config.yaml"
	SourcePersonal  Source = "$AOPS_PERSONAL/config.yaml"
	SourceProject   Source = ".aops/config.yaml"
	SourceEnv       Source = "environment"
	SourceFlag      Source = "flag"
)

type layer struct {
	source Source
	path   string
	cfg    *Config
}

// configPaths returns the file for each file-backed layer, lowest first.
func configPaths(cwd string) []layer {
	var out []layer
	if root := strings.TrimSpace(os.Getenv(tier.EnvFramework)); root != "" {
		out = append(out, layer{source: SourceFramework, path: filepath.Join(root, tier.ConfigFile)})
	}
	if root := strings.TrimSpace(os.Getenv(tier.EnvPersonal)); root != "" {
		out = append(out, layer{source: SourcePersonal, path: filepath.Join(root, tier.ConfigFile)})
	}
	if override := strings.TrimSpace(os.Getenv("AOPS_CONFIG")); override != "" {
		out = append(out, layer{source: SourceProject, path: override})
	} else if root, ok := tier.FindProjectRoot(cwd); ok {
		out = append(out, layer{source: SourceProject, path: filepath.Join(root, tier.ProjectMarker, tier.ConfigFile)})
	}
	return out
}

// layers loads every configured layer in ascending precedence.
func layers(cwd string, flags *Config) ([]layer, error) {
	ls := []layer{{source: SourceDefault, cfg: Default()}}
	for _, l := range configPaths(cwd) {
		cfg, err := loadFromPath(l.path)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			l.cfg = cfg
			ls = append(ls, l)
		}
	}
	ls = append(ls, layer{source: SourceEnv, cfg: fromEnv()})
	if flags != nil {
		ls = append(ls, layer{source: SourceFlag, cfg: flags})
	}
	return ls, nil
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > personal > framework > defaults
func Load(cwd string, flagOverrides *Config) (*Config, error) {
	ls, err := layers(cwd, flagOverrides)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	for _, l := range ls[1:] {
		cfg = merge(cfg, l.cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromPath loads config from a YAML file. A missing file yields nil, nil.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return &cfg, nil
}

// getEnvBool returns the boolean value and whether the variable was set.
func getEnvBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// fromEnv builds a sparse Config from environment overrides.
func fromEnv() *Config {
	cfg := &Config{}
	cfg.LogLevel = os.Getenv("AOPS_LOG_LEVEL")
	cfg.LogFormat = os.Getenv("AOPS_LOG_FORMAT")
	cfg.StateDir = os.Getenv("AOPS_SESSION_STATE_DIR")
	cfg.EventLog.Dir = os.Getenv("AOPS_EVENT_LOG_DIR")
	cfg.Autocommit.Repo = os.Getenv("AOPS_AUTOCOMMIT_REPO")
	cfg.Failure.Validation = os.Getenv("AOPS_FAILURE_VALIDATION")
	cfg.Budgets.Stop = os.Getenv("AOPS_STOP_BUDGET")
	if v, ok := getEnvBool("AOPS_AUTOCOMMIT"); ok {
		cfg.Autocommit.Enabled = boolPtr(v)
	}
	if v, ok := getEnvBool("AOPS_AUTOCOMMIT_PUSH"); ok {
		cfg.Autocommit.Push = boolPtr(v)
	}
	if v, ok := getEnvBool("AOPS_EVENT_LOG"); ok {
		cfg.EventLog.Enabled = boolPtr(v)
	}
	return cfg
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst when src was explicitly set, zero included.
func mergeInt(dst **int, src *int) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// mergeBool overwrites dst when src was explicitly set.
func mergeBool(dst **bool, src *bool) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// mergeList replaces dst when src is non-empty. Lists never concatenate.
func mergeList(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = append([]string(nil), src...)
	}
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.LogLevel, src.LogLevel)
	mergeStr(&dst.LogFormat, src.LogFormat)
	mergeStr(&dst.StateDir, src.StateDir)

	mergeStr(&dst.Budgets.PreToolUse, src.Budgets.PreToolUse)
	mergeStr(&dst.Budgets.PostToolUse, src.Budgets.PostToolUse)
	mergeStr(&dst.Budgets.UserPromptSubmit, src.Budgets.UserPromptSubmit)
	mergeStr(&dst.Budgets.SessionStart, src.Budgets.SessionStart)
	mergeStr(&dst.Budgets.Stop, src.Budgets.Stop)

	mergeStr(&dst.Failure.Validation, src.Failure.Validation)
	mergeStr(&dst.Failure.Lifecycle, src.Failure.Lifecycle)
	mergeStr(&dst.Failure.Context, src.Failure.Context)
	mergeStr(&dst.Failure.Observability, src.Failure.Observability)

	mergeInt(&dst.Lifecycle.MinToolCalls, src.Lifecycle.MinToolCalls)
	mergeInt(&dst.Lifecycle.MinMutations, src.Lifecycle.MinMutations)
	mergeStr(&dst.Lifecycle.DeferredAction, src.Lifecycle.DeferredAction)
	mergeList(&dst.Lifecycle.QuestionTools, src.Lifecycle.QuestionTools)

	mergeBool(&dst.Autocommit.Enabled, src.Autocommit.Enabled)
	mergeBool(&dst.Autocommit.OnStop, src.Autocommit.OnStop)
	mergeStr(&dst.Autocommit.Repo, src.Autocommit.Repo)
	mergeList(&dst.Autocommit.Paths, src.Autocommit.Paths)
	mergeList(&dst.Autocommit.Commands, src.Autocommit.Commands)
	mergeList(&dst.Autocommit.Tools, src.Autocommit.Tools)
	mergeBool(&dst.Autocommit.Push, src.Autocommit.Push)
	mergeStr(&dst.Autocommit.Timeout, src.Autocommit.Timeout)

	mergeBool(&dst.EventLog.Enabled, src.EventLog.Enabled)
	mergeStr(&dst.EventLog.Dir, src.EventLog.Dir)

	return dst
}

// Validate checks values that cannot be checked by YAML decoding.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	for name, v := range map[string]string{
		"validation":    c.Failure.Validation,
		"lifecycle":     c.Failure.Lifecycle,
		"context":       c.Failure.Context,
		"observability": c.Failure.Observability,
	} {
		if v != FailOpen && v != FailClosed {
			return fmt.Errorf("%w: failure.%s must be open or closed, got %q", ErrInvalid, name, v)
		}
	}
	if c.Failure.Observability != FailOpen {
		return fmt.Errorf("%w: failure.observability must be open", ErrInvalid)
	}
	for name, v := range map[string]string{
		"budgets.pre_tool_use":       c.Budgets.PreToolUse,
		"budgets.post_tool_use":      c.Budgets.PostToolUse,
		"budgets.user_prompt_submit": c.Budgets.UserPromptSubmit,
		"budgets.session_start":      c.Budgets.SessionStart,
		"budgets.stop":               c.Budgets.Stop,
		"autocommit.timeout":         c.Autocommit.Timeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %s %q is not a positive duration", ErrInvalid, name, v)
		}
	}
	if Int(c.Lifecycle.MinToolCalls) < 0 || Int(c.Lifecycle.MinMutations) < 0 {
		return fmt.Errorf("%w: lifecycle thresholds must not be negative", ErrInvalid)
	}
	return nil
}

// Duration parses a validated duration field.
func Duration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
