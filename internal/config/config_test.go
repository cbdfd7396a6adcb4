package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/academicops/aops/internal/lifecycle"
)

// isolate clears every variable Load reads so the host environment cannot leak in.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AOPS", "AOPS_PERSONAL", "AOPS_CONFIG",
		"AOPS_LOG_LEVEL", "AOPS_LOG_FORMAT", "AOPS_SESSION_STATE_DIR",
		"AOPS_EVENT_LOG_DIR", "AOPS_EVENT_LOG", "AOPS_AUTOCOMMIT",
		"AOPS_AUTOCOMMIT_REPO", "AOPS_AUTOCOMMIT_PUSH",
		"AOPS_FAILURE_VALIDATION", "AOPS_STOP_BUDGET",
	} {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "warn" {
		t.Errorf("Default LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.Failure.Validation != FailClosed {
		t.Errorf("Default Failure.Validation = %q, want %q", cfg.Failure.Validation, FailClosed)
	}
	if cfg.Failure.Lifecycle != FailOpen {
		t.Errorf("Default Failure.Lifecycle = %q, want %q", cfg.Failure.Lifecycle, FailOpen)
	}
	if Bool(cfg.Autocommit.Enabled) {
		t.Error("Default Autocommit.Enabled = true, want false")
	}
	if !Bool(cfg.EventLog.Enabled) {
		t.Error("Default EventLog.Enabled = false, want true")
	}
	if Duration(cfg.Budgets.PreToolUse).Milliseconds() != 800 {
		t.Errorf("Default PreToolUse budget = %q, want 800ms", cfg.Budgets.PreToolUse)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config does not validate: %v", err)
	}
}

func TestDefault_DeferredActionMatchesLifecycle(t *testing.T) {
	if got := Default().Lifecycle.DeferredAction; got != lifecycle.DefaultDeferredAction {
		t.Errorf("DeferredAction = %q, want lifecycle.DefaultDeferredAction", got)
	}
}

func TestMerge(t *testing.T) {
	dst := Default()
	src := &Config{
		LogLevel:  "debug",
		Lifecycle: LifecycleConfig{MinToolCalls: intPtr(7)},
	}

	result := merge(dst, src)

	if result.LogLevel != "debug" {
		t.Errorf("merge LogLevel = %q, want %q", result.LogLevel, "debug")
	}
	if Int(result.Lifecycle.MinToolCalls) != 7 {
		t.Errorf("merge MinToolCalls = %d, want 7", Int(result.Lifecycle.MinToolCalls))
	}
	// Defaults should be preserved when not overridden
	if Int(result.Lifecycle.MinMutations) != 1 {
		t.Errorf("merge preserved MinMutations = %d, want 1", Int(result.Lifecycle.MinMutations))
	}
	if result.LogFormat != "console" {
		t.Errorf("merge preserved LogFormat = %q, want console", result.LogFormat)
	}
}

func TestMerge_BooleanOverride(t *testing.T) {
	dst := Default()
	if !Bool(dst.Autocommit.OnStop) {
		t.Fatal("Precondition: default Autocommit.OnStop should be true")
	}

	// Explicit false wins over a true default
	src := &Config{Autocommit: AutocommitConfig{OnStop: boolPtr(false)}}
	result := merge(dst, src)
	if Bool(result.Autocommit.OnStop) {
		t.Error("merge should override OnStop to false when explicitly set")
	}

	// Unset leaves the value alone
	result = merge(result, &Config{})
	if result.Autocommit.OnStop == nil || *result.Autocommit.OnStop {
		t.Error("merge with unset OnStop should keep false")
	}
}

func TestMerge_ExplicitZeroThreshold(t *testing.T) {
	result := merge(Default(), &Config{Lifecycle: LifecycleConfig{MinMutations: intPtr(0)}})
	if result.Lifecycle.MinMutations == nil || *result.Lifecycle.MinMutations != 0 {
		t.Errorf("MinMutations = %v, want explicit 0", result.Lifecycle.MinMutations)
	}
	if Int(result.Lifecycle.MinToolCalls) != 3 {
		t.Errorf("MinToolCalls = %d, want default 3", Int(result.Lifecycle.MinToolCalls))
	}
}

func TestLoad_ZeroDisablesMutationTrigger(t *testing.T) {
	isolate(t)
	base := t.TempDir()
	framework := filepath.Join(base, "framework")
	project := filepath.Join(base, "proj")
	writeYAML(t, filepath.Join(framework, "config.yaml"), "lifecycle:\n  min_mutations: 2\n")
	writeYAML(t, filepath.Join(project, ".aops", "config.yaml"), "lifecycle:\n  min_mutations: 0\n")
	t.Setenv("AOPS", framework)

	cfg, err := Load(project, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lifecycle.MinMutations == nil || *cfg.Lifecycle.MinMutations != 0 {
		t.Errorf("MinMutations = %v, want 0 from project", cfg.Lifecycle.MinMutations)
	}
}

func TestMerge_ListsReplace(t *testing.T) {
	dst := Default()
	result := merge(dst, &Config{Autocommit: AutocommitConfig{Paths: []string{"tasks", "notes"}}})

	if len(result.Autocommit.Paths) != 2 || result.Autocommit.Paths[0] != "tasks" {
		t.Errorf("merge Paths = %v, want [tasks notes]", result.Autocommit.Paths)
	}
}

func TestLoad_TierPrecedence(t *testing.T) {
	isolate(t)
	base := t.TempDir()
	framework := filepath.Join(base, "framework")
	personal := filepath.Join(base, "personal")
	project := filepath.Join(base, "proj")

	writeYAML(t, filepath.Join(framework, "config.yaml"), "log_level: info\nlifecycle:\n  min_tool_calls: 5\n  min_mutations: 2\n")
	writeYAML(t, filepath.Join(personal, "config.yaml"), "lifecycle:\n  min_tool_calls: 4\n")
	writeYAML(t, filepath.Join(project, ".aops", "config.yaml"), "autocommit:\n  enabled: true\n")
	t.Setenv("AOPS", framework)
	t.Setenv("AOPS_PERSONAL", personal)

	cfg, err := Load(filepath.Join(project, "src"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info (framework)", cfg.LogLevel)
	}
	if Int(cfg.Lifecycle.MinToolCalls) != 4 {
		t.Errorf("MinToolCalls = %d, want 4 (personal over framework)", Int(cfg.Lifecycle.MinToolCalls))
	}
	if Int(cfg.Lifecycle.MinMutations) != 2 {
		t.Errorf("MinMutations = %d, want 2 (framework)", Int(cfg.Lifecycle.MinMutations))
	}
	if !Bool(cfg.Autocommit.Enabled) {
		t.Error("Autocommit.Enabled = false, want true (project)")
	}
}

func TestLoad_EnvAndFlagOverride(t *testing.T) {
	isolate(t)
	framework := t.TempDir()
	writeYAML(t, filepath.Join(framework, "config.yaml"), "log_level: info\n")
	t.Setenv("AOPS", framework)
	t.Setenv("AOPS_LOG_LEVEL", "error")
	t.Setenv("AOPS_AUTOCOMMIT", "yes")

	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env)", cfg.LogLevel)
	}
	if !Bool(cfg.Autocommit.Enabled) {
		t.Error("AOPS_AUTOCOMMIT=yes not applied")
	}

	cfg, err = Load(t.TempDir(), &Config{LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug (flag)", cfg.LogLevel)
	}
}

func TestLoad_ConfigOverridePath(t *testing.T) {
	isolate(t)
	override := filepath.Join(t.TempDir(), "custom.yaml")
	writeYAML(t, override, "log_format: json\n")
	t.Setenv("AOPS_CONFIG", override)

	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoad_MissingFilesUseDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("AOPS", filepath.Join(t.TempDir(), "absent"))

	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want default warn", cfg.LogLevel)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "log_level: [unclosed\n"},
		{"bad level", "log_level: loud\n"},
		{"bad failure mode", "failure:\n  validation: sometimes\n"},
		{"closed observability", "failure:\n  observability: closed\n"},
		{"bad budget", "budgets:\n  stop: forever\n"},
		{"negative budget", "budgets:\n  pre_tool_use: -1s\n"},
		{"negative threshold", "lifecycle:\n  min_tool_calls: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			framework := t.TempDir()
			writeYAML(t, filepath.Join(framework, "config.yaml"), tt.body)
			t.Setenv("AOPS", framework)

			_, err := Load(t.TempDir(), nil)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestResolve_Sources(t *testing.T) {
	isolate(t)
	framework := t.TempDir()
	writeYAML(t, filepath.Join(framework, "config.yaml"), "log_format: json\n")
	t.Setenv("AOPS", framework)
	t.Setenv("AOPS_SESSION_STATE_DIR", "/tmp/flags")

	got, err := Resolve(t.TempDir(), &Config{LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	bykey := make(map[string]Resolved, len(got))
	for _, r := range got {
		bykey[r.Key] = r
	}

	want := map[string]Source{
		"log_level":          SourceFlag,
		"log_format":         SourceFramework,
		"state_dir":          SourceEnv,
		"failure.validation": SourceDefault,
	}
	for key, src := range want {
		if bykey[key].Source != src {
			t.Errorf("%s source = %q, want %q", key, bykey[key].Source, src)
		}
	}
	if bykey["failure.validation"].Value != FailClosed {
		t.Errorf("failure.validation = %q, want closed", bykey["failure.validation"].Value)
	}
	if len(got) != len(fields) {
		t.Errorf("Resolve returned %d fields, want %d", len(got), len(fields))
	}
}
