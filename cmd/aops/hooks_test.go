package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/academicops/aops/internal/hookio"
)

func TestGenerateHooksConfig_CoversEveryEvent(t *testing.T) {
	cfg, err := generateHooksConfig("")
	if err != nil {
		t.Fatalf("generateHooksConfig: %v", err)
	}
	for _, kind := range hookio.Kinds {
		groups := cfg[string(kind)]
		if len(groups) == 0 {
			t.Errorf("%s: no hook groups", kind)
			continue
		}
		want := "aops hook " + string(kind)
		if got := groups[0].Hooks[0].Command; got != want {
			t.Errorf("%s: command = %q, want %q", kind, got, want)
		}
	}
}

func TestGenerateHooksConfig_Binary(t *testing.T) {
	cfg, err := generateHooksConfig("/usr/local/bin/aops")
	if err != nil {
		t.Fatalf("generateHooksConfig: %v", err)
	}
	if got := cfg["Stop"][0].Hooks[0].Command; got != "/usr/local/bin/aops hook Stop" {
		t.Errorf("command = %q", got)
	}

	cfg, err = generateHooksConfig("/Users/a b/aops")
	if err != nil {
		t.Fatalf("generateHooksConfig: %v", err)
	}
	if got := cfg["Stop"][0].Hooks[0].Command; got != "'/Users/a b/aops' hook Stop" {
		t.Errorf("quoted command = %q", got)
	}
}

func TestHookTimeoutsExceedBudgets(t *testing.T) {
	cfg, err := generateHooksConfig("")
	if err != nil {
		t.Fatalf("generateHooksConfig: %v", err)
	}
	for _, kind := range []string{"Stop", "SubagentStop"} {
		if got := cfg[kind][0].Hooks[0].Timeout; got < 45 {
			t.Errorf("%s timeout = %ds, shorter than the stop budget", kind, got)
		}
	}
}

func TestIsManagedHookCommand(t *testing.T) {
	tests := []struct {
		cmd  string
		want bool
	}{
		{"aops hook Stop", true},
		{"/opt/bin/aops hook PreToolUse", true},
		{"'/Users/a b/aops' hook Stop", true},
		{"AOPS_LOG_LEVEL=debug aops hook Stop", true},
		{"aops doctor", false},
		{"ao inject --apply-decay", false},
		{"other-tool check", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isManagedHookCommand(tt.cmd); got != tt.want {
			t.Errorf("isManagedHookCommand(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func rawSettings(t *testing.T, doc string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return raw
}

func TestMergeHookEvents_PreservesForeignAndReplacesOwn(t *testing.T) {
	raw := rawSettings(t, `{"hooks":{
		"PreToolUse":[
			{"matcher":"Bash","hooks":[{"type":"command","command":"other-tool check"}]},
			{"hooks":[{"type":"command","command":"/old/aops hook PreToolUse"}]}
		],
		"Notification":[{"hooks":[{"type":"command","command":"notify-send hi"}]}]
	}}`)
	cfg, err := generateHooksConfig("")
	if err != nil {
		t.Fatal(err)
	}

	hooksMap := cloneHooksMap(raw)
	if n := mergeHookEvents(hooksMap, cfg); n != len(hookio.Kinds) {
		t.Errorf("installed = %d, want %d", n, len(hookio.Kinds))
	}

	pre, ok := hooksMap["PreToolUse"].([]any)
	if !ok || len(pre) != 2 {
		t.Fatalf("PreToolUse groups = %#v", hooksMap["PreToolUse"])
	}
	if !strings.Contains(mustJSON(t, pre[0]), "other-tool check") {
		t.Errorf("foreign group not kept first: %s", mustJSON(t, pre[0]))
	}
	if strings.Contains(mustJSON(t, pre), "/old/aops") {
		t.Error("stale aops entry not replaced")
	}
	if _, ok := hooksMap["Notification"]; !ok {
		t.Error("unrelated event dropped")
	}

	// Merging twice is idempotent.
	mergeHookEvents(hooksMap, cfg)
	if pre := hooksMap["PreToolUse"].([]any); len(pre) != 2 {
		t.Errorf("second merge: %d groups, want 2", len(pre))
	}
}

func TestRemoveHookEvents(t *testing.T) {
	raw := rawSettings(t, `{"hooks":{
		"PreToolUse":[
			{"matcher":"Bash","hooks":[{"type":"command","command":"other-tool check"}]},
			{"hooks":[{"type":"command","command":"aops hook PreToolUse"}]}
		],
		"Stop":[{"hooks":[{"type":"command","command":"aops hook Stop"}]}]
	}}`)
	hooksMap := cloneHooksMap(raw)
	if n := removeHookEvents(hooksMap); n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if _, ok := hooksMap["Stop"]; ok {
		t.Error("empty Stop event not deleted")
	}
	if pre := hooksMap["PreToolUse"].([]any); len(pre) != 1 {
		t.Errorf("PreToolUse groups = %d, want 1", len(pre))
	}
}

func TestInstalledEverywhere(t *testing.T) {
	cfg, err := generateHooksConfig("")
	if err != nil {
		t.Fatal(err)
	}
	raw := map[string]any{}
	if installedEverywhere(raw) {
		t.Error("empty settings reported installed")
	}
	hooksMap := cloneHooksMap(raw)
	mergeHookEvents(hooksMap, cfg)
	// Round-trip through JSON so groups are []any, as read from disk.
	raw = rawSettings(t, mustJSON(t, map[string]any{"hooks": hooksMap}))
	if !installedEverywhere(raw) {
		t.Error("full install not detected")
	}
	delete(raw["hooks"].(map[string]any), "SubagentStop")
	if installedEverywhere(raw) {
		t.Error("partial install reported complete")
	}
}

func TestLoadHooksSettings(t *testing.T) {
	dir := t.TempDir()

	raw, err := loadHooksSettings(filepath.Join(dir, "missing.json"))
	if err != nil || len(raw) != 0 {
		t.Errorf("missing file: raw=%v err=%v", raw, err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadHooksSettings(empty); err != nil {
		t.Errorf("empty file: %v", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadHooksSettings(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestWriteHooksSettings_CreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".claude", "settings.json")
	if err := writeHooksSettings(path, map[string]any{"model": "opus"}); err != nil {
		t.Fatalf("writeHooksSettings: %v", err)
	}
	raw, err := loadHooksSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw["model"] != "opus" {
		t.Errorf("round trip lost settings: %v", raw)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
