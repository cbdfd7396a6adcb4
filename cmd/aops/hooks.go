package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/academicops/aops/embedded"
	"github.com/academicops/aops/internal/hookio"
)

var (
	hooksFormat   string
	hooksDryRun   bool
	hooksForce    bool
	hooksSettings string
	hooksBinary   string
)

// HookEntry is a single hook command, e.g. {"type": "command", "command": "..."}.
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup is a hook group with an optional tool matcher.
type HookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []HookEntry `json:"hooks"`
}

// HooksConfig maps event names to their hook groups.
type HooksConfig map[string][]HookGroup

type hooksManifest struct {
	Hooks HooksConfig `json:"hooks"`
}

// ReadHooksManifest parses a manifest with a top-level "hooks" key.
func ReadHooksManifest(data []byte) (HooksConfig, error) {
	var manifest hooksManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse hooks manifest: %w", err)
	}
	if manifest.Hooks == nil {
		return nil, errors.New("hooks manifest missing 'hooks' key")
	}
	return manifest.Hooks, nil
}

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Generate, install or show the runtime hook configuration",
	Long: `Manage the entries in the runtime's settings.json that route every hook
event to 'aops hook <Event>'.

Subcommands:
  init        Print the hook configuration
  install     Merge it into settings.json
  uninstall   Remove aops entries from settings.json
  show        Show per-event coverage

Other hooks in settings.json are preserved. Existing aops entries are
replaced, never duplicated.`,
}

var hooksInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print the hook configuration",
	Long: `Print the hook configuration for manual editing of settings.json.

Output formats:
  json     the "hooks" block (default)
  shell    one command per event, for checking by hand`,
	RunE: runHooksInit,
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install hooks into the runtime settings",
	Long: `Install aops hooks into settings.json (default ~/.claude/settings.json).

This command:
  1. Reads existing settings (if any)
  2. Drops previous aops entries and appends the current ones
  3. Backs up the original file
  4. Writes the updated settings

Use --binary to point the hooks at an absolute path instead of 'aops' on PATH.`,
	RunE: runHooksInstall,
}

var hooksUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove aops hooks from the runtime settings",
	RunE:  runHooksUninstall,
}

var hooksShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show per-event hook coverage",
	RunE:  runHooksShow,
}

func init() {
	hooksCmd.PersistentFlags().StringVar(&hooksSettings, "settings", "", "Settings file (default ~/.claude/settings.json)")
	hooksCmd.PersistentFlags().StringVar(&hooksBinary, "binary", "", "Command used in hook entries (default: aops)")

	hooksInitCmd.Flags().StringVar(&hooksFormat, "format", "json", "Output format: json, shell")
	hooksInstallCmd.Flags().BoolVar(&hooksDryRun, "dry-run", false, "Print the resulting settings without writing")
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "Reinstall even if aops hooks are present")
	hooksUninstallCmd.Flags().BoolVar(&hooksDryRun, "dry-run", false, "Print the resulting settings without writing")

	hooksCmd.AddCommand(hooksInitCmd, hooksInstallCmd, hooksUninstallCmd, hooksShowCmd)
	rootCmd.AddCommand(hooksCmd)
}

// settingsPath is --settings, else ~/.claude/settings.json.
func settingsPath() (string, error) {
	if hooksSettings != "" {
		return hooksSettings, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// generateHooksConfig loads the embedded manifest and points it at binary.
func generateHooksConfig(binary string) (HooksConfig, error) {
	cfg, err := ReadHooksManifest(embedded.HooksJSON)
	if err != nil {
		return nil, err
	}
	if binary == "" || binary == "aops" {
		return cfg, nil
	}
	for _, groups := range cfg {
		for i := range groups {
			for j := range groups[i].Hooks {
				h := &groups[i].Hooks[j]
				if rest, ok := strings.CutPrefix(h.Command, "aops "); ok {
					h.Command = quoteArg(binary) + " " + rest
				}
			}
		}
	}
	return cfg, nil
}

func quoteArg(s string) string {
	if !strings.ContainsAny(s, " \t'\"") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func runHooksInit(cmd *cobra.Command, args []string) error {
	cfg, err := generateHooksConfig(hooksBinary)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	switch hooksFormat {
	case "json":
		data, err := json.MarshalIndent(hooksManifest{Hooks: cfg}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal hooks: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "shell":
		fmt.Fprintln(w, "# aops hook commands, one per event")
		for _, kind := range hookio.Kinds {
			for _, g := range cfg[string(kind)] {
				for _, h := range g.Hooks {
					fmt.Fprintf(w, "# %s (timeout %ds)\n%s\n", kind, h.Timeout, h.Command)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use json or shell)", hooksFormat)
	}
}

func loadHooksSettings(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse existing settings: %w", err)
	}
	return raw, nil
}

func cloneHooksMap(raw map[string]any) map[string]any {
	hooksMap := make(map[string]any)
	if existing, ok := raw["hooks"].(map[string]any); ok {
		for k, v := range existing {
			hooksMap[k] = v
		}
	}
	return hooksMap
}

// mergeHookEvents replaces aops groups for every event in newHooks and keeps
// everything else. Returns the number of events written.
func mergeHookEvents(hooksMap map[string]any, newHooks HooksConfig) int {
	installed := 0
	for _, kind := range hookio.Kinds {
		event := string(kind)
		newGroups := newHooks[event]
		if len(newGroups) == 0 {
			continue
		}
		groups := filterForeignHookGroups(hooksMap, event)
		for _, g := range newGroups {
			groups = append(groups, hookGroupToMap(g))
		}
		hooksMap[event] = groups
		installed++
	}
	return installed
}

// removeHookEvents drops aops groups from every event, deleting events left
// empty. Returns the number of groups removed.
func removeHookEvents(hooksMap map[string]any) int {
	removed := 0
	for event, v := range hooksMap {
		groups, ok := v.([]any)
		if !ok {
			continue
		}
		kept := filterForeignHookGroups(hooksMap, event)
		removed += len(groups) - len(kept)
		if len(kept) == 0 {
			delete(hooksMap, event)
		} else {
			hooksMap[event] = kept
		}
	}
	return removed
}

// filterForeignHookGroups returns the event's groups that aops does not manage.
func filterForeignHookGroups(hooksMap map[string]any, event string) []any {
	result := make([]any, 0)
	groups, ok := hooksMap[event].([]any)
	if !ok {
		return result
	}
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if ok && rawGroupIsManaged(group) {
			continue
		}
		result = append(result, g)
	}
	return result
}

func rawGroupIsManaged(group map[string]any) bool {
	hooks, ok := group["hooks"].([]any)
	if !ok {
		return false
	}
	for _, h := range hooks {
		hook, ok := h.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := hook["command"].(string); ok && isManagedHookCommand(c) {
			return true
		}
	}
	return false
}

// isManagedHookCommand matches "aops hook ..." whether aops is on PATH or
// given as a path.
func isManagedHookCommand(command string) bool {
	_, ok := managedBinary(command)
	return ok
}

// hookGroupContainsManaged reports whether any group of event runs aops.
func hookGroupContainsManaged(hooksMap map[string]any, event string) bool {
	groups, ok := hooksMap[event].([]any)
	if !ok {
		return false
	}
	for _, g := range groups {
		if group, ok := g.(map[string]any); ok && rawGroupIsManaged(group) {
			return true
		}
	}
	return false
}

func hookGroupToMap(g HookGroup) map[string]any {
	hooks := make([]any, len(g.Hooks))
	for i, h := range g.Hooks {
		entry := map[string]any{
			"type":    h.Type,
			"command": h.Command,
		}
		if h.Timeout > 0 {
			entry["timeout"] = h.Timeout
		}
		hooks[i] = entry
	}
	result := map[string]any{"hooks": hooks}
	if g.Matcher != "" {
		result["matcher"] = g.Matcher
	}
	return result
}

// installedEverywhere reports whether every event already routes to aops.
func installedEverywhere(raw map[string]any) bool {
	hooksMap, ok := raw["hooks"].(map[string]any)
	if !ok {
		return false
	}
	for _, kind := range hookio.Kinds {
		if !hookGroupContainsManaged(hooksMap, string(kind)) {
			return false
		}
	}
	return true
}

func backupHooksSettings(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	backup := fmt.Sprintf("%s.backup.%s", path, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	fmt.Fprintf(w, "Backed up existing settings to %s\n", backup)
	return nil
}

func writeHooksSettings(path string, raw map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// saveHooksSettings prints under --dry-run, else backs up and writes.
func saveHooksSettings(w io.Writer, path string, raw map[string]any) (written bool, err error) {
	if hooksDryRun {
		fmt.Fprintln(w, "[dry-run] Would write to", path)
		data, err := json.MarshalIndent(raw, "", "  ")
		if err != nil {
			return false, fmt.Errorf("marshal settings: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return false, nil
	}
	if err := backupHooksSettings(w, path); err != nil {
		return false, err
	}
	return true, writeHooksSettings(path, raw)
}

func runHooksInstall(cmd *cobra.Command, args []string) error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	raw, err := loadHooksSettings(path)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if !hooksForce && installedEverywhere(raw) {
		fmt.Fprintln(w, "aops hooks already installed. Use --force to reinstall.")
		return nil
	}

	newHooks, err := generateHooksConfig(hooksBinary)
	if err != nil {
		return err
	}
	hooksMap := cloneHooksMap(raw)
	installed := mergeHookEvents(hooksMap, newHooks)
	raw["hooks"] = hooksMap

	written, err := saveHooksSettings(w, path, raw)
	if err != nil || !written {
		return err
	}
	fmt.Fprintf(w, "Installed aops hooks to %s (%d/%d events)\n", path, installed, len(hookio.Kinds))
	fmt.Fprintln(w, "Run 'aops doctor' to verify the installation.")
	return nil
}

func runHooksUninstall(cmd *cobra.Command, args []string) error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	raw, err := loadHooksSettings(path)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	hooksMap := cloneHooksMap(raw)
	removed := removeHookEvents(hooksMap)
	if removed == 0 {
		fmt.Fprintln(w, "No aops hooks found in", path)
		return nil
	}
	if len(hooksMap) == 0 {
		delete(raw, "hooks")
	} else {
		raw["hooks"] = hooksMap
	}

	written, err := saveHooksSettings(w, path, raw)
	if err != nil || !written {
		return err
	}
	fmt.Fprintf(w, "Removed %d aops hook group(s) from %s\n", removed, path)
	return nil
}

// hookCoverage reports, per event kind, whether aops handles it.
func hookCoverage(path string) (map[hookio.EventKind]bool, error) {
	raw, err := loadHooksSettings(path)
	if err != nil {
		return nil, err
	}
	hooksMap, _ := raw["hooks"].(map[string]any)
	cov := make(map[hookio.EventKind]bool, len(hookio.Kinds))
	for _, kind := range hookio.Kinds {
		cov[kind] = hooksMap != nil && hookGroupContainsManaged(hooksMap, string(kind))
	}
	return cov, nil
}

func runHooksShow(cmd *cobra.Command, args []string) error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	cov, err := hookCoverage(path)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Hook coverage (%s):\n\n", path)
	installed := 0
	for _, kind := range hookio.Kinds {
		if cov[kind] {
			fmt.Fprintf(w, "  ✓ %-18s aops hook %s\n", kind, kind)
			installed++
		} else {
			fmt.Fprintf(w, "  - %-18s not installed\n", kind)
		}
	}
	fmt.Fprintf(w, "\n%d/%d events installed\n", installed, len(hookio.Kinds))
	if installed < len(hookio.Kinds) {
		fmt.Fprintln(w, "Run 'aops hooks install' for complete coverage.")
	}
	return nil
}
