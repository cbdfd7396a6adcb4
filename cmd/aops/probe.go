package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/academicops/aops/internal/hookio"
)

// Probe outcomes, reported distinctly by doctor.
const (
	probeOK           = "ok"
	probeMissing      = "missing"
	probeUnresolvable = "unresolvable"
	probeNoDecision   = "no-decision"
	probeError        = "error"
)

const probeTimeout = 10 * time.Second

const probeSession = "aops-doctor-probe"

type probeResult struct {
	Kind    hookio.EventKind `json:"event"`
	Status  string           `json:"status"`
	Command string           `json:"command,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

// splitWords splits a command line on blanks, honoring single and double
// quotes. It does not expand anything.
func splitWords(s string) []string {
	var (
		words []string
		cur   strings.Builder
		quote rune
		open  bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, open = r, true
		case r == ' ' || r == '\t':
			if open || cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
				open = false
			}
		default:
			cur.WriteRune(r)
		}
	}
	if open || cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}

// managedBinary returns the aops binary of a "… aops hook <Event>" command.
func managedBinary(command string) (string, bool) {
	words := splitWords(command)
	for i := 0; i+1 < len(words); i++ {
		if filepath.Base(words[i]) == "aops" && words[i+1] == "hook" {
			return words[i], true
		}
	}
	return "", false
}

// managedCommands returns the first aops command installed for each event.
func managedCommands(settings string) (map[hookio.EventKind]string, error) {
	raw, err := loadHooksSettings(settings)
	if err != nil {
		return nil, err
	}
	hooksMap, _ := raw["hooks"].(map[string]any)
	out := make(map[hookio.EventKind]string)
	for _, kind := range hookio.Kinds {
		groups, _ := hooksMap[string(kind)].([]any)
		for _, g := range groups {
			group, _ := g.(map[string]any)
			hooks, _ := group["hooks"].([]any)
			for _, h := range hooks {
				hook, _ := h.(map[string]any)
				if c, ok := hook["command"].(string); ok && isManagedHookCommand(c) {
					if _, seen := out[kind]; !seen {
						out[kind] = c
					}
				}
			}
		}
	}
	return out, nil
}

// probeEvent is a harmless event of kind: nothing it carries can be blocked
// or create state.
func probeEvent(kind hookio.EventKind, cwd string) []byte {
	doc := map[string]any{
		"hook_event_name": string(kind),
		"session_id":      probeSession,
		"cwd":             cwd,
	}
	switch kind {
	case hookio.PreToolUse, hookio.PostToolUse:
		doc["tool_name"] = "Glob"
		doc["tool_input"] = map[string]any{"pattern": "*.md"}
	case hookio.UserPromptSubmit:
		doc["prompt"] = "aops doctor probe"
	case hookio.Stop, hookio.SubagentStop:
		doc["stop_hook_active"] = true
	}
	data, _ := json.Marshal(doc) //nolint:errcheck // plain map
	return data
}

// probeHook runs one installed hook command on a probe event. Session flags
// go to stateDir and the event log is off, so probing leaves no trace.
func probeHook(ctx context.Context, kind hookio.EventKind, command, cwd, stateDir string) probeResult {
	res := probeResult{Kind: kind, Command: command}
	if command == "" {
		res.Status = probeMissing
		return res
	}
	bin, _ := managedBinary(command)
	if _, err := exec.LookPath(bin); err != nil {
		res.Status, res.Detail = probeUnresolvable, fmt.Sprintf("%s not found", bin)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	cmd.Stdin = bytes.NewReader(probeEvent(kind, cwd))
	cmd.Env = append(os.Environ(), "AOPS_EVENT_LOG=false", "AOPS_SESSION_STATE_DIR="+stateDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	runErr := cmd.Run()

	body := bytes.TrimSpace(stdout.Bytes())
	if len(body) == 0 {
		res.Status = probeNoDecision
		res.Detail = firstLine(stderr.String())
		if runErr != nil && res.Detail == "" {
			res.Detail = runErr.Error()
		}
		return res
	}
	out, err := hookio.DecodeOutput(body)
	if err != nil {
		res.Status, res.Detail = probeNoDecision, err.Error()
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		res.Status, res.Detail = probeError, fmt.Sprintf("exit %d: %s", exitErr.ExitCode(), firstLine(out.SystemMessage+stderr.String()))
	case runErr != nil:
		res.Status, res.Detail = probeError, runErr.Error()
	case out.Blocked():
		res.Status, res.Detail = probeError, "probe event was blocked: "+firstLine(out.Reason+probeReason(out))
	default:
		res.Status = probeOK
	}
	return res
}

func probeReason(out *hookio.Output) string {
	if out.HookSpecificOutput != nil {
		return out.HookSpecificOutput.PermissionDecisionReason
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// probeHooks probes every event concurrently, in hookio.Kinds order.
func probeHooks(ctx context.Context, settings, cwd string) ([]probeResult, error) {
	cmds, err := managedCommands(settings)
	if err != nil {
		return nil, err
	}
	stateDir, err := os.MkdirTemp("", "aops-probe-")
	if err != nil {
		return nil, fmt.Errorf("create probe state dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(stateDir) //nolint:errcheck // temp dir
	}()

	results := make([]probeResult, len(hookio.Kinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range hookio.Kinds {
		g.Go(func() error {
			results[i] = probeHook(ctx, kind, cmds[kind], cwd, stateDir)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probes report through their result
	return results, nil
}
