package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/academicops/aops/internal/hookio"
)

// Content classes.
const (
	ClassKnowledge = "knowledge-document"
	ClassDocument  = "document"
	ClassCode      = "code"
	ClassData      = "data"
	ClassOther     = "other"
)

var codeExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".sh": true, ".bash": true, ".rs": true, ".c": true, ".h": true, ".cpp": true,
	".java": true, ".rb": true, ".r": true, ".jl": true, ".lua": true, ".sql": true,
}

var dataExts = map[string]bool{
	".json": true, ".jsonl": true, ".yaml": true, ".yml": true, ".csv": true,
	".tsv": true, ".toml": true, ".parquet": true, ".xml": true,
}

// classify derives a coarse content class from the file name and content.
func classify(p, content string) string {
	ext := strings.ToLower(filepath.Ext(p))
	switch {
	case ext == ".md" || ext == ".markdown":
		if strings.HasPrefix(content, "---\n") || strings.HasPrefix(content, "---\r\n") {
			return ClassKnowledge
		}
		return ClassDocument
	case ext == ".txt" || ext == ".rst" || ext == ".tex":
		return ClassDocument
	case codeExts[ext]:
		return ClassCode
	case dataExts[ext]:
		return ClassData
	default:
		return ClassOther
	}
}

// writtenContent returns what a write tool call is about to put on disk.
func writtenContent(ev *hookio.Event) string {
	switch ev.ToolName {
	case "Write":
		return ev.InputString("content")
	case "Edit":
		return ev.InputString("new_string")
	case "NotebookEdit":
		return ev.InputString("new_source")
	case "MultiEdit":
		edits, _ := ev.ToolInput["edits"].([]any)
		var sb strings.Builder
		for _, e := range edits {
			if m, ok := e.(map[string]any); ok {
				s, _ := m["new_string"].(string)
				sb.WriteString(s)
			}
		}
		return sb.String()
	}
	return ""
}

// proseLines counts the lines of content outside ``` fences. Fence lines
// themselves are not counted.
func proseLines(content string) int {
	if content == "" {
		return 0
	}
	n := 0
	fenced := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			continue
		}
		if !fenced {
			n++
		}
	}
	return n
}

func isWriteTool(name string) bool {
	for _, t := range WriteTools {
		if t == name {
			return true
		}
	}
	return false
}

// TargetOf extracts the policy target from a PreToolUse event. ok is false
// for tools the validator does not govern.
func TargetOf(ev *hookio.Event, projectRoot string) (Target, bool) {
	if ev.ToolName == BashTool {
		cmd := strings.TrimSpace(ev.InputString("command"))
		if cmd == "" {
			return Target{}, false
		}
		return Target{Tool: BashTool, Command: cmd}, true
	}
	if !isWriteTool(ev.ToolName) {
		return Target{}, false
	}

	p := ev.TargetPath()
	if p == "" {
		return Target{}, false
	}
	root := projectRoot
	if root == "" {
		root = ev.Cwd
	}
	if !filepath.IsAbs(p) && root != "" {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	content := writtenContent(ev)
	t := Target{
		Tool:  ev.ToolName,
		Abs:   filepath.ToSlash(p),
		Size:  len(content),
		Lines: proseLines(content),
		Class: classify(p, content),
	}
	if root != "" {
		if rel, err := filepath.Rel(root, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			t.Rel = filepath.ToSlash(rel)
		}
	}
	return t, true
}

// Result is the validator's verdict together with the rule that produced it.
type Result struct {
	Decision hookio.Decision
	Rule     *Rule
	Target   Target
}

// Validate evaluates a PreToolUse event against rs. It reads nothing from
// disk. Unmatched targets are allowed. The error is non-nil only when a rule
// could not be evaluated; callers decide how to fail.
func Validate(ev *hookio.Event, rs *RuleSet) (Result, error) {
	t, ok := TargetOf(ev, rs.ProjectRoot)
	if !ok {
		return Result{Decision: hookio.Allow()}, nil
	}

	r, err := rs.Match(t)
	if err != nil {
		return Result{Target: t}, err
	}
	if r == nil {
		return Result{Decision: hookio.Allow(), Target: t}, nil
	}

	res := Result{Rule: r, Target: t}
	switch r.Action {
	case ActionBlock:
		res.Decision = hookio.Block(blockReason(r, t))
	case ActionWarn:
		res.Decision = hookio.Warn(warnReason(r, t))
	default:
		res.Decision = hookio.Allow()
	}
	return res, nil
}

func blockReason(r *Rule, t Target) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Blocked by policy rule %q (%s tier): %s on %s is not permitted.", r.Name, r.Tier, t.Tool, t.Subject())
	if r.Reason != "" {
		sb.WriteString(" ")
		sb.WriteString(strings.TrimSpace(r.Reason))
	}
	fmt.Fprintf(&sb, " Instead: %s.", strings.TrimSuffix(strings.TrimSpace(r.Alternative), "."))
	return sb.String()
}

func warnReason(r *Rule, t Target) string {
	msg := fmt.Sprintf("policy rule %q (%s tier) flagged %s on %s", r.Name, r.Tier, t.Tool, t.Subject())
	if r.Reason != "" {
		msg += ": " + strings.TrimSpace(r.Reason)
	}
	return msg
}
