package policy

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// WriteTools are the file-mutating tools path rules apply to by default.
var WriteTools = []string{"Write", "Edit", "MultiEdit", "NotebookEdit"}

// BashTool is the tool command rules apply to by default.
const BashTool = "Bash"

// Target is what a tool call is about to touch.
type Target struct {
	Tool string
	// Abs is the absolute, slash-separated target path.
	Abs string
	// Rel is Abs relative to the project root, or "" when outside it.
	Rel     string
	Command string
	Size    int
	// Lines counts prose lines, outside fenced code blocks.
	Lines int
	Class string
}

// Subject is the human-facing name of the target.
func (t Target) Subject() string {
	switch {
	case t.Command != "":
		return fmt.Sprintf("command %q", t.Command)
	case t.Rel != "":
		return t.Rel
	default:
		return t.Abs
	}
}

// pathSpecificity scores a pattern: every wildcard-free segment counts 100,
// every literal character counts 1. `**` counts nothing.
func pathSpecificity(pattern string) int {
	score := 0
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if !strings.ContainsAny(seg, "*?[{") {
			score += 100
		}
		for _, c := range seg {
			if !strings.ContainsRune("*?[]{},\\", c) {
				score++
			}
		}
	}
	return score
}

func (r *Rule) appliesToTool(tool string) bool {
	tools := r.Tools
	if len(tools) == 0 {
		if r.Command != "" {
			tools = []string{BashTool}
		} else {
			tools = WriteTools
		}
	}
	for _, t := range tools {
		if t == "*" || strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

func (r *Rule) inScope(rel string) bool {
	if len(r.Scope) == 0 {
		return true
	}
	if rel == "" {
		return false
	}
	for _, s := range r.Scope {
		s = path.Clean(filepath.ToSlash(s))
		if s == "." || rel == s || strings.HasPrefix(rel, s+"/") {
			return true
		}
	}
	return false
}

// matches reports whether r selects t.
func (r *Rule) matches(t Target) (bool, error) {
	if !r.appliesToTool(t.Tool) {
		return false, nil
	}
	if r.MaxBytes > 0 && t.Size <= r.MaxBytes {
		return false, nil
	}
	if r.MaxLines > 0 && t.Lines <= r.MaxLines {
		return false, nil
	}
	if r.ContentClass != "" && r.ContentClass != t.Class {
		return false, nil
	}

	if r.Command != "" {
		return t.Command != "" && r.cmd.MatchString(t.Command), nil
	}
	if t.Abs == "" {
		return false, nil
	}
	if !r.inScope(t.Rel) {
		return false, nil
	}

	name := t.Rel
	if strings.HasPrefix(r.Path, "/") {
		name = t.Abs
	}
	if name == "" {
		return false, nil
	}
	ok, err := doublestar.Match(r.Path, name)
	if err != nil {
		return false, fmt.Errorf("%w: rule %s: %v", ErrEvaluation, r.Name, err)
	}
	return ok, nil
}

// outranks reports whether a wins over b: final rules first, then more
// specific, then higher tier, then earlier declaration.
func outranks(a, b *Rule) bool {
	if a.Final != b.Final {
		return a.Final
	}
	if a.specificity != b.specificity {
		return a.specificity > b.specificity
	}
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	return a.Index < b.Index
}

// Match returns the winning rule for t, or nil when no rule applies.
func (rs *RuleSet) Match(t Target) (*Rule, error) {
	var best *Rule
	for i := range rs.Rules {
		r := &rs.Rules[i]
		ok, err := r.matches(t)
		if err != nil {
			return nil, err
		}
		if ok && (best == nil || outranks(r, best)) {
			best = r
		}
	}
	return best, nil
}
