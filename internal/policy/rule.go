// Package policy evaluates pre-action rules against tool calls.
//
// Rules are data: each tier contributes a policy/rules.yaml, and one generic
// matcher evaluates them. Adding a rule never requires code.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/academicops/aops/internal/tier"
)

// Action is what a matching rule does.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
	ActionWarn  Action = "warn"
)

// Rule is one policy entry. Exactly one of Path or Command is set.
type Rule struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path,omitempty"`
	Command string `yaml:"command,omitempty"`
	Action  Action `yaml:"action"`
	// Scope limits the rule to these directories, relative to the project root.
	Scope        []string `yaml:"scope,omitempty"`
	Tools        []string `yaml:"tools,omitempty"`
	MaxBytes     int      `yaml:"max_bytes,omitempty"`
	MaxLines     int      `yaml:"max_lines,omitempty"`
	ContentClass string   `yaml:"content_class,omitempty"`
	// Final rules outrank every non-final rule regardless of specificity.
	// A higher tier relaxes one only by redefining it under the same name.
	Final bool `yaml:"final,omitempty"`
	Reason       string   `yaml:"reason,omitempty"`
	Alternative  string   `yaml:"alternative,omitempty"`

	// Set by Load.
	Tier   tier.Kind `yaml:"-"`
	Source string    `yaml:"-"`
	Index  int       `yaml:"-"`

	cmd         *regexp.Regexp
	specificity int
}

// Specificity ranks how narrowly the rule's pattern selects targets.
func (r *Rule) Specificity() int { return r.specificity }

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleSet is the effective rule list for one invocation.
type RuleSet struct {
	Rules []Rule
	// ProjectRoot anchors relative path patterns. Empty means the event's cwd.
	ProjectRoot string
}

// Parse decodes and validates a rules document.
func Parse(data []byte, source string, kind tier.Kind) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRulesInvalid, source, err)
	}
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		r.Tier = kind
		r.Source = source
		r.Index = i
		if err := r.compile(); err != nil {
			return nil, fmt.Errorf("%w: %s: rule %d (%s): %v", ErrRulesInvalid, source, i, r.Name, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: %s: duplicate rule name %q", ErrRulesInvalid, source, r.Name)
		}
		seen[r.Name] = true
	}
	return f.Rules, nil
}

func (r *Rule) compile() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if (r.Path == "") == (r.Command == "") {
		return errors.New("exactly one of path or command is required")
	}
	switch r.Action {
	case ActionAllow, ActionWarn:
	case ActionBlock:
		if strings.TrimSpace(r.Alternative) == "" {
			return errors.New("block rules must name an alternative")
		}
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	if r.MaxBytes < 0 || r.MaxLines < 0 {
		return errors.New("max_bytes and max_lines must not be negative")
	}

	if r.Path != "" {
		if !doublestar.ValidatePattern(r.Path) {
			return fmt.Errorf("bad path pattern %q", r.Path)
		}
		r.specificity = pathSpecificity(r.Path)
		return nil
	}

	re, err := regexp.Compile(r.Command)
	if err != nil {
		return fmt.Errorf("bad command pattern: %w", err)
	}
	r.cmd = re
	r.specificity = len(r.Command)
	return nil
}

// Load builds the effective rule set from every present tier. When the
// framework tier has no rules file, defaults stand in for it. A rule in a
// higher tier replaces any lower-tier rule of the same name.
func Load(tiers []tier.Tier, defaults []byte) (*RuleSet, error) {
	rs := &RuleSet{}
	byName := make(map[string]int)

	for _, t := range tiers {
		if !t.Present {
			continue
		}
		if t.Kind == tier.Project {
			// Project tier root is <project>/.aops.
			rs.ProjectRoot = filepath.Dir(t.Root)
		}

		path := t.Path(tier.RulesFile)
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if t.Kind != tier.Framework || len(defaults) == 0 {
				continue
			}
			data, path = defaults, "embedded:policy/rules.yaml"
		case err != nil:
			return nil, fmt.Errorf("read rules %s: %w", path, err)
		}

		rules, err := Parse(data, path, t.Kind)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			if i, ok := byName[r.Name]; ok {
				rs.Rules[i] = r
				continue
			}
			byName[r.Name] = len(rs.Rules)
			rs.Rules = append(rs.Rules, r)
		}
	}
	return rs, nil
}
