package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/academicops/aops/embedded"
	"github.com/academicops/aops/internal/formatter"
	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/policy"
	"github.com/academicops/aops/internal/tier"
)

var (
	rulesCheck   string
	rulesCommand string
	rulesTool    string
	rulesSize    int
	rulesJSON    bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the merged policy rules, or check a target",
	Long: `List the effective policy rules for a directory: framework rules (or the
built-in defaults), overridden by personal and project rules of the same name.

With --check or --command, evaluate one proposed action exactly as the
PreToolUse hook would and print the decision. The exit status is 2 when the
action would be blocked.

Examples:
  aops rules
  aops rules --check notes.md
  aops rules --check docs/design.md --size 5000
  aops rules --command 'git push --force origin main'`,
	RunE: runRules,
}

func init() {
	rulesCmd.Flags().StringVar(&rulesCheck, "check", "", "Check a write to this path")
	rulesCmd.Flags().StringVar(&rulesCommand, "command", "", "Check this Bash command")
	rulesCmd.Flags().StringVar(&rulesTool, "tool", "Write", "Tool used with --check")
	rulesCmd.Flags().IntVar(&rulesSize, "size", 0, "Content size in bytes for --check")
	rulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(rulesCmd)
}

type ruleRow struct {
	Name        string `json:"name"`
	Action      string `json:"action"`
	Pattern     string `json:"pattern"`
	Tier        string `json:"tier"`
	Specificity int    `json:"specificity"`
	Final       bool   `json:"final,omitempty"`
	Source      string `json:"source"`
}

type checkOutput struct {
	Decision string `json:"decision"`
	Rule     string `json:"rule,omitempty"`
	Tier     string `json:"tier,omitempty"`
	Target   string `json:"target"`
	Reason   string `json:"reason,omitempty"`
}

func runRules(cmd *cobra.Command, args []string) error {
	cwd, err := resolveCwd()
	if err != nil {
		return err
	}
	tiers, err := tier.NewResolver(nil).Tiers(cwd)
	if err != nil {
		return err
	}
	rs, err := policy.Load(tiers, embedded.DefaultRules)
	if err != nil {
		return err
	}

	if rulesCheck != "" || rulesCommand != "" {
		return runRulesCheck(cmd, cwd, rs)
	}

	rows := make([]ruleRow, 0, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		pattern := r.Path
		if pattern == "" {
			pattern = "/" + r.Command + "/"
		}
		rows = append(rows, ruleRow{
			Name:        r.Name,
			Action:      string(r.Action),
			Pattern:     pattern,
			Tier:        r.Tier.String(),
			Specificity: r.Specificity(),
			Final:       r.Final,
			Source:      r.Source,
		})
	}

	w := cmd.OutOrStdout()
	if rulesJSON {
		return formatter.WriteJSON(w, rows)
	}
	tbl := formatter.NewTable(w, "NAME", "ACTION", "PATTERN", "TIER", "SPECIFICITY")
	tbl.SetMaxWidth(2, 48)
	for _, r := range rows {
		spec := strconv.Itoa(r.Specificity)
		if r.Final {
			spec = "final"
		}
		tbl.AddRow(r.Name, r.Action, r.Pattern, r.Tier, spec)
	}
	return tbl.Render()
}

func runRulesCheck(cmd *cobra.Command, cwd string, rs *policy.RuleSet) error {
	ev := &hookio.Event{Kind: hookio.PreToolUse, Cwd: cwd}
	if rulesCommand != "" {
		ev.ToolName = policy.BashTool
		ev.ToolInput = map[string]any{"command": rulesCommand}
	} else {
		path := rulesCheck
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}
		ev.ToolName = rulesTool
		ev.ToolInput = map[string]any{"file_path": path, "content": strings.Repeat("x", rulesSize)}
	}

	res, err := policy.Validate(ev, rs)
	if err != nil {
		return err
	}
	out := checkOutput{
		Decision: res.Decision.String(),
		Target:   res.Target.Subject(),
		Reason:   res.Decision.Reason,
	}
	if res.Rule != nil {
		out.Rule = res.Rule.Name
		out.Tier = res.Rule.Tier.String()
	}

	w := cmd.OutOrStdout()
	if rulesJSON {
		if err := formatter.WriteJSON(w, out); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "%s %s\n", out.Decision, out.Target)
		if out.Rule != "" {
			fmt.Fprintf(w, "  rule:   %s (%s tier)\n", out.Rule, out.Tier)
		}
		if out.Reason != "" {
			fmt.Fprintf(w, "  reason: %s\n", out.Reason)
		}
	}
	if !res.Decision.Allow {
		return exitError{code: 2}
	}
	return nil
}
