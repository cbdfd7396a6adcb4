package config

import (
	"strconv"
	"strings"
)

// Resolved is one setting with the layer that supplied it.
type Resolved struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source Source `json:"source"`
}

type fieldDef struct {
	key string
	get func(*Config) string
}

func boolString(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func intString(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

// fields lists every setting shown by Resolve, in display order.
var fields = []fieldDef{
	{"log_level", func(c *Config) string { return c.LogLevel }},
	{"log_format", func(c *Config) string { return c.LogFormat }},
	{"state_dir", func(c *Config) string { return c.StateDir }},
	{"budgets.pre_tool_use", func(c *Config) string { return c.Budgets.PreToolUse }},
	{"budgets.post_tool_use", func(c *Config) string { return c.Budgets.PostToolUse }},
	{"budgets.user_prompt_submit", func(c *Config) string { return c.Budgets.UserPromptSubmit }},
	{"budgets.session_start", func(c *Config) string { return c.Budgets.SessionStart }},
	{"budgets.stop", func(c *Config) string { return c.Budgets.Stop }},
	{"failure.validation", func(c *Config) string { return c.Failure.Validation }},
	{"failure.lifecycle", func(c *Config) string { return c.Failure.Lifecycle }},
	{"failure.context", func(c *Config) string { return c.Failure.Context }},
	{"failure.observability", func(c *Config) string { return c.Failure.Observability }},
	{"lifecycle.min_tool_calls", func(c *Config) string { return intString(c.Lifecycle.MinToolCalls) }},
	{"lifecycle.min_mutations", func(c *Config) string { return intString(c.Lifecycle.MinMutations) }},
	{"lifecycle.question_tools", func(c *Config) string { return strings.Join(c.Lifecycle.QuestionTools, ",") }},
	{"autocommit.enabled", func(c *Config) string { return boolString(c.Autocommit.Enabled) }},
	{"autocommit.on_stop", func(c *Config) string { return boolString(c.Autocommit.OnStop) }},
	{"autocommit.repo", func(c *Config) string { return c.Autocommit.Repo }},
	{"autocommit.paths", func(c *Config) string { return strings.Join(c.Autocommit.Paths, ",") }},
	{"autocommit.commands", func(c *Config) string { return strings.Join(c.Autocommit.Commands, ",") }},
	{"autocommit.tools", func(c *Config) string { return strings.Join(c.Autocommit.Tools, ",") }},
	{"autocommit.push", func(c *Config) string { return boolString(c.Autocommit.Push) }},
	{"autocommit.timeout", func(c *Config) string { return c.Autocommit.Timeout }},
	{"event_log.enabled", func(c *Config) string { return boolString(c.EventLog.Enabled) }},
	{"event_log.dir", func(c *Config) string { return c.EventLog.Dir }},
}

// Resolve returns every setting with its source, walking the same precedence
// chain as Load: flags > env > project > personal > framework > defaults.
func Resolve(cwd string, flagOverrides *Config) ([]Resolved, error) {
	ls, err := layers(cwd, flagOverrides)
	if err != nil {
		return nil, err
	}

	out := make([]Resolved, 0, len(fields))
	for _, f := range fields {
		r := Resolved{Key: f.key, Source: SourceDefault}
		for i := len(ls) - 1; i >= 0; i-- {
			if v := f.get(ls[i].cfg); v != "" {
				r.Value, r.Source = v, ls[i].source
				break
			}
		}
		out = append(out, r)
	}
	return out, nil
}
