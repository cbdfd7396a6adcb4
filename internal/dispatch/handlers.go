package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/lifecycle"
	"github.com/academicops/aops/internal/log"
	"github.com/academicops/aops/internal/policy"
	"github.com/academicops/aops/internal/tier"
	"github.com/academicops/aops/internal/transcript"
)

// DeferredActionBlock is the instruction block that overrides the configured
// deferred action text.
const DeferredActionBlock = "deferred-action"

// sessionStart injects the merged instruction set.
func (d *Dispatcher) sessionStart(_ context.Context, ev *hookio.Event) (result, error) {
	set, err := d.Resolver.Resolve(ev.Cwd)
	if err != nil {
		return result{}, err
	}
	if len(set.Blocks) == 0 {
		return result{noDecision: true, detail: "no instruction blocks"}, nil
	}
	return result{
		decision: hookio.Allow().WithContext(set.Render()),
		detail:   fmt.Sprintf("%d blocks", len(set.Blocks)),
	}, nil
}

// preToolUse validates a proposed action against the merged rule set.
func (d *Dispatcher) preToolUse(_ context.Context, ev *hookio.Event) (result, error) {
	tiers, err := d.Resolver.Tiers(ev.Cwd)
	if err != nil {
		return result{}, err
	}
	rs, err := policy.Load(tiers, d.DefaultRules)
	if err != nil {
		return result{}, err
	}
	res, err := policy.Validate(ev, rs)
	out := result{target: res.Target.Subject()}
	if res.Rule != nil {
		out.rule = res.Rule.Name
	}
	if err != nil {
		return out, err
	}
	out.decision = res.Decision
	return out, nil
}

// postToolUse stacks instructions after a Read of an instruction file and
// triggers the auto-commit after a state change.
func (d *Dispatcher) postToolUse(ctx context.Context, ev *hookio.Event) (result, error) {
	if ev.ToolName == "Read" {
		return d.stackInstructions(ev)
	}
	if !config.Bool(d.Config.Autocommit.Enabled) {
		return result{noDecision: true}, nil
	}
	repo := d.commitRepo(ev.Cwd)
	subject, ok := d.stateChange(repo, ev)
	if !ok {
		return result{noDecision: true, target: ev.TargetPath()}, nil
	}

	msg := strings.TrimSpace(fmt.Sprintf("aops: %s %s", ev.ToolName, subject))
	res, finished := d.commit(ctx, repo, msg)
	out := result{decision: hookio.Allow(), target: ev.TargetPath(), detail: res.Summary()}
	switch {
	case !finished:
		out.detail = "auto-commit still running"
	case res.Err != nil:
		out.decision = out.decision.WithSystemMessage("aops: " + res.Summary())
	}
	return out, nil
}

// stackInstructions returns the merged version of an instruction block when
// the agent reads one tier's copy of it, so overrides are never missed.
func (d *Dispatcher) stackInstructions(ev *hookio.Event) (result, error) {
	path := ev.TargetPath()
	name := tier.BlockNameForPath(path)
	if name == "" {
		return result{noDecision: true}, nil
	}
	set, err := d.Resolver.Resolve(ev.Cwd)
	if err != nil {
		return result{}, err
	}
	b, ok := set.Get(name)
	if !ok || (len(b.Sources) == 1 && sameFile(b.Sources[0], path)) {
		return result{noDecision: true, target: path}, nil
	}
	ctx := fmt.Sprintf("The file you read is one tier of instruction block %q. The merged block in effect is (%s: %s):\n\n%s",
		name, b.Tier, b.Source(), b.Content)
	return result{decision: hookio.Allow().WithContext(ctx), target: path, detail: "stacked " + name}, nil
}

// userPromptSubmit abandons any pending deferred action.
func (d *Dispatcher) userPromptSubmit(ctx context.Context, ev *hookio.Event) (result, error) {
	o := d.coordinator(ev.Cwd).OnUserPrompt(ctx, ev)
	return result{decision: o.Decision, detail: string(o.Transition)}, nil
}

// stop runs the stop state machine, then commits on an allowed Stop.
func (d *Dispatcher) stop(ctx context.Context, ev *hookio.Event) (result, error) {
	o := d.coordinator(ev.Cwd).OnStop(ctx, ev)
	out := result{decision: o.Decision, detail: string(o.Transition) + ": " + o.Detail}
	if o.Err != nil {
		out.decision = out.decision.WithSystemMessage("aops: session state unavailable, stop allowed")
	}

	if ev.Kind != hookio.Stop || !o.Decision.Allow ||
		!config.Bool(d.Config.Autocommit.Enabled) || !config.Bool(d.Config.Autocommit.OnStop) {
		return out, nil
	}
	res, finished := d.commit(ctx, d.commitRepo(ev.Cwd), "aops: end of turn")
	if finished && (res.Committed || res.Err != nil) {
		out.decision = out.decision.WithSystemMessage("aops: " + res.Summary())
	}
	return out, nil
}

// coordinator builds the state machine for this invocation. The merged
// deferred-action block wins over config; a tier error falls back to config
// because the stop path fails open.
func (d *Dispatcher) coordinator(cwd string) *lifecycle.Coordinator {
	lc := d.Config.Lifecycle
	text := lc.DeferredAction
	if set, err := d.Resolver.Resolve(cwd); err != nil {
		log.Debug("deferred action from config", "reason", err)
	} else if b, ok := set.Get(DeferredActionBlock); ok && strings.TrimSpace(b.Content) != "" {
		text = strings.TrimSpace(b.Content)
	}

	c := lifecycle.New(d.Store, transcript.Thresholds{
		MinToolCalls:  config.Int(lc.MinToolCalls),
		MinMutations:  config.Int(lc.MinMutations),
		QuestionTools: lc.QuestionTools,
	}, text)
	if d.Activity != nil {
		c.Activity = d.Activity
	}
	return c
}

// commitRepo is the configured repo, else the project root, else cwd.
func (d *Dispatcher) commitRepo(cwd string) string {
	if repo := d.Config.Autocommit.Repo; repo != "" {
		return repo
	}
	if root, ok := tier.FindProjectRoot(cwd); ok {
		return root
	}
	return cwd
}

// stateChange reports whether ev changed tracked state, and names what
// changed for the commit message.
func (d *Dispatcher) stateChange(repo string, ev *hookio.Event) (string, bool) {
	ac := d.Config.Autocommit
	switch {
	case transcript.MutatingTools[ev.ToolName]:
		target := ev.TargetPath()
		return filepath.Base(target), underPaths(repo, target, ac.Paths)
	case ev.ToolName == policy.BashTool:
		cmd := ev.InputString("command")
		for _, c := range ac.Commands {
			if c != "" && strings.Contains(cmd, c) {
				return c, true
			}
		}
		return "", false
	case slices.Contains(ac.Tools, ev.ToolName):
		return "", true
	}
	return "", false
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// underPaths reports whether target lies in one of paths below repo. No
// paths means the whole repo.
func underPaths(repo, target string, paths []string) bool {
	if target == "" || repo == "" {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(repo, target)
	}
	rel, err := filepath.Rel(repo, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	if len(paths) == 0 {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, p := range paths {
		p = strings.TrimSuffix(filepath.ToSlash(p), "/")
		if p == "." || rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}
