// Package dispatch routes one hook event to its handler and turns whatever
// happens (a decision, an error, a timeout, a panic) into exactly one
// decision.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/eventlog"
	"github.com/academicops/aops/internal/gitsync"
	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/lifecycle"
	"github.com/academicops/aops/internal/log"
	"github.com/academicops/aops/internal/policy"
	"github.com/academicops/aops/internal/session"
	"github.com/academicops/aops/internal/tier"
)

// Status describes how a dispatch ended.
type Status string

const (
	StatusOK Status = "ok"
	// StatusNoHandler means the event kind has no handler.
	StatusNoHandler Status = "no-handler"
	// StatusNoDecision means a handler ran but had nothing to say.
	StatusNoDecision  Status = "no-decision"
	StatusTimeout     Status = "timeout"
	StatusPanic       Status = "panic"
	StatusError       Status = "error"
	StatusConfigError Status = "config-error"
	StatusDisabled    Status = "disabled"
)

// Category groups handlers by how they fail.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryLifecycle     Category = "lifecycle"
	CategoryContext       Category = "context"
	CategoryObservability Category = "observability"
)

// Outcome is the result of one dispatch.
type Outcome struct {
	Kind     hookio.EventKind
	Decision hookio.Decision
	Status   Status
	Category Category
	Err      error
	Elapsed  time.Duration

	// Rule, Target and Detail are for the event log.
	Rule   string
	Target string
	Detail string
}

// ExitCode is the process exit code for o. Only configuration errors exit
// non-zero; every other failure has already been folded into the decision.
func (o Outcome) ExitCode() int {
	if o.Status == StatusConfigError {
		return 1
	}
	return 0
}

// result is what a handler returns on success.
type result struct {
	decision   hookio.Decision
	noDecision bool
	rule       string
	target     string
	detail     string
}

type handler func(ctx context.Context, ev *hookio.Event) (result, error)

// Dispatcher holds everything the handlers need. Nothing is cached between
// invocations; each process builds one Dispatcher and dispatches one event.
type Dispatcher struct {
	Config   *config.Config
	Resolver *tier.Resolver
	// DefaultRules stand in for a framework tier without a rules file.
	DefaultRules []byte
	Store        session.FlagStore
	Events       *eventlog.Logger
	// Disabled short-circuits every event to allow.
	Disabled bool

	// Git and Activity are replaced in tests.
	Git      gitsync.Runner
	Activity lifecycle.ActivityFunc
}

// New builds a Dispatcher from cfg.
func New(cfg *config.Config, resolver *tier.Resolver, defaults []byte) *Dispatcher {
	return &Dispatcher{
		Config:       cfg,
		Resolver:     resolver,
		DefaultRules: defaults,
		Store:        session.NewFileStore(cfg.StateDir),
		Events:       eventlog.New(cfg.EventLog.Dir, config.Bool(cfg.EventLog.Enabled)),
	}
}

func (d *Dispatcher) route(kind hookio.EventKind) (handler, Category) {
	switch kind {
	case hookio.SessionStart:
		return d.sessionStart, CategoryContext
	case hookio.PreToolUse:
		return d.preToolUse, CategoryValidation
	case hookio.PostToolUse:
		return d.postToolUse, CategoryObservability
	case hookio.UserPromptSubmit:
		return d.userPromptSubmit, CategoryLifecycle
	case hookio.Stop, hookio.SubagentStop:
		return d.stop, CategoryLifecycle
	}
	return nil, ""
}

// Budget is the wall-clock budget for kind.
func (d *Dispatcher) Budget(kind hookio.EventKind) time.Duration {
	b := d.Config.Budgets
	var v string
	switch kind {
	case hookio.PreToolUse:
		v = b.PreToolUse
	case hookio.PostToolUse:
		v = b.PostToolUse
	case hookio.UserPromptSubmit:
		v = b.UserPromptSubmit
	case hookio.SessionStart:
		v = b.SessionStart
	default:
		v = b.Stop
	}
	if dur := config.Duration(v); dur > 0 {
		return dur
	}
	return time.Second
}

func (d *Dispatcher) failureMode(c Category) string {
	f := d.Config.Failure
	switch c {
	case CategoryValidation:
		return f.Validation
	case CategoryLifecycle:
		return f.Lifecycle
	case CategoryContext:
		return f.Context
	}
	return config.FailOpen
}

// failure is the decision for a handler that could not decide.
func (d *Dispatcher) failure(c Category, kind hookio.EventKind, what string) hookio.Decision {
	if d.failureMode(c) == config.FailClosed {
		return hookio.Block(fmt.Sprintf(
			"aops %s check could not run (%s), so this action is blocked. "+
				"Do not retry the same action; tell the operator the %s hook is failing. "+
				"They can run `aops doctor` or set AOPS_HOOKS_DISABLED=1.",
			c, what, kind))
	}
	return hookio.Allow().WithSystemMessage(fmt.Sprintf("aops %s hook failed open: %s", kind, what))
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, tier.ErrFrameworkMissing) ||
		errors.Is(err, tier.ErrBlockInvalid) ||
		errors.Is(err, policy.ErrRulesInvalid) ||
		errors.Is(err, config.ErrInvalid)
}

type handlerDone struct {
	res   result
	err   error
	panic any
	stack []byte
}

// Dispatch runs the handler for ev within its budget and always returns a
// decision.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *hookio.Event) Outcome {
	start := time.Now()
	out := d.dispatch(ctx, ev)
	out.Kind = ev.Kind
	out.Elapsed = time.Since(start)
	d.record(ev, out)
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *hookio.Event) Outcome {
	if d.Disabled {
		return Outcome{Decision: hookio.Allow(), Status: StatusDisabled}
	}

	h, cat := d.route(ev.Kind)
	if h == nil {
		log.Error("no handler for hook event", "event", ev.Kind, "session", ev.SessionID)
		return Outcome{Decision: hookio.Allow(), Status: StatusNoHandler}
	}

	budget := d.Budget(ev.Kind)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan handlerDone, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- handlerDone{panic: p, stack: debug.Stack()}
			}
		}()
		res, err := h(ctx, ev)
		done <- handlerDone{res: res, err: err}
	}()

	var hd handlerDone
	select {
	case hd = <-done:
	case <-ctx.Done():
		log.Warn("hook handler exceeded budget", "event", ev.Kind, "budget", budget)
		return Outcome{
			Decision: d.failure(cat, ev.Kind, "timed out after "+budget.String()),
			Status:   StatusTimeout,
			Category: cat,
			Err:      ctx.Err(),
		}
	}

	switch {
	case hd.panic != nil:
		log.Error("hook handler panicked", "event", ev.Kind, "panic", hd.panic, "stack", string(hd.stack))
		return Outcome{
			Decision: d.failure(cat, ev.Kind, fmt.Sprintf("internal error: %v", hd.panic)),
			Status:   StatusPanic,
			Category: cat,
			Err:      fmt.Errorf("panic: %v", hd.panic),
		}

	case hd.err != nil && IsConfigError(hd.err):
		log.Error("aops configuration error", "event", ev.Kind, "error", hd.err)
		dec := d.failure(cat, ev.Kind, "configuration error")
		dec.SystemMessage = "aops configuration error: " + hd.err.Error()
		return Outcome{Decision: dec, Status: StatusConfigError, Category: cat, Err: hd.err,
			Rule: hd.res.rule, Target: hd.res.target}

	case hd.err != nil:
		log.Warn("hook handler failed", "event", ev.Kind, "error", hd.err)
		return Outcome{Decision: d.failure(cat, ev.Kind, hd.err.Error()), Status: StatusError, Category: cat, Err: hd.err,
			Rule: hd.res.rule, Target: hd.res.target}

	case hd.res.noDecision:
		return Outcome{Decision: hookio.Allow(), Status: StatusNoDecision, Category: cat,
			Target: hd.res.target, Detail: hd.res.detail}
	}

	return Outcome{
		Decision: hd.res.decision,
		Status:   StatusOK,
		Category: cat,
		Rule:     hd.res.rule,
		Target:   hd.res.target,
		Detail:   hd.res.detail,
	}
}

// Fail produces the outcome for an event that could not be handled at all,
// such as unreadable input or a broken config file. err decides the status;
// the event's category decides the decision.
//
// An event with no known kind gets a plain allow, which renders as the
// schema-neutral {}.
func (d *Dispatcher) Fail(ev *hookio.Event, err error) Outcome {
	h, cat := d.route(ev.Kind)
	if cat == "" {
		cat = CategoryObservability
	}
	out := Outcome{Kind: ev.Kind, Status: StatusError, Category: cat, Err: err}
	switch {
	case h == nil:
		if errors.Is(err, hookio.ErrUnknownEvent) {
			out.Status = StatusNoHandler
		}
		out.Decision = hookio.Allow()
	case IsConfigError(err):
		out.Status = StatusConfigError
		out.Decision = d.failure(cat, ev.Kind, "configuration error")
		out.Decision.SystemMessage = "aops configuration error: " + err.Error()
	default:
		out.Decision = d.failure(cat, ev.Kind, err.Error())
	}
	log.Error("hook failed before dispatch", "event", ev.Kind, "error", err)
	d.record(ev, out)
	return out
}

// record appends the outcome to the event log. It never fails the dispatch.
func (d *Dispatcher) record(ev *hookio.Event, o Outcome) {
	rec := eventlog.Record{
		Event:     string(ev.Kind),
		SessionID: ev.SessionID,
		Tool:      ev.ToolName,
		Target:    o.Target,
		Decision:  o.Decision.String(),
		Status:    string(o.Status),
		Rule:      o.Rule,
		Reason:    o.Decision.Reason,
		ElapsedMS: o.Elapsed.Milliseconds(),
	}
	if o.Detail != "" {
		rec.Extra = map[string]string{"detail": o.Detail}
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	_ = d.Events.Append(rec) //nolint:errcheck // observability fails open; Append logs
}
