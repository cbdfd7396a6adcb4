// Package lifecycle is the stop state machine. It refuses the first stop
// after substantial work so the agent performs a deferred action, then lets
// the next stop through.
//
// The state is the existence of the session's flag:
//
//	Idle --Stop, substantial--> AwaitingDeferredAction   (block, create flag)
//	AwaitingDeferredAction --Stop--> Idle                (allow, delete flag)
//	AwaitingDeferredAction --UserPromptSubmit--> Idle    (delete flag)
//	Idle --Stop, trivial--> Idle                         (allow)
//
// Every store failure allows the stop. A stuck flag would block a session
// forever; a lost one costs one deferred action.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/log"
	"github.com/academicops/aops/internal/session"
	"github.com/academicops/aops/internal/transcript"
)

// State of a session.
type State int

const (
	Idle State = iota
	AwaitingDeferredAction
)

func (s State) String() string {
	if s == AwaitingDeferredAction {
		return "awaiting-deferred-action"
	}
	return "idle"
}

// Transition names what an event did to the state.
type Transition string

const (
	// TransitionDefer blocked a stop and set the flag.
	TransitionDefer Transition = "defer"
	// TransitionRelease allowed the stop that followed a deferral.
	TransitionRelease Transition = "release"
	// TransitionAbandon cleared a pending request because the operator moved on.
	TransitionAbandon Transition = "abandon"
	// TransitionPass allowed a stop without changing state.
	TransitionPass Transition = "pass"
	// TransitionFailOpen allowed a stop because the flag store failed.
	TransitionFailOpen Transition = "fail-open"
	// TransitionNone means nothing happened.
	TransitionNone Transition = "none"
)

// DefaultDeferredAction is used when neither the instruction tiers nor
// config provide one.
const DefaultDeferredAction = "Before you finish: summarize what changed in this turn, record any open follow-ups, and make sure your work is saved. Then stop again."

// ActivityFunc summarizes the turn recorded at a transcript path.
type ActivityFunc func(ctx context.Context, path string) (*transcript.Activity, error)

// Coordinator runs the state machine over a FlagStore.
type Coordinator struct {
	Store      session.FlagStore
	Thresholds transcript.Thresholds
	// DeferredAction is the instruction returned with a blocked stop.
	DeferredAction string
	// Activity defaults to transcript.SummarizeFile.
	Activity ActivityFunc
}

// Outcome is the coordinator's answer to one event.
type Outcome struct {
	Decision   hookio.Decision
	Transition Transition
	// Detail says why, for logs.
	Detail string
	// Err is a swallowed store error, if any.
	Err error
}

// New returns a Coordinator with the default activity source.
func New(store session.FlagStore, th transcript.Thresholds, deferredAction string) *Coordinator {
	return &Coordinator{
		Store:          store,
		Thresholds:     th,
		DeferredAction: deferredAction,
		Activity:       transcript.SummarizeFile,
	}
}

func (c *Coordinator) deferredAction() string {
	if c.DeferredAction != "" {
		return c.DeferredAction
	}
	return DefaultDeferredAction
}

func allow(t Transition, detail string) Outcome {
	return Outcome{Decision: hookio.Allow(), Transition: t, Detail: detail}
}

func failOpen(detail string, err error) Outcome {
	log.Warn("session flag store failed, allowing stop", "detail", detail, "error", err)
	return Outcome{Decision: hookio.Allow(), Transition: TransitionFailOpen, Detail: detail, Err: err}
}

// OnStop handles Stop and SubagentStop.
func (c *Coordinator) OnStop(ctx context.Context, ev *hookio.Event) Outcome {
	if ev.SessionID == "" {
		return allow(TransitionPass, "no session id")
	}

	pending, err := c.Store.Exists(ev.SessionID)
	if err != nil {
		return failOpen("check flag", err)
	}
	if pending {
		if err := c.Store.Delete(ev.SessionID); err != nil {
			// The stop is still allowed; the next UserPromptSubmit retries the delete.
			log.Warn("could not clear session flag", "session", ev.SessionID, "error", err)
			return Outcome{Decision: hookio.Allow(), Transition: TransitionRelease, Detail: "deferred action done", Err: err}
		}
		return allow(TransitionRelease, "deferred action done")
	}

	if ev.StopHookActive {
		return allow(TransitionPass, "stop hook already active")
	}

	assessment := c.assess(ctx, ev.TranscriptPath)
	if !assessment.Substantial {
		return allow(TransitionPass, assessment.Reason)
	}

	created, err := c.Store.Create(ev.SessionID)
	if err != nil {
		// Blocking without a flag would block every later stop too.
		return failOpen("create flag", err)
	}
	if !created {
		return allow(TransitionPass, "deferred action already requested")
	}

	text := c.deferredAction()
	return Outcome{
		Decision:   hookio.Block(text).WithContext(text),
		Transition: TransitionDefer,
		Detail:     assessment.Reason,
	}
}

// assess judges the turn. A transcript that cannot be read counts as trivial.
func (c *Coordinator) assess(ctx context.Context, path string) transcript.Assessment {
	if path == "" {
		return transcript.Assessment{Reason: "no transcript"}
	}
	activity := c.Activity
	if activity == nil {
		activity = transcript.SummarizeFile
	}
	a, err := activity(ctx, path)
	if err != nil {
		log.Info("transcript unreadable, treating turn as trivial", "path", path, "error", err)
		return transcript.Assessment{Reason: "transcript unreadable"}
	}
	return a.Assess(c.Thresholds)
}

// OnUserPrompt abandons any pending deferred action for the session.
func (c *Coordinator) OnUserPrompt(_ context.Context, ev *hookio.Event) Outcome {
	if ev.SessionID == "" {
		return allow(TransitionNone, "no session id")
	}
	cleared, err := c.clear(ev.SessionID)
	if err != nil {
		log.Warn("could not clear session flag", "session", ev.SessionID, "error", err)
		return Outcome{Decision: hookio.Allow(), Transition: TransitionNone, Detail: "clear flag", Err: err}
	}
	if cleared {
		return allow(TransitionAbandon, "operator resumed before deferred action")
	}
	return allow(TransitionNone, "")
}

// Resolve is the explicit resolution signal. It reports whether a pending
// request was cleared.
func (c *Coordinator) Resolve(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, session.ErrNoSession
	}
	return c.clear(sessionID)
}

// clear deletes unconditionally and reports whether a flag was there.
func (c *Coordinator) clear(sessionID string) (bool, error) {
	existed, err := c.Store.Exists(sessionID)
	if errors.Is(err, session.ErrCorrupt) {
		existed, err = true, nil
	}
	if delErr := c.Store.Delete(sessionID); delErr != nil {
		return false, delErr
	}
	return existed, err
}

// State reports the session's state.
func (c *Coordinator) State(sessionID string) (State, error) {
	pending, err := c.Store.Exists(sessionID)
	if err != nil {
		return Idle, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if pending {
		return AwaitingDeferredAction, nil
	}
	return Idle, nil
}
