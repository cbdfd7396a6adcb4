package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/session"
	"github.com/academicops/aops/internal/transcript"
)

var defaultThresholds = transcript.Thresholds{
	MinToolCalls:  3,
	MinMutations:  1,
	QuestionTools: []string{"AskUserQuestion"},
}

func fixedActivity(a transcript.Activity) ActivityFunc {
	return func(context.Context, string) (*transcript.Activity, error) {
		return &a, nil
	}
}

func substantial() ActivityFunc {
	return fixedActivity(transcript.Activity{ToolCalls: 6, Mutations: 2, LastTool: "Edit"})
}

func newCoordinator(t *testing.T, activity ActivityFunc) (*Coordinator, *session.FileStore) {
	t.Helper()
	store := session.NewFileStore(t.TempDir())
	c := New(store, defaultThresholds, "run the wrap-up routine")
	c.Activity = activity
	return c, store
}

func stopEvent(sid string) *hookio.Event {
	return &hookio.Event{Kind: hookio.Stop, SessionID: sid, TranscriptPath: "/transcript.jsonl"}
}

func TestOnStop_DeferThenRelease(t *testing.T) {
	c, store := newCoordinator(t, substantial())
	ctx := context.Background()

	first := c.OnStop(ctx, stopEvent("s1"))
	assert.Equal(t, TransitionDefer, first.Transition)
	assert.False(t, first.Decision.Allow)
	assert.Equal(t, "run the wrap-up routine", first.Decision.Reason)
	assert.Equal(t, "run the wrap-up routine", first.Decision.AdditionalContext)

	state, err := c.State("s1")
	require.NoError(t, err)
	assert.Equal(t, AwaitingDeferredAction, state)

	second := c.OnStop(ctx, stopEvent("s1"))
	assert.Equal(t, TransitionRelease, second.Transition)
	assert.True(t, second.Decision.Allow)

	exists, err := store.Exists("s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOnStop_NeverBlocksTwice(t *testing.T) {
	c, _ := newCoordinator(t, substantial())
	ctx := context.Background()

	blocks := 0
	for i := 0; i < 6; i++ {
		if !c.OnStop(ctx, stopEvent("loop")).Decision.Allow {
			blocks++
		}
	}
	// block, allow, block, allow, ...: never two blocks in a row
	assert.Equal(t, 3, blocks)

	ev := stopEvent("loop2")
	require.False(t, c.OnStop(ctx, ev).Decision.Allow)
	ev.StopHookActive = true
	assert.True(t, c.OnStop(ctx, ev).Decision.Allow)
}

func TestOnStop_SubagentStopSharesMachine(t *testing.T) {
	c, _ := newCoordinator(t, substantial())
	ev := stopEvent("s2")
	ev.Kind = hookio.SubagentStop

	assert.Equal(t, TransitionDefer, c.OnStop(context.Background(), ev).Transition)
	assert.Equal(t, TransitionRelease, c.OnStop(context.Background(), stopEvent("s2")).Transition)
}

func TestOnStop_Trivial(t *testing.T) {
	tests := []struct {
		name     string
		activity ActivityFunc
		ev       *hookio.Event
	}{
		{
			name:     "few tool calls",
			activity: fixedActivity(transcript.Activity{ToolCalls: 1, LastTool: "Read"}),
			ev:       stopEvent("t"),
		},
		{
			name:     "ended with question",
			activity: fixedActivity(transcript.Activity{ToolCalls: 9, Mutations: 3, LastTool: "AskUserQuestion"}),
			ev:       stopEvent("t"),
		},
		{
			name: "transcript unreadable",
			activity: func(context.Context, string) (*transcript.Activity, error) {
				return nil, os.ErrNotExist
			},
			ev: stopEvent("t"),
		},
		{
			name:     "no transcript path",
			activity: substantial(),
			ev:       &hookio.Event{Kind: hookio.Stop, SessionID: "t"},
		},
		{
			name:     "no session id",
			activity: substantial(),
			ev:       &hookio.Event{Kind: hookio.Stop, TranscriptPath: "/x"},
		},
		{
			name:     "stop hook active without flag",
			activity: substantial(),
			ev:       &hookio.Event{Kind: hookio.Stop, SessionID: "t", TranscriptPath: "/x", StopHookActive: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := newCoordinator(t, tt.activity)
			out := c.OnStop(context.Background(), tt.ev)
			assert.True(t, out.Decision.Allow)
			assert.Equal(t, TransitionPass, out.Transition)

			if tt.ev.SessionID != "" {
				exists, err := store.Exists(tt.ev.SessionID)
				require.NoError(t, err)
				assert.False(t, exists, "trivial stops leave no flag")
			}
		})
	}
}

func TestOnUserPrompt_Abandons(t *testing.T) {
	c, _ := newCoordinator(t, substantial())
	ctx := context.Background()

	require.Equal(t, TransitionDefer, c.OnStop(ctx, stopEvent("s3")).Transition)

	out := c.OnUserPrompt(ctx, &hookio.Event{Kind: hookio.UserPromptSubmit, SessionID: "s3"})
	assert.True(t, out.Decision.Allow)
	assert.Equal(t, TransitionAbandon, out.Transition)

	// After abandoning, the next substantial stop defers again rather than
	// slipping through.
	assert.Equal(t, TransitionDefer, c.OnStop(ctx, stopEvent("s3")).Transition)

	out = c.OnUserPrompt(ctx, &hookio.Event{Kind: hookio.UserPromptSubmit, SessionID: "other"})
	assert.Equal(t, TransitionNone, out.Transition)
}

func TestSessionsAreIndependent(t *testing.T) {
	c, _ := newCoordinator(t, substantial())
	ctx := context.Background()

	assert.Equal(t, TransitionDefer, c.OnStop(ctx, stopEvent("a")).Transition)
	assert.Equal(t, TransitionDefer, c.OnStop(ctx, stopEvent("b")).Transition)

	c.OnUserPrompt(ctx, &hookio.Event{SessionID: "a"})
	state, err := c.State("b")
	require.NoError(t, err)
	assert.Equal(t, AwaitingDeferredAction, state)
}

func TestResolve(t *testing.T) {
	c, _ := newCoordinator(t, substantial())
	require.Equal(t, TransitionDefer, c.OnStop(context.Background(), stopEvent("r")).Transition)

	cleared, err := c.Resolve("r")
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = c.Resolve("r")
	require.NoError(t, err)
	assert.False(t, cleared)

	_, err = c.Resolve("")
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestDefaultDeferredAction(t *testing.T) {
	c, _ := newCoordinator(t, substantial())
	c.DeferredAction = ""
	out := c.OnStop(context.Background(), stopEvent("d"))
	assert.Equal(t, DefaultDeferredAction, out.Decision.Reason)
}

// brokenStore fails every call.
type brokenStore struct {
	existsErr, createErr, deleteErr error
	exists                          bool
}

func (b *brokenStore) Exists(string) (bool, error) { return b.exists, b.existsErr }
func (b *brokenStore) Create(string) (bool, error) { return b.createErr == nil, b.createErr }
func (b *brokenStore) Delete(string) error         { return b.deleteErr }

func TestOnStop_StoreFailuresAllow(t *testing.T) {
	boom := errors.New("disk on fire")
	tests := []struct {
		name  string
		store *brokenStore
		want  Transition
	}{
		{"exists fails", &brokenStore{existsErr: boom}, TransitionFailOpen},
		{"corrupt flag", &brokenStore{existsErr: session.ErrCorrupt}, TransitionFailOpen},
		{"create fails", &brokenStore{createErr: boom}, TransitionFailOpen},
		{"delete fails", &brokenStore{exists: true, deleteErr: boom}, TransitionRelease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.store, defaultThresholds, "")
			c.Activity = substantial()
			out := c.OnStop(context.Background(), stopEvent("f"))
			assert.True(t, out.Decision.Allow)
			assert.Equal(t, tt.want, out.Transition)
			assert.Error(t, out.Err)
		})
	}
}

func TestOnStop_UnwritableStateDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	c := New(session.NewFileStore(filepath.Join(blocker, "state")), defaultThresholds, "")
	c.Activity = substantial()
	out := c.OnStop(context.Background(), stopEvent("u"))
	assert.True(t, out.Decision.Allow)
	assert.Equal(t, TransitionFailOpen, out.Transition)
}

func TestOnStop_ConcurrentStopsDeferOnce(t *testing.T) {
	c, _ := newCoordinator(t, substantial())

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = c.OnStop(context.Background(), stopEvent("race"))
		}(i)
	}
	wg.Wait()

	defers := 0
	for _, o := range outcomes {
		if o.Transition == TransitionDefer {
			defers++
		}
	}
	// Every release needs an earlier defer, so at least one goroutine defers.
	assert.GreaterOrEqual(t, defers, 1)
	state, err := c.State("race")
	require.NoError(t, err)
	assert.Contains(t, []State{Idle, AwaitingDeferredAction}, state)
}

func TestWithRealTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	lines := []string{
		`{"type":"user","message":{"role":"user","content":"fix the bug"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Read","input":{}}]}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Edit","input":{}}]}}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	c := New(session.NewFileStore(t.TempDir()), defaultThresholds, "")
	out := c.OnStop(context.Background(), &hookio.Event{Kind: hookio.Stop, SessionID: "real", TranscriptPath: path})
	assert.Equal(t, TransitionDefer, out.Transition, out.Detail)
}
