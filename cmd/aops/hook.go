package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/academicops/aops/embedded"
	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/dispatch"
	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/log"
	"github.com/academicops/aops/internal/tier"
)

// EnvHooksDisabled turns every hook into an unconditional allow.
const EnvHooksDisabled = "AOPS_HOOKS_DISABLED"

var hookInput string

var hookCmd = &cobra.Command{
	Use:   "hook [event]",
	Short: "Handle one runtime hook event",
	Long: `Read one hook event document from stdin (or --input), decide, and write
exactly one decision document to stdout.

The event kind comes from the argument when given, else from the document's
hook_event_name. Logs go to stderr.

Exit codes:
  0  a decision was written, including the fail-open or fail-closed
     decision for unreadable input
  1  configuration error, or input that names no event kind (a
     decision is still written, {} when no kind is known)

Examples:
  echo '{"session_id":"s1","tool_name":"Write","tool_input":{"file_path":"x.md"}}' | aops hook PreToolUse
  aops hook Stop --input captured-stop.json`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: kindNames(),
	RunE:      runHook,
}

func init() {
	hookCmd.Flags().StringVar(&hookInput, "input", "", "Read the event from this file instead of stdin")
	rootCmd.AddCommand(hookCmd)
}

func kindNames() []string {
	names := make([]string, len(hookio.Kinds))
	for i, k := range hookio.Kinds {
		names[i] = string(k)
	}
	return names
}

// hookReader opens the event source. Refuses an interactive stdin so a
// mistyped command does not hang waiting for input.
func hookReader(cmd *cobra.Command) (io.Reader, func(), error) {
	if hookInput != "" {
		f, err := os.Open(hookInput)
		if err != nil {
			return nil, nil, fmt.Errorf("open input: %w", err)
		}
		return f, func() { _ = f.Close() }, nil //nolint:errcheck // read-only
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, nil, errors.New("no event on stdin (pipe a hook document, or use --input)")
	}
	return in, func() {}, nil
}

func hooksDisabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvHooksDisabled))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func runHook(cmd *cobra.Command, args []string) error {
	hint := ""
	if len(args) > 0 {
		hint = args[0]
	}

	r, closeInput, err := hookReader(cmd)
	if err != nil {
		return err
	}
	defer closeInput()

	ev, mismatch, readErr := hookio.ReadEvent(r, hint)
	if mismatch != "" {
		log.Warn("event kind argument disagrees with input; using argument", "argument", hint, "input", mismatch)
	}

	if readErr != nil && ev == nil {
		ev = eventFromHint(hint)
	}
	unnamed := ev == nil
	if unnamed {
		// Nothing names the schema; Fail answers with the neutral document.
		ev = &hookio.Event{}
	}
	if ev.Cwd == "" {
		if wd, err := resolveCwd(); err == nil {
			ev.Cwd = wd
		}
	}

	cfg, cfgErr := loadConfig(ev.Cwd)
	if cfgErr != nil {
		cfg = config.Default()
	}

	d := dispatch.New(cfg, tier.NewResolver(nil), embedded.DefaultRules)
	d.Disabled = hooksDisabled()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out dispatch.Outcome
	switch {
	case d.Disabled:
		out = d.Dispatch(ctx, ev)
	case errors.Is(readErr, hookio.ErrUnknownEvent):
		out = d.Dispatch(ctx, ev)
	case readErr != nil:
		out = d.Fail(ev, readErr)
	case cfgErr != nil:
		out = d.Fail(ev, cfgErr)
	default:
		out = d.Dispatch(ctx, ev)
	}

	log.Debug("hook decided", "event", out.Kind, "status", out.Status, "decision", out.Decision.String(), "elapsed", out.Elapsed)
	if err := hookio.Encode(cmd.OutOrStdout(), ev.Kind, out.Decision); err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	if code := out.ExitCode(); code != 0 {
		return exitError{code: code}
	}
	if unnamed {
		return exitError{code: 1}
	}
	return nil
}

// eventFromHint builds a bare event when the input was unusable but the
// command line still names the kind.
func eventFromHint(hint string) *hookio.Event {
	if hint == "" {
		return nil
	}
	kind, err := hookio.ParseKind(hint)
	if err != nil {
		kind = hookio.EventKind(hint)
	}
	return &hookio.Event{Kind: kind}
}

// commandContext is the command's context, or Background when run outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
