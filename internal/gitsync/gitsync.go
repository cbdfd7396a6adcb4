// Package gitsync commits (and optionally pushes) state changes in a data
// repository. It runs git as an external command under a deadline; callers
// only observe the exit status and output.
package gitsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a whole sync (status, add, commit, push).
const DefaultTimeout = 20 * time.Second

// Runner executes git with args in dir and returns combined output.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// ExecGit runs the git binary. Push never prompts for credentials.
func ExecGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Options configure one sync.
type Options struct {
	Repo string
	// Paths are pathspecs limiting what is staged. Empty stages everything.
	Paths   []string
	Message string
	Push    bool
	Timeout time.Duration
	Run     Runner
}

// Result reports what a sync did. Err never changes a hook decision; it is
// surfaced as a message.
type Result struct {
	Committed bool
	Pushed    bool
	Commit    string
	Elapsed   time.Duration
	Err       error
}

// Summary is a one-line description for the operator.
func (r Result) Summary() string {
	switch {
	case r.Err != nil:
		return "auto-commit failed: " + r.Err.Error()
	case r.Pushed:
		return fmt.Sprintf("auto-committed and pushed %s", r.Commit)
	case r.Committed:
		return fmt.Sprintf("auto-committed %s", r.Commit)
	default:
		return "nothing to commit"
	}
}

// Sync stages, commits and optionally pushes changes under opts.Paths. A
// clean tree is not an error.
func Sync(ctx context.Context, opts Options) Result {
	start := time.Now()
	res := runSync(ctx, opts)
	res.Elapsed = time.Since(start)
	return res
}

func runSync(ctx context.Context, opts Options) Result {
	if opts.Repo == "" {
		return Result{Err: ErrNoRepo}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	run := opts.Run
	if run == nil {
		run = ExecGit
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	git := func(args ...string) (string, error) {
		out, err := run(ctx, opts.Repo, args...)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: git %s after %s", ErrTimeout, args[0], timeout)
			}
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
		}
		return strings.TrimSpace(string(out)), nil
	}

	if _, err := git("rev-parse", "--show-toplevel"); err != nil {
		if errors.Is(err, ErrTimeout) {
			return Result{Err: err}
		}
		return Result{Err: fmt.Errorf("%w: %v", ErrNoRepo, err)}
	}

	status, err := git(append([]string{"status", "--porcelain", "--"}, opts.Paths...)...)
	if err != nil {
		return Result{Err: err}
	}
	if status == "" {
		return Result{}
	}

	if _, err := git(append([]string{"add", "-A", "--"}, opts.Paths...)...); err != nil {
		return Result{Err: err}
	}
	msg := opts.Message
	if msg == "" {
		msg = "aops: auto-commit"
	}
	if _, err := git("commit", "-q", "-m", msg); err != nil {
		return Result{Err: err}
	}
	res := Result{Committed: true}
	if sha, err := git("rev-parse", "--short", "HEAD"); err == nil {
		res.Commit = sha
	}

	if opts.Push {
		if _, err := git("push", "-q"); err != nil {
			res.Err = err
			return res
		}
		res.Pushed = true
	}
	return res
}

// Trigger starts Sync in the background. The channel receives exactly one
// Result. Callers that cannot wait select on it against their own deadline;
// a result that arrives late is simply dropped.
func Trigger(ctx context.Context, opts Options) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- Sync(ctx, opts)
	}()
	return ch
}

// Await waits for a triggered sync up to wait. ok is false if it had not
// finished in time.
func Await(ch <-chan Result, wait time.Duration) (Result, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, true
	case <-timer.C:
		return Result{}, false
	}
}
