package dispatch

import (
	"context"
	"time"

	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/gitsync"
	"github.com/academicops/aops/internal/log"
)

// commitMargin is kept back from the handler's budget so the decision is
// written before the runtime's own timeout.
const commitMargin = 250 * time.Millisecond

// commit triggers a sync and waits for it only as long as the handler's
// budget allows. The sync runs on its own timeout, detached from ctx's
// cancellation, so a late commit finishes (or times out) on its own and only
// produces a log line. finished is false when the sync was still running at
// the deadline.
func (d *Dispatcher) commit(ctx context.Context, repo, message string) (res gitsync.Result, finished bool) {
	ac := d.Config.Autocommit
	opts := gitsync.Options{
		Repo:    repo,
		Paths:   ac.Paths,
		Message: message,
		Push:    config.Bool(ac.Push),
		Timeout: config.Duration(ac.Timeout),
		Run:     d.Git,
	}
	ch := gitsync.Trigger(context.WithoutCancel(ctx), opts)

	wait := time.Until(deadline(ctx)) - commitMargin
	if wait < 0 {
		wait = 0
	}
	res, finished = gitsync.Await(ch, wait)
	switch {
	case !finished:
		log.Info("auto-commit still running after hook budget", "repo", repo)
	case res.Err != nil:
		log.Warn("auto-commit failed", "repo", repo, "error", res.Err)
	default:
		log.Debug("auto-commit finished", "repo", repo, "commit", res.Commit, "elapsed", res.Elapsed)
	}
	return res, finished
}

func deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(gitsync.DefaultTimeout)
}
