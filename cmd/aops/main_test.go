package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"aops": run,
	}))
}

// TestScript replays the hook entry point and operator commands against the
// scripts in testdata. Each script gets a framework tier at $WORK/fw and
// private state and event-log directories.
func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(env *testscript.Env) error {
			env.Setenv("AOPS", filepath.Join(env.WorkDir, "fw"))
			env.Setenv("AOPS_SESSION_STATE_DIR", filepath.Join(env.WorkDir, "state"))
			env.Setenv("AOPS_EVENT_LOG_DIR", filepath.Join(env.WorkDir, "events"))
			env.Setenv("NO_COLOR", "1")
			return os.MkdirAll(filepath.Join(env.WorkDir, "fw"), 0o755)
		},
	})
}
