package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/eventlog"
	"github.com/academicops/aops/internal/formatter"
)

func TestComputeResult(t *testing.T) {
	tests := []struct {
		name   string
		checks []doctorCheck
		want   string
	}{
		{"all pass", []doctorCheck{pass("a", "", true), pass("b", "", false)}, "HEALTHY"},
		{"warning", []doctorCheck{pass("a", "", true), warn("b", "x")}, "DEGRADED"},
		{"failure", []doctorCheck{fail("a", "x", true), warn("b", "x")}, "UNHEALTHY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := computeResult(tt.checks)
			if out.Result != tt.want {
				t.Errorf("Result = %s, want %s", out.Result, tt.want)
			}
		})
	}
}

func TestHasRequiredFailure(t *testing.T) {
	if hasRequiredFailure([]doctorCheck{fail("opt", "", false), warn("w", "")}) {
		t.Error("optional failure counted as required")
	}
	if !hasRequiredFailure([]doctorCheck{pass("a", "", true), fail("req", "", true)}) {
		t.Error("required failure missed")
	}
}

func TestRenderDoctorTable(t *testing.T) {
	var buf bytes.Buffer
	renderDoctorTable(&buf, computeResult([]doctorCheck{
		pass("Framework tier", "/fw", true),
		warn("Hook coverage", "no aops hooks"),
	}))
	out := buf.String()
	for _, want := range []string{"aops doctor", "Framework tier", "no aops hooks", "DEGRADED: 1/2 checks passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckRecentEvents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.EventLog.Dir = dir

	l := eventlog.New(dir, true)
	for _, rec := range []eventlog.Record{
		{Event: "PreToolUse", SessionID: "s1", Decision: "allow", Status: "ok"},
		{Event: "Stop", SessionID: "s1", Decision: "allow", Status: "timeout"},
		{Event: "Stop", SessionID: "s2", Decision: "allow", Status: "timeout"},
	} {
		if err := l.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	env := &doctorEnv{cfg: cfg, since: time.Now().Add(-time.Hour)}
	got := checkRecentEvents(context.Background(), env)
	if got.Status != formatter.StatusWarn {
		t.Fatalf("Status = %s, want warn (%s)", got.Status, got.Detail)
	}
	if !strings.Contains(got.Detail, "Stop timeout x2") {
		t.Errorf("Detail = %q", got.Detail)
	}

	env.since = time.Now().Add(time.Hour)
	if got := checkRecentEvents(context.Background(), env); got.Status != formatter.StatusPass {
		t.Errorf("future window: Status = %s (%s)", got.Status, got.Detail)
	}
}
