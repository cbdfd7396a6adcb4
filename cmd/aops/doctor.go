package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/academicops/aops/embedded"
	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/dispatch"
	"github.com/academicops/aops/internal/eventlog"
	"github.com/academicops/aops/internal/formatter"
	"github.com/academicops/aops/internal/hookio"
	"github.com/academicops/aops/internal/policy"
	"github.com/academicops/aops/internal/session"
	"github.com/academicops/aops/internal/tier"
)

var (
	doctorJSON   bool
	doctorWindow time.Duration
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the installation",
	Long: `Run health checks on the aops installation for the current directory.

Required checks fail the command. Optional ones are reported as warnings.
The event log is scanned for recent hook invocations that ended without a
normal decision.

Examples:
  aops doctor
  aops doctor --json
  aops doctor --since 72h`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	doctorCmd.Flags().DurationVar(&doctorWindow, "since", 24*time.Hour, "How far back to scan the event log")
	doctorCmd.Flags().StringVar(&hooksSettings, "settings", "", "Settings file to check (default ~/.claude/settings.json)")
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string           `json:"name"`
	Status   formatter.Status `json:"status"`
	Detail   string           `json:"detail"`
	Required bool             `json:"required"`
}

type doctorOutput struct {
	Checks  []doctorCheck `json:"checks"`
	Result  string        `json:"result"` // "HEALTHY", "DEGRADED", "UNHEALTHY"
	Summary string        `json:"summary"`
}

type doctorEnv struct {
	cwd      string
	cfg      *config.Config
	cfgErr   error
	locator  *tier.Locator
	settings string
	since    time.Time
}

type checkFunc func(ctx context.Context, env *doctorEnv) doctorCheck

var doctorChecks = []checkFunc{
	checkFramework,
	checkPersonal,
	checkProject,
	checkInstructions,
	checkRules,
	checkConfig,
	checkStateDir,
	checkHookCoverage,
	checkHookProbes,
	checkGit,
	checkKillSwitch,
	checkRecentEvents,
}

// gatherDoctorChecks runs every check concurrently and returns results in
// declaration order.
func gatherDoctorChecks(ctx context.Context, env *doctorEnv) []doctorCheck {
	results := make([]doctorCheck, len(doctorChecks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, check := range doctorChecks {
		g.Go(func() error {
			results[i] = check(ctx, env)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // checks report through their result
	return results
}

func pass(name, detail string, required bool) doctorCheck {
	return doctorCheck{Name: name, Status: formatter.StatusPass, Detail: detail, Required: required}
}

func warn(name, detail string) doctorCheck {
	return doctorCheck{Name: name, Status: formatter.StatusWarn, Detail: detail}
}

func fail(name, detail string, required bool) doctorCheck {
	return doctorCheck{Name: name, Status: formatter.StatusFail, Detail: detail, Required: required}
}

func checkFramework(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Framework tier"
	root, err := env.locator.FrameworkRoot()
	if err != nil {
		return fail(name, fmt.Sprintf("%v (set %s to the framework checkout)", err, tier.EnvFramework), true)
	}
	core := filepath.Join(root, tier.InstructionsDir, tier.CoreFile)
	if _, err := os.Stat(core); err != nil {
		return warn(name, fmt.Sprintf("%s (no %s/%s)", root, tier.InstructionsDir, tier.CoreFile))
	}
	return pass(name, root, true)
}

func checkPersonal(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Personal tier"
	root := strings.TrimSpace(env.locator.Getenv(tier.EnvPersonal))
	if root == "" {
		return pass(name, tier.EnvPersonal+" not set (optional)", false)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return warn(name, root+" is not a directory; ignored")
	}
	return pass(name, root, false)
}

func checkProject(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Project tier"
	if root, ok := tier.FindProjectRoot(env.cwd); ok {
		return pass(name, filepath.Join(root, tier.ProjectMarker), false)
	}
	return pass(name, "no "+tier.ProjectMarker+" above "+env.cwd+" (optional)", false)
}

func checkInstructions(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Instructions"
	set, err := tier.NewResolver(env.locator).Resolve(env.cwd)
	if err != nil {
		return fail(name, err.Error(), true)
	}
	if len(set.Blocks) == 0 {
		return warn(name, "no instruction blocks in any tier; SessionStart injects nothing")
	}
	return pass(name, fmt.Sprintf("%d block(s) merged", len(set.Blocks)), true)
}

func checkRules(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Policy rules"
	tiers, err := tier.NewResolver(env.locator).Tiers(env.cwd)
	if err != nil {
		return fail(name, err.Error(), true)
	}
	rs, err := policy.Load(tiers, embedded.DefaultRules)
	if err != nil {
		return fail(name, fmt.Sprintf("%v (PreToolUse will block every write)", err), true)
	}
	return pass(name, fmt.Sprintf("%d rule(s)", len(rs.Rules)), true)
}

func checkConfig(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Config"
	if env.cfgErr != nil {
		return fail(name, env.cfgErr.Error(), true)
	}
	return pass(name, fmt.Sprintf("validation fails %s, stop budget %s", env.cfg.Failure.Validation, env.cfg.Budgets.Stop), true)
}

func checkStateDir(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Session state"
	dir := env.cfg.StateDir
	if dir == "" {
		dir = "(default)"
	}
	if err := probeWritable(env.cfg.StateDir); err != nil {
		return fail(name, fmt.Sprintf("%s not writable: %v (Stop will never defer)", dir, err), false)
	}
	return pass(name, dir, false)
}

// probeWritable creates and removes a file in dir.
func probeWritable(dir string) error {
	if dir == "" {
		dir = session.DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close() //nolint:errcheck // probe
	return os.Remove(name)
}

func checkHookCoverage(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Hook coverage"
	cov, err := hookCoverage(env.settings)
	if err != nil {
		return warn(name, err.Error())
	}
	var missing []string
	for _, kind := range hookio.Kinds {
		if !cov[kind] {
			missing = append(missing, string(kind))
		}
	}
	switch {
	case len(missing) == len(hookio.Kinds):
		return warn(name, "no aops hooks in "+env.settings+"; run 'aops hooks install'")
	case len(missing) > 0:
		return warn(name, "missing "+strings.Join(missing, ", ")+"; run 'aops hooks install --force'")
	}
	return pass(name, fmt.Sprintf("%d/%d events", len(hookio.Kinds), len(hookio.Kinds)), false)
}

func checkHookProbes(ctx context.Context, env *doctorEnv) doctorCheck {
	const name = "Hook probes"
	results, err := probeHooks(ctx, env.settings, env.cwd)
	if err != nil {
		return warn(name, err.Error())
	}
	var ok, missing int
	var problems []string
	for _, r := range results {
		switch r.Status {
		case probeOK:
			ok++
		case probeMissing:
			missing++
		default:
			problems = append(problems, fmt.Sprintf("%s %s (%s)", r.Kind, r.Status, r.Detail))
		}
	}
	switch {
	case len(problems) > 0:
		return fail(name, strings.Join(problems, "; "), false)
	case ok == 0:
		return warn(name, "nothing installed to probe")
	}
	detail := fmt.Sprintf("%d ok", ok)
	if missing > 0 {
		detail += fmt.Sprintf(", %d missing", missing)
	}
	return pass(name, detail, false)
}

func checkGit(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Git"
	enabled := config.Bool(env.cfg.Autocommit.Enabled)
	path, err := exec.LookPath("git")
	switch {
	case err != nil && enabled:
		return fail(name, "git not found but autocommit is enabled", false)
	case err != nil:
		return warn(name, "git not found (autocommit unavailable)")
	case enabled:
		return pass(name, path+", autocommit on", false)
	}
	return pass(name, path+", autocommit off", false)
}

func checkKillSwitch(_ context.Context, _ *doctorEnv) doctorCheck {
	const name = "Hooks enabled"
	if hooksDisabled() {
		return warn(name, EnvHooksDisabled+" is set; every hook allows")
	}
	return pass(name, "yes", false)
}

var abnormalStatuses = map[string]bool{
	string(dispatch.StatusNoHandler):   true,
	string(dispatch.StatusNoDecision):  true,
	string(dispatch.StatusTimeout):     true,
	string(dispatch.StatusPanic):       true,
	string(dispatch.StatusError):       true,
	string(dispatch.StatusConfigError): true,
}

func checkRecentEvents(_ context.Context, env *doctorEnv) doctorCheck {
	const name = "Recent hooks"
	if !config.Bool(env.cfg.EventLog.Enabled) {
		return pass(name, "event log disabled", false)
	}
	recs, err := eventlog.New(env.cfg.EventLog.Dir, true).Recent(env.since)
	if err != nil {
		return warn(name, err.Error())
	}
	counts := map[string]int{}
	for _, r := range recs {
		if abnormalStatuses[r.Status] {
			counts[r.Event+" "+r.Status]++
		}
	}
	if len(counts) == 0 {
		return pass(name, fmt.Sprintf("%d invocation(s), none abnormal", len(recs)), false)
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s x%d", k, counts[k])
	}
	return warn(name, strings.Join(parts, ", "))
}

func countCheckStatuses(checks []doctorCheck) (passes, fails, warns int) {
	for _, c := range checks {
		switch c.Status {
		case formatter.StatusPass:
			passes++
		case formatter.StatusFail:
			fails++
		case formatter.StatusWarn:
			warns++
		}
	}
	return passes, fails, warns
}

func computeResult(checks []doctorCheck) doctorOutput {
	passes, fails, warns := countCheckStatuses(checks)
	statuses := make([]formatter.Status, len(checks))
	for i, c := range checks {
		statuses[i] = c.Status
	}
	result := "HEALTHY"
	switch formatter.Worst(statuses...) {
	case formatter.StatusFail:
		result = "UNHEALTHY"
	case formatter.StatusWarn:
		result = "DEGRADED"
	}
	return doctorOutput{
		Checks:  checks,
		Result:  result,
		Summary: fmt.Sprintf("%d/%d checks passed, %d warning(s), %d failure(s)", passes, len(checks), warns, fails),
	}
}

func renderDoctorTable(w io.Writer, output doctorOutput) {
	fmt.Fprintln(w, "aops doctor")
	fmt.Fprintln(w, strings.Repeat("─", 11))

	maxName := 0
	for _, c := range output.Checks {
		maxName = max(maxName, len(c.Name))
	}
	for _, c := range output.Checks {
		fmt.Fprintf(w, "%s %-*s  %s\n", formatter.Icon(c.Status), maxName, c.Name, c.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s: %s\n", output.Result, output.Summary)
}

func hasRequiredFailure(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Required && c.Status == formatter.StatusFail {
			return true
		}
	}
	return false
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cwd, err := resolveCwd()
	if err != nil {
		return err
	}
	settings, err := settingsPath()
	if err != nil {
		return err
	}
	env := &doctorEnv{
		cwd:      cwd,
		locator:  &tier.Locator{Getenv: os.Getenv},
		settings: settings,
		since:    time.Now().Add(-doctorWindow),
	}
	env.cfg, env.cfgErr = loadConfig(cwd)
	if env.cfgErr != nil {
		env.cfg = config.Default()
	}

	output := computeResult(gatherDoctorChecks(commandContext(cmd), env))
	w := cmd.OutOrStdout()
	if doctorJSON {
		if err := formatter.WriteJSON(w, output); err != nil {
			return err
		}
	} else {
		renderDoctorTable(w, output)
	}
	if hasRequiredFailure(output.Checks) {
		return errors.New("doctor failed: one or more required checks did not pass")
	}
	return nil
}
