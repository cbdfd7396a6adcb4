package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/academicops/aops/internal/formatter"
	"github.com/academicops/aops/internal/lifecycle"
	"github.com/academicops/aops/internal/session"
	"github.com/academicops/aops/internal/transcript"
)

var sessionJSON bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show or clear pending deferred actions",
	Long: `Inspect the per-session flags the Stop hook uses to request one deferred
action before a session ends.

A session is "awaiting-deferred-action" between the blocked Stop and the next
Stop (or the next user prompt). Clearing a flag by hand returns it to idle.`,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "List pending flags, or show one session's state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionStatus,
}

var sessionResolveCmd = &cobra.Command{
	Use:   "resolve <session-id>",
	Short: "Clear a session's pending deferred action",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionResolve,
}

func init() {
	sessionStatusCmd.Flags().BoolVar(&sessionJSON, "json", false, "Output as JSON")
	sessionCmd.AddCommand(sessionStatusCmd, sessionResolveCmd)
	rootCmd.AddCommand(sessionCmd)
}

type flagRow struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
}

func sessionStore() (*session.FileStore, error) {
	cwd, err := resolveCwd()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cwd)
	if err != nil {
		return nil, err
	}
	return session.NewFileStore(cfg.StateDir), nil
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if len(args) == 1 {
		c := lifecycle.New(store, transcript.Thresholds{}, "")
		st, err := c.State(args[0])
		if err != nil {
			return err
		}
		if sessionJSON {
			return formatter.WriteJSON(w, map[string]string{"session_id": args[0], "state": st.String()})
		}
		_, err = fmt.Fprintf(w, "%s %s\n", args[0], st)
		return err
	}

	flags, err := store.List()
	if err != nil {
		return err
	}
	rows := make([]flagRow, 0, len(flags))
	for _, f := range flags {
		rows = append(rows, flagRow{SessionID: f.SessionID, CreatedAt: f.CreatedAt, Path: f.Path})
	}
	if sessionJSON {
		return formatter.WriteJSON(w, rows)
	}

	tbl := formatter.NewTable(w, "SESSION", "AGE", "FLAG")
	tbl.SetMaxWidth(0, 40)
	now := time.Now()
	for _, r := range rows {
		id := r.SessionID
		if id == "" {
			id = "?"
		}
		tbl.AddRow(id, now.Sub(r.CreatedAt).Round(time.Second).String(), r.Path)
	}
	return tbl.Render()
}

func runSessionResolve(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	c := lifecycle.New(store, transcript.Thresholds{}, "")
	existed, err := c.Resolve(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if existed {
		_, err = fmt.Fprintf(w, "cleared deferred action for %s\n", args[0])
	} else {
		_, err = fmt.Fprintf(w, "%s has no pending deferred action\n", args[0])
	}
	return err
}
