package main

import (
	"github.com/spf13/cobra"

	"github.com/academicops/aops/internal/config"
	"github.com/academicops/aops/internal/formatter"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective settings and where each came from",
	Long: `Show every runtime setting for the current directory with the layer that
supplied it. Precedence, highest first:

  flag > environment > project .aops/config.yaml (or $AOPS_CONFIG)
       > $AOPS_PERSONAL/config.yaml > $AOPS/config.yaml > default

Examples:
  aops config
  aops config --json`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cwd, err := resolveCwd()
	if err != nil {
		return err
	}
	// Validate first so a broken file is reported rather than shown.
	if _, err := loadConfig(cwd); err != nil {
		return err
	}
	settings, err := config.Resolve(cwd, flagOverrides())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if configJSON {
		return formatter.WriteJSON(w, settings)
	}
	tbl := formatter.NewTable(w, "KEY", "VALUE", "SOURCE")
	tbl.SetMaxWidth(1, 60)
	for _, s := range settings {
		tbl.AddRow(s.Key, s.Value, string(s.Source))
	}
	return tbl.Render()
}
