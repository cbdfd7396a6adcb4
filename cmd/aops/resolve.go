package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/academicops/aops/internal/formatter"
	"github.com/academicops/aops/internal/tier"
)

var resolveFormat string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the merged instruction set",
	Long: `Merge the instruction blocks of all present tiers exactly as the
SessionStart hook does, and print the result.

Formats:
  text     the rendered set, as injected into the session (default)
  tiers    a table of tiers and which blocks each one supplied
  json     tiers and blocks as JSON

Examples:
  aops resolve
  aops resolve --cwd ~/papers/thesis --format tiers`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "text", "Output format: text, tiers, json")
	rootCmd.AddCommand(resolveCmd)
}

type resolvedBlock struct {
	Name    string   `json:"name"`
	Tier    string   `json:"tier"`
	Sources []string `json:"sources"`
	Content string   `json:"content"`
}

type resolvedTier struct {
	Kind    string `json:"kind"`
	Root    string `json:"root,omitempty"`
	Present bool   `json:"present"`
}

type resolveOutput struct {
	Tiers  []resolvedTier  `json:"tiers"`
	Blocks []resolvedBlock `json:"blocks"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cwd, err := resolveCwd()
	if err != nil {
		return err
	}
	set, err := tier.NewResolver(nil).Resolve(cwd)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	switch resolveFormat {
	case "text":
		_, err := fmt.Fprint(w, set.Render())
		return err

	case "tiers":
		tbl := formatter.NewTable(w, "BLOCK", "TIER", "SOURCES")
		for _, b := range set.Blocks {
			tbl.AddRow(b.Name, b.Tier.String(), b.Source())
		}
		if err := tbl.Render(); err != nil {
			return err
		}
		fmt.Fprintln(w)
		for _, t := range set.Tiers {
			state := "absent"
			if t.Present {
				state = t.Root
			}
			fmt.Fprintf(w, "%-10s %s\n", t.Kind, state)
		}
		return nil

	case "json":
		out := resolveOutput{}
		for _, t := range set.Tiers {
			out.Tiers = append(out.Tiers, resolvedTier{Kind: t.Kind.String(), Root: t.Root, Present: t.Present})
		}
		for _, b := range set.Blocks {
			out.Blocks = append(out.Blocks, resolvedBlock{Name: b.Name, Tier: b.Tier.String(), Sources: b.Sources, Content: b.Content})
		}
		return formatter.WriteJSON(w, out)

	default:
		return fmt.Errorf("unknown format: %s (use text, tiers or json)", resolveFormat)
	}
}
