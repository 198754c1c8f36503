package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/triage-ai/agentgate/internal/agents"
)

func (a *app) agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect agent definitions",
	}
	cmd.AddCommand(a.agentsListCmd())
	cmd.AddCommand(a.agentsShowCmd())
	return cmd
}

func (a *app) agentsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded agents and any definitions that failed to parse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, release, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reg.List())
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODE\tSOURCE\tDESCRIPTION")
			for _, def := range reg.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Name, def.Mode, def.Source, def.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			writeProblems(cmd.ErrOrStderr(), reg.Problems())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print definitions as JSON")
	return cmd
}

func (a *app) agentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent>",
		Short: "Show one agent's tools, permissions, subagents and prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, release, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			def, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			writeDefinition(cmd.OutOrStdout(), def)
			return nil
		},
	}
}

func writeDefinition(w io.Writer, def *agents.Definition) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s", def.Name)
	fmt.Fprintf(w, " (%s) from %s\n", def.Mode, def.Source)
	fmt.Fprintf(w, "%s\n", def.Description)
	if def.Model != "" {
		fmt.Fprintf(w, "model: %s\n", def.Model)
	}
	if def.Temperature != nil {
		fmt.Fprintf(w, "temperature: %g\n", *def.Temperature)
	}
	if def.Timeout > 0 {
		fmt.Fprintf(w, "timeout: %s\n", def.Timeout)
	}

	if len(def.Tools) > 0 {
		names := make([]string, 0, len(def.Tools))
		for name, enabled := range def.Tools {
			if !enabled {
				name += " (disabled)"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "tools: %s\n", strings.Join(names, ", "))
	}

	if len(def.Permissions) > 0 {
		fmt.Fprintln(w, "permission:")
		keys := make([]string, 0, len(def.Permissions))
		for k := range def.Permissions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s:\n", k)
			for _, r := range def.Permissions[k] {
				fmt.Fprintf(w, "    %q: %s\n", r.Pattern, r.Action)
			}
		}
	}

	if len(def.Subagents) > 0 {
		fmt.Fprintln(w, "subagents:")
		for _, t := range def.Subagents {
			line := "  - " + t.Agent
			if t.Timeout > 0 {
				line += fmt.Sprintf(" (timeout %s)", t.Timeout)
			}
			fmt.Fprintln(w, line)
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(def.Prompt))
}

func writeProblems(w io.Writer, problems []*agents.ParseError) {
	if len(problems) == 0 {
		return
	}
	warn := color.New(color.FgYellow)
	warn.Fprintf(w, "\n%d definition(s) skipped:\n", len(problems))
	for _, p := range problems {
		fmt.Fprintf(w, "  - %v\n", p)
	}
}
