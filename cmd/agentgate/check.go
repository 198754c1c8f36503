package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/storage"
)

// placeholderArgs fills required arguments other than the subject so that a
// dry run exercises the permission rules rather than argument validation.
var placeholderArgs = map[string]map[string]any{
	"write": {"content": ""},
	"edit":  {"old_string": "x", "new_string": ""},
	"grep":  {"pattern": "."},
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <agent> <tool> <subject...>",
		Short: "Show the gate decision for a tool call without running it",
		Long: `Evaluate one tool call against an agent's permissions and the built-in
destructive-command checks. Nothing is executed and no audit record is kept.

The subject is the command for bash, the path for file tools and the URL for
webfetch.

Exit status is 0 for allow, 1 for deny and 2 for ask.

Examples:
  agentgate check review bash "git push --force"
  agentgate check docs write README.md`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentName, tool, subject := args[0], args[1], strings.Join(args[2:], " ")

			spec, ok := gate.LookupTool(tool)
			if !ok {
				return fmt.Errorf("unknown tool %q (known: %s)", tool, strings.Join(gate.ToolNames(), ", "))
			}

			reg, release, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			def, err := reg.Lookup(agentName)
			if err != nil {
				return err
			}

			g, err := gate.New(gate.Options{
				Workspace: a.cfg.Workspace,
				Audit:     storage.NewMemoryStore(1),
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}

			callArgs := map[string]any{spec.SubjectArg: subject}
			for k, v := range placeholderArgs[tool] {
				callArgs[k] = v
			}
			dec := g.Authorize(cmd.Context(), &gate.Request{
				RunID: "check",
				Agent: def,
				Tool:  tool,
				Args:  callArgs,
			})

			out := cmd.OutOrStdout()
			actionColor(dec.Action).Fprint(out, strings.ToUpper(string(dec.Action)))
			fmt.Fprintf(out, "  %s %s\n", tool, dec.Subject)
			if dec.Rule != "" {
				fmt.Fprintf(out, "  rule:   %s\n", dec.Rule)
			}
			if dec.Reason != "" {
				fmt.Fprintf(out, "  reason: %s\n", dec.Reason)
			}

			switch dec.Action {
			case agents.ActionDeny:
				return exitCode(1)
			case agents.ActionAsk:
				return exitCode(2)
			}
			return nil
		},
	}
}

func actionColor(a agents.Action) *color.Color {
	switch a {
	case agents.ActionAllow:
		return color.New(color.FgGreen, color.Bold)
	case agents.ActionAsk:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
