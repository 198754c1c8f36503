package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/orchestrator"
)

func (a *app) runCmd() *cobra.Command {
	var (
		asJSON  bool
		approve bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "run <agent> [input...]",
		Short: "Run an agent and print its report",
		Long: `Run a primary agent. Its declared subagents run in parallel; their findings
are merged into one report.

Input is the remaining arguments, or standard input when none are given.

Exit status is 0 when the run is done, 1 when it failed to start, and 2 on
partial failure.

Examples:
  agentgate run review "HEAD~3..HEAD"
  git diff | agentgate run security-review --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			input := strings.Join(args[1:], " ")
			if input == "" && !isTerminal(os.Stdin) {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				input = string(b)
			}

			var confirmer gate.Confirmer = gate.NewTerminalConfirmer(os.Stdin, os.Stderr)
			if approve {
				confirmer = gate.StaticConfirmer{Approve: true}
			}

			db, err := a.openPostgres(ctx)
			if err != nil {
				return err
			}
			if db != nil {
				defer func() { _ = db.Close() }()
			}

			rt, err := a.newRuntime(ctx, db, confirmer)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, runErr := rt.orch.Run(ctx, args[0], input)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				err = report.WriteJSON(out)
			} else {
				err = report.WriteText(out, !noColor && !color.NoColor)
			}
			if err != nil {
				return err
			}

			if runErr != nil {
				fmt.Fprintln(os.Stderr, "run interrupted:", runErr)
				return exitCode(2)
			}
			if report.State == string(orchestrator.StatePartialFailure) {
				return exitCode(2)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&approve, "yes", "y", false, "approve every tool call that needs confirmation")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().Int("max-parallel", 4, "maximum concurrent subagent invocations")
	cmd.Flags().Int("subagent-timeout", 300, "default per-subagent timeout in seconds")
	_ = a.v.BindPFlag("max_parallel", cmd.Flags().Lookup("max-parallel"))
	_ = a.v.BindPFlag("subagent_timeout_s", cmd.Flags().Lookup("subagent-timeout"))

	return cmd
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
