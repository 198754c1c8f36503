package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/triage-ai/agentgate/internal/storage"
)

func (a *app) auditCmd() *cobra.Command {
	var (
		runID    string
		agent    string
		decision string
		since    time.Duration
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent gate decisions from the local audit log",
		Long: `List gate decisions and confirmation outcomes, newest first. Records are
read from ClickHouse when CLICKHOUSE_DSN is set, otherwise from the SQLite
audit log.

Examples:
  agentgate audit --decision deny --since 24h
  agentgate audit --run 01J9Z3... --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader, closeReader, err := a.openAuditReader()
			if err != nil {
				return err
			}
			defer closeReader()

			params := storage.ListParams{Page: 1, PageSize: limit}
			if runID != "" {
				params.RunID = &runID
			}
			if agent != "" {
				params.Agent = &agent
			}
			if decision != "" {
				params.Decision = &decision
			}
			if since > 0 {
				t := time.Now().Add(-since)
				params.Since = &t
			}

			records, total, err := reader.ListRecords(cmd.Context(), params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSTAGE\tDECISION\tAGENT\tTOOL\tSUBJECT\tRULE")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format(time.DateTime), r.Stage, r.Decision,
					r.Agent, r.Tool, clip(r.Subject, 60), r.Rule)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if total > len(records) {
				fmt.Fprintf(cmd.ErrOrStderr(), "showing %d of %d records\n", len(records), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "only records of this run id")
	cmd.Flags().StringVar(&agent, "agent", "", "only records of this agent")
	cmd.Flags().StringVar(&decision, "decision", "", "only allow, ask or deny")
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this (e.g. 24h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records to show")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print records as JSON")
	return cmd
}

func (a *app) openAuditReader() (storage.AuditReader, func(), error) {
	if a.cfg.ClickHouseDSN != "" {
		r, err := storage.NewClickHouseReader(a.cfg.ClickHouseDSN)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	}
	if a.cfg.AuditDB == "" {
		return nil, nil, fmt.Errorf("no audit store configured (set AGENTGATE_AUDIT_DB)")
	}
	path := expandHome(a.cfg.AuditDB)
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("audit log %s: %w", path, err)
	}
	s, err := storage.OpenSQLite(path, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
