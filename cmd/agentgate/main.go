package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/config"
)

var Version = "dev"

// exitCode is returned by commands that finish with a non-zero status but
// have already reported the outcome.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// app carries state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func main() {
	a := &app{v: config.New()}
	rootCmd := a.rootCmd()

	if err := rootCmd.Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentgate",
		Short:         "Run agent personas behind a permission gate",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			output := "stderr"
			if cmd.Name() == "serve" {
				output = "stdout"
			}
			a.logger = mustBuildLogger(cfg.LogLevel, output)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync() // best-effort flush
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./agentgate.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.StringSlice("agents-dir", nil, "directories holding agent definition files")
	pf.String("workspace", "", "workspace root file tools are confined to (default: working directory)")
	pf.String("audit-db", "", "SQLite audit log path")
	pf.String("executor", "", "bridge command that drives inference")
	_ = a.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("agent_dirs", pf.Lookup("agents-dir"))
	_ = a.v.BindPFlag("workspace", pf.Lookup("workspace"))
	_ = a.v.BindPFlag("audit_db", pf.Lookup("audit-db"))
	_ = a.v.BindPFlag("executor", pf.Lookup("executor"))

	rootCmd.AddCommand(a.runCmd())
	rootCmd.AddCommand(a.agentsCmd())
	rootCmd.AddCommand(a.checkCmd())
	rootCmd.AddCommand(a.serveCmd())
	rootCmd.AddCommand(a.auditCmd())

	return rootCmd
}
