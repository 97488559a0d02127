package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-lockdown/internal/config"
)

type rootFlags struct {
	studentID int64
	logFile   string
}

func main() {
	if err := newRootCmd(config.Load()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "take-exam",
		Short:         "Student workstation: sit one locked-down exam in the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().Int64Var(&flags.studentID, "student", 0, "student id (required)")
	cmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "write logs here instead of stderr")
	_ = cmd.MarkPersistentFlagRequired("student")

	cmd.AddCommand(newLocalCmd(cfg, flags))
	cmd.AddCommand(newLANCmd(cfg, flags))
	return cmd
}

func newLocalCmd(cfg *config.Config, flags *rootFlags) *cobra.Command {
	var examID int64
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Load the exam from the configured store and ask for the entry password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.studentID <= 0 || examID <= 0 {
				return fmt.Errorf("--student and --exam must be positive")
			}
			return runLocal(cmd.Context(), cfg, flags, examID)
		},
	}
	cmd.Flags().Int64Var(&examID, "exam", 0, "exam id (required)")
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}

func newLANCmd(cfg *config.Config, flags *rootFlags) *cobra.Command {
	var (
		addr   string
		examID int64
	)
	cmd := &cobra.Command{
		Use:   "lan",
		Short: "Fetch the exam from the proctor station and start it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.studentID <= 0 {
				return fmt.Errorf("--student must be positive")
			}
			return runLAN(cmd.Context(), cfg, flags, addr, examID)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", net.JoinHostPort("localhost", cfg.TransferPort), "proctor station transfer address")
	cmd.Flags().Int64Var(&examID, "exam", 0, "expected exam id (0 accepts whatever is served)")
	return cmd
}
