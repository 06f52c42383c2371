package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/repair"
)

var (
	repairDryRun bool
	repairEvery  time.Duration
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Move documents whose artifacts are missing or invalid back to the last verified stage",
	Long: "Scans every document and checks the artifacts its status implies against the filesystem. " +
		"Inconsistent documents regress to the last status whose artifact is verified present; " +
		"failures older than repair.stuck_after_hours are queued for retry. " +
		"With --every the scan repeats until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scanner := repair.NewScanner(st, artifact.NewLayout(cfg.Paths), cfg.Repair)
		opts := repair.Options{DryRun: repairDryRun}

		every := repairEvery
		if every == 0 {
			every = time.Duration(cfg.Repair.IntervalMins) * time.Minute
		}
		if every > 0 {
			scanner.Run(ctx, every, opts)
			return nil
		}

		rep, err := scanner.Scan(ctx, opts)
		formatRepairReport(os.Stdout, rep)
		return err
	},
}

func init() {
	repairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "report repairs without writing them")
	repairCmd.Flags().DurationVar(&repairEvery, "every", 0, "repeat the scan at this interval (default from repair.interval_mins; 0 = once)")
	rootCmd.AddCommand(repairCmd)
}
