package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/monitoring"
	"github.com/sells-group/lawdoc-cli/internal/repair"
	"github.com/sells-group/lawdoc-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only query API",
	Long:  "Serves document records, indexed articles, and pipeline statistics over HTTP. When repair.interval_mins is set the repair scanner runs in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if cfg.Repair.IntervalMins > 0 {
			scanner := repair.NewScanner(st, artifact.NewLayout(cfg.Paths), cfg.Repair)
			go scanner.Run(ctx, time.Duration(cfg.Repair.IntervalMins)*time.Minute, repair.Options{})
		}

		collector := monitoring.NewCollector(st, cfg.Repair.StuckAfterHours, cfg.Correction.PromoteAfter)
		srv := server.New(st, collector, cfg.Server)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		if err := srv.ListenAndServe(ctx, port); err != nil {
			return err
		}
		zap.L().Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
