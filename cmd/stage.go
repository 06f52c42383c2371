package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lawdoc-cli/internal/stage"
	"github.com/sells-group/lawdoc-cli/internal/stages"
)

var (
	stageID        string
	stageChunk     int
	stageMaxChunks int
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Run pipeline stages",
}

var stageRunCmd = &cobra.Command{
	Use:   "run <stage|all>",
	Short: "Run one stage, or every stage in order, over the documents it accepts",
	Long: "Stages: " + strings.Join(stageNames(), ", ") + ".\n" +
		"With --id only that document is considered and the stage's failure status is accepted as input, so a failed document can be retried.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := stages.NewRegistry(&stages.Env{Config: cfg, Store: st})
		if _, err := reg.Select(args[0]); err != nil {
			return err
		}

		reports, err := stages.Run(ctx, reg, st, cfg.Stage, args[0], stage.RunOptions{
			ID:        stageID,
			ChunkSize: stageChunk,
			MaxChunks: stageMaxChunks,
		})
		formatStageReports(os.Stdout, reports)
		if err != nil {
			return eris.Wrap(err, "stage run")
		}
		return nil
	},
}

// stageNames lists the registered stages without building any collaborator.
func stageNames() []string {
	return append(stages.NewRegistry(&stages.Env{}).Names(), stages.All)
}

func init() {
	stageRunCmd.Flags().StringVar(&stageID, "id", "", "process only this document id")
	stageRunCmd.Flags().IntVar(&stageChunk, "chunk", 0, "documents claimed per chunk (default from config)")
	stageRunCmd.Flags().IntVar(&stageMaxChunks, "max-chunks", 0, "stop after this many chunks (0 = until drained)")
	stageCmd.AddCommand(stageRunCmd)
	rootCmd.AddCommand(stageCmd)
}
