package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/correction"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "Manage the OCR correction dictionary",
}

// -- corrections import --

var correctionsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import reviewed corrections and known-good words from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entries, err := correction.LoadSeeds(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportCorrections(ctx, entries)
		if err != nil {
			return eris.Wrap(err, "corrections import")
		}
		zap.L().Info("corrections imported", zap.Int("entries", n), zap.String("file", args[0]))
		fmt.Fprintf(os.Stdout, "%d corrections imported\n", n)
		return nil
	},
}

// -- corrections list --

var correctionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dictionary entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListCorrections(ctx)
		if err != nil {
			return eris.Wrap(err, "corrections list")
		}

		origin, _ := cmd.Flags().GetString("origin")
		inactive, _ := cmd.Flags().GetBool("inactive")
		entries = filterCorrections(entries, model.CorrectionOrigin(origin), inactive)
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No corrections found.")
			return nil
		}
		formatCorrections(os.Stdout, entries)
		return nil
	},
}

// -- corrections promote --

var correctionsPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Activate learned corrections seen often enough",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		minOcc, _ := cmd.Flags().GetInt("min")
		if minOcc <= 0 {
			minOcc = cfg.Correction.PromoteAfter
		}
		if minOcc <= 0 {
			return eris.New("corrections promote: correction.promote_after must be positive")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.PromoteCorrections(ctx, minOcc)
		if err != nil {
			return eris.Wrap(err, "corrections promote")
		}
		zap.L().Info("corrections promoted", zap.Int("promoted", n), zap.Int("min_occurrences", minOcc))
		fmt.Fprintf(os.Stdout, "%d corrections promoted\n", n)
		return nil
	},
}

// filterCorrections keeps entries of the given origin (all when empty) and,
// when inactiveOnly is set, only those not yet applied. Most frequent first.
func filterCorrections(entries []model.CorrectionEntry, origin model.CorrectionOrigin, inactiveOnly bool) []model.CorrectionEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if origin != "" && e.Origin != origin {
			continue
		}
		if inactiveOnly && e.Applies() {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func init() {
	correctionsListCmd.Flags().String("origin", "", "filter by origin (reviewed, automatic)")
	correctionsListCmd.Flags().Bool("inactive", false, "only entries not yet applied")
	correctionsPromoteCmd.Flags().Int("min", 0, "minimum occurrences (default from correction.promote_after)")

	correctionsCmd.AddCommand(correctionsImportCmd)
	correctionsCmd.AddCommand(correctionsListCmd)
	correctionsCmd.AddCommand(correctionsPromoteCmd)
	rootCmd.AddCommand(correctionsCmd)
}
