package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/monitoring"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Inspect document records",
}

// -- documents list --

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")
		after, _ := cmd.Flags().GetString("after")

		filter := store.DocumentFilter{AfterID: after, Limit: limit}
		for _, raw := range statuses {
			s := model.Status(raw)
			if !s.Valid() {
				return eris.Errorf("unknown status %q", raw)
			}
			filter.Statuses = append(filter.Statuses, s)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		docs, err := st.ListDocuments(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "documents list")
		}
		if len(docs) == 0 {
			fmt.Fprintln(os.Stderr, "No documents found.")
			return nil
		}
		formatDocumentsList(os.Stdout, docs)
		return nil
	},
}

// -- documents show --

var documentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document record and its indexed articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc, err := st.GetDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents show")
		}
		articles, err := st.ListArticles(ctx, doc.ID)
		if err != nil {
			return eris.Wrap(err, "documents show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Document
			Articles []model.Article `json:"articles,omitempty"`
		}{doc, articles})
	},
}

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document counts per status and dictionary statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, cfg.Repair.StuckAfterHours, cfg.Correction.PromoteAfter).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	documentsListCmd.Flags().StringSlice("status", nil, "filter by status (repeatable)")
	documentsListCmd.Flags().Int("limit", 50, "max number of documents to display")
	documentsListCmd.Flags().String("after", "", "list documents after this id")

	statusCmd.Flags().Bool("json", false, "print the snapshot as JSON")

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(statusCmd)
}
