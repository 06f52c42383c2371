package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/catalog"
)

var (
	addType   string
	addYear   int
	addNumber int
	addURL    string
	addPath   string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Register documents for processing",
	Long:  "Creates DISCOVERED records either from flags or from a document list (.yaml, .csv, or .xlsx). Documents that already exist are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var entries []catalog.Entry
		if addPath != "" {
			loaded, err := catalog.Read(addPath)
			if err != nil {
				return err
			}
			entries = loaded
		} else {
			entries = []catalog.Entry{{Type: addType, Year: addYear, Number: addNumber, URL: addURL}}
		}

		docs, err := catalog.Documents(entries)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		created, err := catalog.Register(ctx, st, docs)
		if err != nil {
			return err
		}
		zap.L().Info("documents registered",
			zap.Int("created", created),
			zap.Int("existing", len(docs)-created),
		)
		fmt.Fprintf(os.Stdout, "%d created, %d already registered\n", created, len(docs)-created)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addType, "type", "", "document type (loi, decret, arrete, ordonnance)")
	addCmd.Flags().IntVar(&addYear, "year", 0, "publication year")
	addCmd.Flags().IntVar(&addNumber, "number", 0, "document number within the year")
	addCmd.Flags().StringVar(&addURL, "url", "", "source URL of the PDF")
	addCmd.Flags().StringVar(&addPath, "file", "", "document list (.yaml, .csv, or .xlsx)")
	addCmd.MarkFlagsMutuallyExclusive("file", "type")
	addCmd.MarkFlagsMutuallyExclusive("file", "url")
	rootCmd.AddCommand(addCmd)
}
