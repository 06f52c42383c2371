package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/monitoring"
	"github.com/sells-group/lawdoc-cli/internal/repair"
	"github.com/sells-group/lawdoc-cli/internal/stage"
)

// formatDocumentsList writes a tabular list of documents to w.
func formatDocumentsList(out io.Writer, docs []model.Document) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tFLAGS\tMETHOD\tCONFIDENCE\tERROR\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t------\t----------\t-----\t-------")

	for _, d := range docs {
		conf := ""
		if d.Method != "" {
			conf = fmt.Sprintf("%.2f", d.Confidence)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID,
			d.Status,
			strings.Join(d.Flags.Names(), ","),
			d.Method,
			conf,
			d.ErrorCode,
			d.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatStageReports writes one line per stage run to w.
func formatStageReports(out io.Writer, reports []stage.Report) {
	if len(reports) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tCHUNKS\tCLAIMED\tSUCCEEDED\tFAILED\tSKIPPED\tSTALE\tELAPSED")
	for _, r := range reports {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Stage, r.Chunks, r.Claimed, r.Succeeded, r.Failed, r.Skipped, r.Stale,
			r.Elapsed.Round(time.Millisecond))
	}
	_ = w.Flush()
}

// formatRepairReport writes the repairs of a scan and a summary line to w.
func formatRepairReport(out io.Writer, rep repair.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(rep.Repairs) > 0 {
		_, _ = fmt.Fprintln(w, "ID\tFROM\tTO\tCODE\tREASON")
		for _, r := range rep.Repairs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.DocumentID, r.From, r.To, r.Code, r.Reason)
		}
	}
	verb := "repaired"
	if rep.DryRun {
		verb = "would repair"
	}
	_, _ = fmt.Fprintf(w, "Scanned %d documents, %s %d (%d stale) in %s\n",
		rep.Scanned, verb, len(rep.Repairs), rep.Stale, rep.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}

// formatSnapshot writes status counts and dictionary statistics to w.
func formatSnapshot(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, st := range model.AllStatuses() {
		_, _ = fmt.Fprintf(w, "%s:\t%d\n", st, s.ByStatus[st])
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Consolidated:\t%d\n", s.Consolidated)
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.InProgress)
	_, _ = fmt.Fprintf(w, "Failed:\t%d (%.1f%%)\n", s.Failed, s.FailRate*100)
	if s.StuckAfterHours > 0 {
		_, _ = fmt.Fprintf(w, "  Stuck > %dh:\t%d\n", s.StuckAfterHours, s.StuckFailures)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Corrections:\t%d\n", s.Corrections.Total)
	_, _ = fmt.Fprintf(w, "  Active:\t%d\n", s.Corrections.Active)
	_, _ = fmt.Fprintf(w, "  Reviewed:\t%d\n", s.Corrections.Reviewed)
	_, _ = fmt.Fprintf(w, "  Automatic:\t%d\n", s.Corrections.Automatic)
	_, _ = fmt.Fprintf(w, "  Promotable:\t%d\n", s.Corrections.Promotable)
	_ = w.Flush()
}

// formatCorrections writes dictionary entries to w.
func formatCorrections(out io.Writer, entries []model.CorrectionEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOKEN\tREPLACEMENT\tOCCURRENCES\tORIGIN\tACTIVE")
	_, _ = fmt.Fprintln(w, "-----\t-----------\t-----------\t------\t------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", e.Display, e.Replacement, e.Occurrences, e.Origin, e.Applies())
	}
	_ = w.Flush()
}
