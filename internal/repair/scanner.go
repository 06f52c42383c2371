// Package repair implements the fix/repair scanner: a pass over every
// document that checks recorded artifacts against the filesystem and moves
// inconsistent documents back to the last stage whose output is verified.
package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/pdfcheck"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

const defaultBatchSize = 200

// Repair describes one corrective action.
type Repair struct {
	DocumentID string       `json:"document_id"`
	From       model.Status `json:"from"`
	To         model.Status `json:"to"`
	Code       string       `json:"code"`
	Reason     string       `json:"reason"`
}

// Report summarizes a scan.
type Report struct {
	Scanned int           `json:"scanned"`
	Repairs []Repair      `json:"repairs,omitempty"`
	Stale   int           `json:"stale"`
	DryRun  bool          `json:"dry_run"`
	Elapsed time.Duration `json:"elapsed"`
}

// Options controls a scan.
type Options struct {
	// DryRun reports repairs without writing them.
	DryRun bool
}

// Scanner checks documents for inconsistencies.
type Scanner struct {
	store  store.Store
	layout artifact.Layout
	cfg    config.RepairConfig
	now    func() time.Time
}

// NewScanner creates a scanner.
func NewScanner(st store.Store, layout artifact.Layout, cfg config.RepairConfig) *Scanner {
	return &Scanner{
		store:  st,
		layout: layout,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Scan checks every document, irrespective of status, in id order.
func (s *Scanner) Scan(ctx context.Context, opts Options) (Report, error) {
	start := time.Now()
	rep := Report{DryRun: opts.DryRun}
	log := zap.L().With(zap.String("component", "repair.scanner"))

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	filter := store.DocumentFilter{Limit: batch}

	for {
		select {
		case <-ctx.Done():
			rep.Elapsed = time.Since(start)
			return rep, ctx.Err()
		default:
		}

		docs, err := s.store.ListDocuments(ctx, filter)
		if err != nil {
			rep.Elapsed = time.Since(start)
			return rep, eris.Wrap(err, "repair: list documents")
		}
		if len(docs) == 0 {
			break
		}
		filter.AfterID = docs[len(docs)-1].ID
		rep.Scanned += len(docs)

		var outcomes []store.Outcome
		for _, d := range docs {
			fixed, r, ok := s.Check(d)
			if !ok {
				continue
			}
			log.Warn("repair: document inconsistent",
				zap.String("document_id", d.ID),
				zap.String("from", string(r.From)),
				zap.String("to", string(r.To)),
				zap.String("error_code", r.Code),
				zap.String("reason", r.Reason),
				zap.Bool("dry_run", opts.DryRun),
			)
			rep.Repairs = append(rep.Repairs, r)

			o := store.Outcome{Document: fixed}
			if d.Status == model.StatusConsolidated && fixed.Status != model.StatusConsolidated {
				o.Articles = []model.Article{}
			}
			outcomes = append(outcomes, o)
		}

		if !opts.DryRun && len(outcomes) > 0 {
			ar, err := s.store.ApplyOutcomes(ctx, outcomes)
			if err != nil {
				rep.Elapsed = time.Since(start)
				return rep, eris.Wrap(err, "repair: apply repairs")
			}
			rep.Stale += len(ar.Stale)
		}
		if len(docs) < batch {
			break
		}
	}

	rep.Elapsed = time.Since(start)
	log.Info("repair: scan complete",
		zap.Int("scanned", rep.Scanned),
		zap.Int("repaired", len(rep.Repairs)),
		zap.Int("stale", rep.Stale),
		zap.Bool("dry_run", opts.DryRun),
		zap.Duration("elapsed", rep.Elapsed),
	)
	return rep, nil
}

// Run scans every interval until ctx is cancelled. A failed scan is logged
// and retried on the next tick.
func (s *Scanner) Run(ctx context.Context, interval time.Duration, opts Options) {
	log := zap.L().With(zap.String("component", "repair.scanner"))
	log.Info("starting repair scanner", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx, opts); err != nil && ctx.Err() == nil {
			log.Error("repair: scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("repair scanner stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check returns the repaired copy of d and the action taken. ok is false
// when d is consistent.
func (s *Scanner) Check(d model.Document) (model.Document, Repair, bool) {
	fixed := d
	to, code, reason := s.diagnose(d)

	if to == "" {
		if d.Flags.Has(model.FlagImagesRendered) && !s.imagesPresent(d) {
			fixed.Flags = fixed.Flags.Without(model.FlagImagesRendered)
			return fixed, Repair{
				DocumentID: d.ID, From: d.Status, To: d.Status,
				Code: model.CodeArtifactMissing, Reason: "page images missing",
			}, true
		}
		return d, Repair{}, false
	}

	if !fixed.Regress(to) {
		zap.L().Debug("repair: regression rejected",
			zap.String("document_id", d.ID),
			zap.String("from", string(d.Status)),
			zap.String("to", string(to)),
		)
		return d, Repair{}, false
	}
	clearFrom(&fixed, to)
	fixed.ErrorCode = code
	fixed.ErrorMessage = "repair: " + reason
	return fixed, Repair{DocumentID: d.ID, From: d.Status, To: to, Code: code, Reason: reason}, true
}

// diagnose walks the artifacts in pipeline order and returns the status to
// regress to for the first one that fails verification.
func (s *Scanner) diagnose(d model.Document) (model.Status, string, string) {
	pos := d.Status.Position()

	if pos >= model.StatusDownloaded.Rank() {
		if err := artifact.Verify(d.PDFPath); err != nil {
			return model.StatusFetched, model.CodeOf(err), "pdf: " + err.Error()
		}
		if s.cfg.VerifyHash && d.ContentHash != "" {
			if err := pdfcheck.VerifyHash(d.PDFPath, d.ContentHash); err != nil {
				return model.StatusFetched, model.CodeOf(err), err.Error()
			}
		}
	}
	if pos >= model.StatusOCRExtracted.Rank() {
		if err := artifact.Verify(d.TextPath); err != nil {
			return model.StatusDownloaded, model.CodeOf(err), "ocr text: " + err.Error()
		}
	}
	if pos >= model.StatusTextCorrected.Rank() {
		if err := artifact.Verify(d.CorrectedTextPath); err != nil {
			return model.StatusOCRExtracted, model.CodeOf(err), "corrected text: " + err.Error()
		}
	}
	if pos >= model.StatusStructured.Rank() {
		var res model.ExtractionResult
		if err := artifact.ReadJSON(d.JSONPath, &res); err != nil {
			return model.StatusTextCorrected, model.CodeOf(err), "json: " + err.Error()
		}
		if d.Confidence < s.cfg.MinConfidence {
			return model.StatusTextCorrected, model.CodeLowConfidence,
				fmt.Sprintf("confidence %.3f below minimum %.3f", d.Confidence, s.cfg.MinConfidence)
		}
	}

	if d.Status.IsFailure() && s.stuck(d) {
		return d.Status.ResumeStatus(), d.ErrorCode, "retrying " + string(d.Status) + " after " + s.stuckAfter().String()
	}
	return "", "", ""
}

func (s *Scanner) stuckAfter() time.Duration {
	return time.Duration(s.cfg.StuckAfterHours) * time.Hour
}

// stuck reports whether a failed document has waited long enough to be
// retried. A zero threshold disables automatic retries.
func (s *Scanner) stuck(d model.Document) bool {
	after := s.stuckAfter()
	return after > 0 && !d.UpdatedAt.IsZero() && s.now().Sub(d.UpdatedAt) >= after
}

func (s *Scanner) imagesPresent(d model.Document) bool {
	n, err := artifact.CountPageImages(s.layout.ImagesDir(d.Identity()))
	return err == nil && n > 0
}

// clearFrom drops the artifact references produced at or after the stage
// that reaches the status following to.
func clearFrom(d *model.Document, to model.Status) {
	rank := to.Rank()
	if rank < model.StatusDownloaded.Rank() {
		d.PDFPath = ""
		d.ContentHash = ""
		d.PageCount = 0
		d.Flags = d.Flags.Without(model.FlagImagesRendered)
	}
	if rank < model.StatusOCRExtracted.Rank() {
		d.TextPath = ""
	}
	if rank < model.StatusTextCorrected.Rank() {
		d.CorrectedTextPath = ""
	}
	if rank < model.StatusStructured.Rank() {
		d.JSONPath = ""
		d.Confidence = 0
		d.Method = ""
		d.Flags = d.Flags.Without(model.FlagAIEnriched)
	}
}
