// Package monitoring gathers point-in-time pipeline statistics for the
// status command and the query API.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/store"
)

// Snapshot holds a point-in-time view of the pipeline.
type Snapshot struct {
	ByStatus map[model.Status]int `json:"by_status"`

	Total        int     `json:"total"`
	Consolidated int     `json:"consolidated"`
	InProgress   int     `json:"in_progress"`
	Failed       int     `json:"failed"`
	FailRate     float64 `json:"fail_rate"`

	// StuckFailures counts failed documents untouched for longer than the
	// stuck window; the repair scanner retries these.
	StuckFailures int `json:"stuck_failures"`

	Corrections CorrectionStats `json:"corrections"`

	StuckAfterHours int       `json:"stuck_after_hours"`
	CollectedAt     time.Time `json:"collected_at"`
}

// CorrectionStats summarizes the correction dictionary.
type CorrectionStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Reviewed  int `json:"reviewed"`
	Automatic int `json:"automatic"`

	// Promotable counts inactive automatic entries at or above the
	// promotion threshold.
	Promotable int `json:"promotable"`
}

// Collector gathers statistics from the store.
type Collector struct {
	store        store.Store
	stuckAfter   time.Duration
	promoteAfter int
	now          func() time.Time
}

// NewCollector creates a new statistics collector.
func NewCollector(st store.Store, stuckAfterHours, promoteAfter int) *Collector {
	return &Collector{
		store:        st,
		stuckAfter:   time.Duration(stuckAfterHours) * time.Hour,
		promoteAfter: promoteAfter,
		now:          time.Now,
	}
}

// Collect gathers a snapshot of the pipeline.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		StuckAfterHours: int(c.stuckAfter / time.Hour),
		CollectedAt:     now,
	}

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by status")
	}
	snap.ByStatus = make(map[model.Status]int, len(model.AllStatuses()))
	for _, s := range model.AllStatuses() {
		snap.ByStatus[s] = counts[s]
	}

	var failed []model.Status
	for s, n := range snap.ByStatus {
		snap.Total += n
		switch {
		case s == model.StatusConsolidated:
			snap.Consolidated += n
		case s.IsFailure():
			snap.Failed += n
			if n > 0 {
				failed = append(failed, s)
			}
		default:
			snap.InProgress += n
		}
	}
	if snap.Total > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Total)
	}

	if c.stuckAfter > 0 && len(failed) > 0 {
		n, err := c.countStuck(ctx, failed, now.Add(-c.stuckAfter))
		if err != nil {
			return nil, err
		}
		snap.StuckFailures = n
	}

	entries, err := c.store.ListCorrections(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list corrections")
	}
	for _, e := range entries {
		snap.Corrections.Total++
		if e.Applies() {
			snap.Corrections.Active++
		}
		switch e.Origin {
		case model.CorrectionReviewed:
			snap.Corrections.Reviewed++
		case model.CorrectionAutomatic:
			snap.Corrections.Automatic++
			if !e.Active && c.promoteAfter > 0 && e.Occurrences >= c.promoteAfter {
				snap.Corrections.Promotable++
			}
		}
	}

	return snap, nil
}

func (c *Collector) countStuck(ctx context.Context, statuses []model.Status, cutoff time.Time) (int, error) {
	const page = 500
	filter := store.DocumentFilter{Statuses: statuses, UpdatedBefore: cutoff, Limit: page}
	total := 0
	for {
		docs, err := c.store.ListDocuments(ctx, filter)
		if err != nil {
			return 0, eris.Wrap(err, "monitoring: list stuck documents")
		}
		total += len(docs)
		if len(docs) < page {
			return total, nil
		}
		filter.AfterID = docs[len(docs)-1].ID
	}
}
