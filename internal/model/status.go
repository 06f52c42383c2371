package model

// Status is a document's position in the conversion pipeline.
type Status string

const (
	StatusDiscovered    Status = "discovered"
	StatusFetched       Status = "fetched"
	StatusDownloaded    Status = "downloaded"
	StatusOCRExtracted  Status = "ocr_extracted"
	StatusTextCorrected Status = "text_corrected"
	StatusStructured    Status = "structured"
	StatusConsolidated  Status = "consolidated"

	StatusFailedFetch         Status = "failed_fetch"
	StatusFailedDownload      Status = "failed_download"
	StatusFailedOCR           Status = "failed_ocr"
	StatusFailedExtraction    Status = "failed_extraction"
	StatusFailedConsolidation Status = "failed_consolidation"
)

// progression is the forward order of the main (non-failure) statuses.
var progression = []Status{
	StatusDiscovered,
	StatusFetched,
	StatusDownloaded,
	StatusOCRExtracted,
	StatusTextCorrected,
	StatusStructured,
	StatusConsolidated,
}

// transitions lists, for each target status, the source statuses it may be
// reached from. A failure status may move forward to the success status of
// the stage that failed (manual or repaired retry).
var transitions = map[Status][]Status{
	StatusFetched:       {StatusDiscovered, StatusFailedFetch},
	StatusDownloaded:    {StatusFetched, StatusFailedDownload},
	StatusOCRExtracted:  {StatusDownloaded, StatusFailedOCR},
	StatusTextCorrected: {StatusOCRExtracted, StatusFailedExtraction},
	StatusStructured:    {StatusTextCorrected, StatusFailedExtraction},
	StatusConsolidated:  {StatusStructured, StatusFailedConsolidation},

	StatusFailedFetch:         {StatusDiscovered},
	StatusFailedDownload:      {StatusFetched},
	StatusFailedOCR:           {StatusDownloaded},
	StatusFailedExtraction:    {StatusOCRExtracted, StatusTextCorrected},
	StatusFailedConsolidation: {StatusStructured},
}

// failureResume maps each failure status to the main status a document
// resumes from when retried.
var failureResume = map[Status]Status{
	StatusFailedFetch:         StatusDiscovered,
	StatusFailedDownload:      StatusFetched,
	StatusFailedOCR:           StatusDownloaded,
	StatusFailedExtraction:    StatusOCRExtracted,
	StatusFailedConsolidation: StatusStructured,
}

// AllStatuses returns every defined status, main progression first.
func AllStatuses() []Status {
	out := make([]Status, 0, len(progression)+len(failureResume))
	out = append(out, progression...)
	return append(out,
		StatusFailedFetch,
		StatusFailedDownload,
		StatusFailedOCR,
		StatusFailedExtraction,
		StatusFailedConsolidation,
	)
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	if s.Rank() >= 0 {
		return true
	}
	_, ok := failureResume[s]
	return ok
}

// IsFailure reports whether s is a per-stage failure status.
func (s Status) IsFailure() bool {
	_, ok := failureResume[s]
	return ok
}

// Rank returns the position of s in the main progression, or -1 for
// failure and unknown statuses.
func (s Status) Rank() int {
	for i, p := range progression {
		if p == s {
			return i
		}
	}
	return -1
}

// Position returns the effective progression rank: failure statuses rank at
// the status they resume from.
func (s Status) Position() int {
	if r, ok := failureResume[s]; ok {
		return r.Rank()
	}
	return s.Rank()
}

// ResumeStatus returns the main status a failure status resumes from. Main
// statuses return themselves.
func (s Status) ResumeStatus() Status {
	if r, ok := failureResume[s]; ok {
		return r
	}
	return s
}

// Before returns the main statuses strictly earlier than s, latest first.
func (s Status) Before() []Status {
	pos := s.Position()
	if pos <= 0 {
		return nil
	}
	out := make([]Status, 0, pos)
	for i := pos - 1; i >= 0; i-- {
		out = append(out, progression[i])
	}
	return out
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to Status) bool {
	for _, src := range transitions[to] {
		if src == from {
			return true
		}
	}
	return false
}

// CanRegress reports whether from → to is a regression the repair scanner
// may apply: to must be a main status strictly behind from's position.
func CanRegress(from, to Status) bool {
	if !from.Valid() || to.Rank() < 0 {
		return false
	}
	if from.IsFailure() {
		return to.Rank() <= from.Position()
	}
	return to.Rank() < from.Rank()
}

// Sources returns the statuses from which to may be reached.
func Sources(to Status) []Status {
	src := transitions[to]
	out := make([]Status, len(src))
	copy(out, src)
	return out
}
