package model

import (
	"strings"
	"time"
)

// CorrectionOrigin records where a correction entry came from.
type CorrectionOrigin string

const (
	// CorrectionReviewed entries were curated by a person and always apply.
	CorrectionReviewed CorrectionOrigin = "reviewed"
	// CorrectionAutomatic entries were learned and apply once promoted.
	CorrectionAutomatic CorrectionOrigin = "automatic"
)

// CorrectionEntry maps a garbled OCR token to its verified replacement.
type CorrectionEntry struct {
	Token       string           `json:"token" yaml:"token"`     // normalized lookup key
	Display     string           `json:"display" yaml:"display"` // token as first seen
	Replacement string           `json:"replacement" yaml:"replacement"`
	Occurrences int              `json:"occurrences" yaml:"occurrences"`
	Origin      CorrectionOrigin `json:"origin" yaml:"origin"`
	Active      bool             `json:"active" yaml:"active"`
	UpdatedAt   time.Time        `json:"updated_at" yaml:"-"`
}

// NormalizeCorrection trims the token, derives the lowercase key, and clamps
// the occurrence count.
func NormalizeCorrection(e CorrectionEntry) CorrectionEntry {
	display := strings.TrimSpace(e.Display)
	token := strings.TrimSpace(e.Token)
	if display == "" {
		display = token
	}
	if token == "" {
		token = display
	}
	e.Display = display
	e.Token = strings.ToLower(token)
	e.Replacement = strings.TrimSpace(e.Replacement)
	if e.Occurrences < 0 {
		e.Occurrences = 0
	}
	if e.Origin == "" {
		e.Origin = CorrectionReviewed
	}
	if e.Origin == CorrectionReviewed {
		e.Active = true
	}
	return e
}

// Applies reports whether the entry participates in correction.
func (e CorrectionEntry) Applies() bool {
	return e.Origin == CorrectionReviewed || e.Active
}

// AppliedCorrection is an audit record of one substitution.
type AppliedCorrection struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Key         string `json:"key"`
	Offset      int    `json:"offset"`
}
