package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DocumentType is the legal category of a document.
type DocumentType string

const (
	DocumentTypeLoi        DocumentType = "loi"
	DocumentTypeDecret     DocumentType = "decret"
	DocumentTypeArrete     DocumentType = "arrete"
	DocumentTypeOrdonnance DocumentType = "ordonnance"
)

// AllDocumentTypes returns all defined document types.
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeLoi,
		DocumentTypeDecret,
		DocumentTypeArrete,
		DocumentTypeOrdonnance,
	}
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	for _, known := range AllDocumentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Identity is the immutable key of a document.
type Identity struct {
	Type   DocumentType `json:"type"`
	Year   int          `json:"year"`
	Number int          `json:"number"`
}

const (
	minYear = 1800
	maxYear = 2999
)

// FormatIdentity renders {type}-{year}-{number}.
func FormatIdentity(t DocumentType, year, number int) string {
	return fmt.Sprintf("%s-%d-%d", t, year, number)
}

// String renders the identity in its canonical form.
func (id Identity) String() string {
	return FormatIdentity(id.Type, id.Year, id.Number)
}

// Validate checks the identity fields.
func (id Identity) Validate() error {
	if !id.Type.Valid() {
		return eris.Errorf("model: unknown document type %q", id.Type)
	}
	if id.Year < minYear || id.Year > maxYear {
		return eris.Errorf("model: year %d out of range", id.Year)
	}
	if id.Number <= 0 {
		return eris.Errorf("model: number must be positive, got %d", id.Number)
	}
	return nil
}

// ParseIdentity parses {type}-{year}-{number}. Only canonical renderings are
// accepted so that the result always formats back to the input.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Identity{}, eris.Errorf("model: malformed document id %q", s)
	}

	year, err := parseCanonicalInt(parts[1])
	if err != nil {
		return Identity{}, eris.Wrapf(err, "model: year in %q", s)
	}
	number, err := parseCanonicalInt(parts[2])
	if err != nil {
		return Identity{}, eris.Wrapf(err, "model: number in %q", s)
	}

	id := Identity{Type: DocumentType(parts[0]), Year: year, Number: number}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func parseCanonicalInt(s string) (int, error) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, eris.Errorf("non-canonical integer %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, eris.Errorf("non-numeric %q", s)
		}
	}
	return strconv.Atoi(s)
}

// Flag records an auxiliary completion that does not gate the main pipeline.
type Flag uint32

const (
	// FlagImagesRendered is set once every page has been rasterized.
	FlagImagesRendered Flag = 1 << iota
	// FlagAIEnriched is set once the AI enrichment pass has run.
	FlagAIEnriched
)

// Flags is a set of Flag values.
type Flags uint32

// Has reports whether f is set.
func (fs Flags) Has(f Flag) bool { return uint32(fs)&uint32(f) != 0 }

// With returns fs with f set.
func (fs Flags) With(f Flag) Flags { return Flags(uint32(fs) | uint32(f)) }

// Without returns fs with f cleared.
func (fs Flags) Without(f Flag) Flags { return Flags(uint32(fs) &^ uint32(f)) }

// Names lists the set flags for display.
func (fs Flags) Names() []string {
	var out []string
	if fs.Has(FlagImagesRendered) {
		out = append(out, "images_rendered")
	}
	if fs.Has(FlagAIEnriched) {
		out = append(out, "ai_enriched")
	}
	return out
}

// Document is the persistent unit of work.
type Document struct {
	ID        string       `json:"id"`
	Type      DocumentType `json:"type"`
	Year      int          `json:"year"`
	Number    int          `json:"number"`
	SourceURL string       `json:"source_url"`

	Status Status `json:"status"`
	Flags  Flags  `json:"flags"`

	PDFPath           string `json:"pdf_path,omitempty"`
	TextPath          string `json:"text_path,omitempty"`
	CorrectedTextPath string `json:"corrected_text_path,omitempty"`
	JSONPath          string `json:"json_path,omitempty"`
	ContentHash       string `json:"content_hash,omitempty"`
	PageCount         int    `json:"page_count,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`

	// Version increments on every persisted write and guards against two
	// workers applying outcomes computed from the same snapshot.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument builds a DISCOVERED document for the given identity.
func NewDocument(id Identity, sourceURL string) (Document, error) {
	if err := id.Validate(); err != nil {
		return Document{}, err
	}
	now := time.Now().UTC()
	return Document{
		ID:        id.String(),
		Type:      id.Type,
		Year:      id.Year,
		Number:    id.Number,
		SourceURL: sourceURL,
		Status:    StatusDiscovered,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Identity returns the document's identity triple.
func (d Document) Identity() Identity {
	return Identity{Type: d.Type, Year: d.Year, Number: d.Number}
}

// Transition moves the document to the target status if the state machine
// allows it. It reports whether the status changed; a rejected request
// leaves the document untouched.
func (d *Document) Transition(to Status) bool {
	if !CanTransition(d.Status, to) {
		return false
	}
	d.Status = to
	if !to.IsFailure() {
		d.ErrorCode = ""
		d.ErrorMessage = ""
	}
	return true
}

// Regress moves the document back to an earlier main status. Only the
// repair scanner calls this.
func (d *Document) Regress(to Status) bool {
	if !CanRegress(d.Status, to) {
		return false
	}
	d.Status = to
	d.ErrorCode = ""
	d.ErrorMessage = ""
	return true
}

// SetConfidence stores c clamped to [0, 1].
func (d *Document) SetConfidence(c float64) {
	d.Confidence = ClampConfidence(c)
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
