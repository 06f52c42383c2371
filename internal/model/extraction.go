package model

import "time"

// Extraction method labels.
const (
	MethodPattern            = "pattern"
	MethodPatternCorrections = "pattern+corrections"
	MethodAICorrectedOCR     = "ai-corrected-ocr"
	MethodAIFull             = "ai-full"
)

// Article is one numbered article of a law.
type Article struct {
	Index  int    `json:"index"`
	Number string `json:"number,omitempty"` // marker as printed, e.g. "1er", "12"
	Text   string `json:"text"`
}

// Metadata is the document-level information printed around the articles.
type Metadata struct {
	Title         string   `json:"title,omitempty"`
	PromulgatedOn string   `json:"promulgated_on,omitempty"`
	City          string   `json:"city,omitempty"`
	Signatories   []string `json:"signatories,omitempty"`
}

// FieldsPopulated counts the non-empty metadata fields out of four.
func (m Metadata) FieldsPopulated() int {
	n := 0
	if m.Title != "" {
		n++
	}
	if m.PromulgatedOn != "" {
		n++
	}
	if m.City != "" {
		n++
	}
	if len(m.Signatories) > 0 {
		n++
	}
	return n
}

// ExtractionResult is one method's structural reading of a document.
type ExtractionResult struct {
	DocumentID  string    `json:"document_id"`
	Method      string    `json:"method"`
	Confidence  float64   `json:"confidence"`
	Articles    []Article `json:"articles"`
	Metadata    Metadata  `json:"metadata"`
	Anomalies   []string  `json:"anomalies,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ArticleHit is a search match against indexed articles.
type ArticleHit struct {
	DocumentID string  `json:"document_id"`
	Article    Article `json:"article"`
}
