package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	// KindTransient covers collaborator timeouts and unreachable services.
	KindTransient ErrorKind = "transient"
	// KindData covers bad inputs: corrupted PDFs, empty artifacts, malformed JSON.
	KindData ErrorKind = "data"
	// KindConfig covers missing or invalid configuration; fatal at stage start.
	KindConfig ErrorKind = "config"
	// KindInvariant covers illegal state requests; callers treat them as no-ops.
	KindInvariant ErrorKind = "invariant"
)

// Stable error codes persisted on failed documents.
const (
	CodeFetchUnreachable = "FETCH_UNREACHABLE"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeEmptyArtifact    = "EMPTY_ARTIFACT"
	CodeCorruptPDF       = "CORRUPT_PDF"
	CodeHashMismatch     = "HASH_MISMATCH"
	CodeOCRCorruptInput  = "OCR_CORRUPT_INPUT"
	CodeOCREngineInit    = "OCR_ENGINE_INIT"
	CodeOCREmptyText     = "OCR_EMPTY_TEXT"
	CodeOCRTimeout       = "OCR_TIMEOUT"
	CodeArtifactMissing  = "ARTIFACT_MISSING"
	CodeAIUnavailable    = "AI_UNAVAILABLE"
	CodeAIFailed         = "AI_FAILED"
	CodeExtractionFailed = "EXTRACTION_FAILED"
	CodeNoArticles       = "NO_ARTICLES"
	CodeMalformedJSON    = "MALFORMED_JSON"
	CodeLowConfidence    = "LOW_CONFIDENCE"
	CodeInternal         = "INTERNAL"
)

// StageError is a classified failure tied to a document and stage.
type StageError struct {
	Kind       ErrorKind
	Code       string
	DocumentID string
	Stage      string
	Err        error
}

func (e *StageError) Error() string {
	prefix := e.Code
	if e.Stage != "" {
		prefix = e.Stage + ": " + prefix
	}
	if e.DocumentID != "" {
		prefix += " [" + e.DocumentID + "]"
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError without document context; the stage
// engine fills DocumentID and Stage when it records the outcome.
func NewStageError(kind ErrorKind, code string, err error) *StageError {
	return &StageError{Kind: kind, Code: code, Err: err}
}

// DataError is shorthand for a KindData StageError.
func DataError(code string, err error) *StageError {
	return NewStageError(KindData, code, err)
}

// TransientError is shorthand for a KindTransient StageError.
func TransientError(code string, err error) *StageError {
	return NewStageError(KindTransient, code, err)
}

// ConfigError is shorthand for a KindConfig StageError.
func ConfigError(code string, err error) *StageError {
	return NewStageError(KindConfig, code, err)
}

// AsStageError returns the first StageError in err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the error kind of err, defaulting to KindTransient for
// unclassified errors.
func KindOf(err error) ErrorKind {
	if se, ok := AsStageError(err); ok {
		return se.Kind
	}
	return KindTransient
}

// CodeOf returns the stable code of err, defaulting to CodeInternal.
func CodeOf(err error) string {
	if se, ok := AsStageError(err); ok && se.Code != "" {
		return se.Code
	}
	return CodeInternal
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	se, ok := AsStageError(err)
	return ok && se.Kind == KindConfig
}
