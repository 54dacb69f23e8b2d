package domain

import (
	"errors"
	"fmt"
)

// Domain errors. Wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrUnsupportedFormat indicates a file extension the loader cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrParse indicates text extraction failed for a supported format.
	ErrParse = errors.New("parse error")

	// ErrMissingCredential indicates a remote provider has no API key configured.
	ErrMissingCredential = errors.New("missing credential")

	// ErrProvider indicates a remote embedding or model call failed with no viable fallback.
	ErrProvider = errors.New("provider error")

	// ErrDimensionMismatch indicates a query vector disagrees with the stored corpus dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNotFound indicates no corpus has been ingested yet.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateDocument indicates the document hash or source is already indexed.
	ErrDuplicateDocument = errors.New("duplicate document")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")
)

// ProviderError describes a failed call to a remote provider.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes every ProviderError match ErrProvider.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }
