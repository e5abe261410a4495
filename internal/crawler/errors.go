package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline's failure classes.
var (
	ErrFetchExhausted = errors.New("fetch retries exhausted")
	ErrBlocked        = errors.New("anti-scraping block")
	ErrExtraction     = errors.New("extraction failed")
	ErrNodeMissing    = errors.New("required node missing")
	ErrIOFailure      = errors.New("output stream write failed")
	ErrQueueClosed    = errors.New("queue closed")
)

// FetchExhaustedError is returned once every attempt of a fetch failed.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes the last attempt error.
func (e *FetchExhaustedError) Unwrap() error { return e.Err }

// Is matches ErrFetchExhausted.
func (e *FetchExhaustedError) Is(target error) bool { return target == ErrFetchExhausted }

// ExtractionError reports a field that could not be extracted from a document.
type ExtractionError struct {
	URL   string
	Field string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("extract %s: field %s: %v", e.URL, e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is matches ErrExtraction.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// IOFailureError reports a failed write to an output stream.
type IOFailureError struct {
	Path string
	Err  error
}

func (e *IOFailureError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *IOFailureError) Unwrap() error { return e.Err }

// Is matches ErrIOFailure.
func (e *IOFailureError) Is(target error) bool { return target == ErrIOFailure }
