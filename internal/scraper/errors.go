package scraper

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies one failed scrape attempt. The queue decides retry
// behavior from the failure being transient; the executor never retries.
type Kind string

const (
	KindNoStrategy        Kind = "NO_STRATEGY"
	KindNavigationTimeout Kind = "NAVIGATION_TIMEOUT"
	KindBlockDetected     Kind = "BLOCK_DETECTED"
	KindExtractionFailed  Kind = "EXTRACTION_FAILED"
	KindUpstreamAPIFailed Kind = "UPSTREAM_API_FAILED"
	KindInternal          Kind = "INTERNAL"
)

type ScrapeError struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *ScrapeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.msg, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *ScrapeError) Unwrap() error { return e.cause }

// NewError builds a classified scrape failure.
func NewError(kind Kind, msg string) *ScrapeError {
	return &ScrapeError{Kind: kind, msg: msg}
}

func wrapError(kind Kind, err error, msg string) *ScrapeError {
	return &ScrapeError{Kind: kind, msg: msg, cause: err}
}

// KindOf extracts the classification from any error chain; unknown errors
// report KindInternal.
func KindOf(err error) Kind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// Retryable reports whether a failure of this kind is worth another queue
// attempt. Missing strategies are configuration errors and fail fast.
func (k Kind) Retryable() bool {
	return k != KindNoStrategy
}
