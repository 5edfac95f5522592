package crawler

import (
	"errors"
	"fmt"
)

// Crawler errors.
var (
	ErrIngestion            = errors.New("ingestion failed")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrNoText               = errors.New("no article text found")
	ErrInvalidURL           = errors.New("invalid URL")
)

// IngestionError reports a source that could not be fetched or yielded no text.
type IngestionError struct {
	Source     string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *IngestionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ingest %s: HTTP %d after %d attempts: %v", e.Source, e.StatusCode, e.Attempts, e.Err)
	}

	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Is matches ErrIngestion.
func (e *IngestionError) Is(target error) bool {
	return target == ErrIngestion
}
