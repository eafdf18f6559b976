package news

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks caller mistakes: bad limits, offsets or names.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTopic is returned for names that normalize to nothing or are too long.
	ErrInvalidTopic = fmt.Errorf("%w: invalid topic", ErrInvalidInput)
	// ErrStorage marks failures of the backing store.
	ErrStorage = errors.New("storage failure")
)

// FetchError carries what a Fetcher learned about a failed retrieval.
// StatusCode is zero when no HTTP response was received.
type FetchError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("fetch failed with status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch failed with status %d", e.StatusCode)
	case e.Message != "":
		return "fetch failed: " + e.Message
	case e.Err != nil:
		return "fetch failed: " + e.Err.Error()
	default:
		return "fetch failed"
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError wraps err so callers can match it with errors.Is(err, ErrStorage).
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
