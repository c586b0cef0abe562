package download

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownLength means the probe response carried no usable Content-Length.
	ErrUnknownLength = errors.New("could not get download length")

	// ErrRangeNotSupported means a range request was answered with something other than 206.
	ErrRangeNotSupported = errors.New("server doesn't support partial content")

	// ErrContentRangeMismatch means the server sent a range starting somewhere we didn't ask for.
	ErrContentRangeMismatch = errors.New("content range does not match request")

	// ErrRetriesExhausted means a chunk stopped making progress for more attempts than allowed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrChunkIncomplete means a partial file did not hold its full range at assembly time.
	ErrChunkIncomplete = errors.New("chunk incomplete")

	// errBodyRead marks failures while streaming a response body; those are retried.
	errBodyRead = errors.New("error reading response body")
)

type HTTPStatusError struct {
	StatusCode int
}

func ErrUnexpectedHTTPStatus(statusCode int) error {
	return HTTPStatusError{StatusCode: statusCode}
}

var _ error = HTTPStatusError{}

func (c HTTPStatusError) Error() string {
	return fmt.Sprintf("status code %d %s", c.StatusCode, http.StatusText(c.StatusCode))
}

// writeError is a failure writing to a partial file. It is never retried.
type writeError struct {
	err error
}

func (w *writeError) Error() string {
	return fmt.Sprintf("error writing partial file: %v", w.err)
}

func (w *writeError) Unwrap() error {
	return w.err
}
