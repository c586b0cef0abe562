package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
)

const readBufferSize = 32 * 1024

var contentRangeRegexp = regexp.MustCompile(`^bytes ([0-9]+)-([0-9]+)/([0-9]+|\*)$`)

// Worker fetches chunks with range requests, appending to each chunk's partial file. A worker holds
// no per-chunk state, so one value can serve every chunk of a plan concurrently.
type Worker struct {
	Client client.HTTPClient
	URL    string

	// MaxRetries bounds consecutive attempts that add no bytes to the chunk.
	MaxRetries int
	// ReadTimeout aborts an attempt when the body goes quiet for this long.
	ReadTimeout time.Duration
	// Backoff returns the wait before the given no-progress attempt. Defaults to client.Backoff.
	Backoff func(attempt int) time.Duration
}

// Run downloads whatever part of c is not yet on disk. It returns nil once the partial file holds
// exactly c.Size() bytes.
func (w *Worker) Run(ctx context.Context, c *Chunk) error {
	logger := logging.GetLogger()

	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("error opening partial file for chunk %d: %w", c.Index, err)
	}
	if err := w.fill(ctx, c, f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Int("chunk", c.Index).Msg("Error closing partial file")
		}
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing partial file for chunk %d: %w", c.Index, err)
	}
	logger.Debug().Int("chunk", c.Index).Int64("start", c.Start).Int64("end", c.End).Msg("Chunk finished")
	return nil
}

// fill appends to f until it holds the whole chunk.
func (w *Worker) fill(ctx context.Context, c *Chunk, f *os.File) error {
	logger := logging.GetLogger()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("error reading partial file for chunk %d: %w", c.Index, err)
	}
	size := info.Size()
	if size > c.Size() {
		logger.Warn().
			Int("chunk", c.Index).
			Int64("size", size).
			Int64("expected", c.Size()).
			Msg("Partial file larger than chunk, starting chunk over")
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("error truncating partial file for chunk %d: %w", c.Index, err)
		}
		size = 0
	}
	c.bytesSoFar.Store(size)

	stalled := 0
	for c.Start+c.BytesSoFar() < c.End {
		before := c.BytesSoFar()
		err := w.attempt(ctx, c, f)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil && !errors.Is(err, errBodyRead) {
			return err
		}
		if c.BytesSoFar() > before {
			stalled = 0
			continue
		}

		stalled++
		if stalled > w.MaxRetries {
			if err == nil {
				err = errors.New("empty response body")
			}
			return fmt.Errorf("%w: chunk %d stuck at byte %d after %d attempts: %w",
				ErrRetriesExhausted, c.Index, c.Start+c.BytesSoFar(), stalled, err)
		}
		wait := w.backoff(stalled)
		logger.Debug().Err(err).Int("chunk", c.Index).Dur("backoff", wait).Msg("Retrying range request")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func (w *Worker) backoff(attempt int) time.Duration {
	if w.Backoff != nil {
		return w.Backoff(attempt)
	}
	return client.Backoff(attempt)
}

// attempt issues one range request for the rest of the chunk and streams the body to f. A body
// that ends early is not an error; the caller simply asks again for what is still missing.
func (w *Worker) attempt(ctx context.Context, c *Chunk, f io.Writer) error {
	offset := c.Start + c.BytesSoFar()
	last := c.End - 1

	logger := logging.GetLogger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", w.URL, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, last))
	logger.Debug().Int("chunk", c.Index).Int64("from", offset).Int64("to", last).Msg("Requesting bytes")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing request for %s: %w", w.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: chunk %d: %w", ErrRangeNotSupported, c.Index, ErrUnexpectedHTTPStatus(resp.StatusCode))
	}
	if err := checkContentRange(resp.Header.Get("Content-Range"), offset); err != nil {
		return fmt.Errorf("chunk %d: %w", c.Index, err)
	}

	idle := w.ReadTimeout
	if idle <= 0 {
		idle = client.Options{}.EffectiveReadTimeout()
	}
	watchdog := time.AfterFunc(idle, cancel)
	defer watchdog.Stop()

	body := newDurableReader(io.LimitReader(resp.Body, last-offset+1), f, &c.bytesSoFar)
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			watchdog.Reset(idle)
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			logger.Debug().Int("chunk", c.Index).Int64("bytes_so_far", c.BytesSoFar()).Msg("Incomplete read")
			return nil
		}
		var werr *writeError
		if errors.As(err, &werr) {
			return fmt.Errorf("chunk %d: %w", c.Index, err)
		}
		return fmt.Errorf("%w: chunk %d: %w", errBodyRead, c.Index, err)
	}
}

// checkContentRange verifies that a Content-Range header, when present, starts at offset.
func checkContentRange(contentRange string, offset int64) error {
	if contentRange == "" {
		return nil
	}
	matches := contentRangeRegexp.FindStringSubmatch(contentRange)
	if matches == nil {
		return fmt.Errorf("%w: malformed header %q", ErrContentRangeMismatch, contentRange)
	}
	start, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || start != offset {
		return fmt.Errorf("%w: requested byte %d, got %q", ErrContentRangeMismatch, offset, contentRange)
	}
	return nil
}
