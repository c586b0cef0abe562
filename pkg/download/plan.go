package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/state"
)

// Chunk is one contiguous byte range [Start, End) of the resource, stored in its own partial file.
type Chunk struct {
	Index int
	Start int64
	End   int64
	Path  string

	bytesSoFar atomic.Int64
}

func (c *Chunk) Size() int64 {
	return c.End - c.Start
}

// BytesSoFar is how much of the chunk is on disk. It is only an observation; after a restart the
// partial file size is what counts.
func (c *Chunk) BytesSoFar() int64 {
	return c.bytesSoFar.Load()
}

// PartialPath returns the partial file path for the chunk [start, end) of the download whose state
// lives at statePath.
func PartialPath(statePath string, start, end int64) string {
	return fmt.Sprintf("%s.%d-%d", statePath, start, end)
}

// Plan is a download split into chunks, either freshly computed or reloaded from disk.
type Plan struct {
	URL       string
	Length    int64
	StatePath string
	Chunks    []*Chunk

	completed atomic.Int32
}

func newPlan(url string, length int64, statePath string, bounds []state.Boundary) *Plan {
	p := &Plan{URL: url, Length: length, StatePath: statePath}
	for i, b := range bounds {
		p.Chunks = append(p.Chunks, &Chunk{
			Index: i,
			Start: b.Start,
			End:   b.End,
			Path:  PartialPath(statePath, b.Start, b.End),
		})
	}
	return p
}

// BytesSoFar sums the chunks' counters. Readers may observe slightly stale values.
func (p *Plan) BytesSoFar() int64 {
	var total int64
	for _, c := range p.Chunks {
		total += c.BytesSoFar()
	}
	return total
}

// Total is the resource length in bytes.
func (p *Plan) Total() int64 {
	return p.Length
}

// Completed is the number of chunks that have signalled completion.
func (p *Plan) Completed() int {
	return int(p.completed.Load())
}

// Done reports whether every chunk has completed.
func (p *Plan) Done() bool {
	return p.Completed() >= len(p.Chunks)
}

func (p *Plan) markCompleted() {
	p.completed.Add(1)
}

func (p *Plan) record() state.Record {
	r := state.Record{URL: p.URL, Length: p.Length}
	for _, c := range p.Chunks {
		r.Chunks = append(r.Chunks, state.Boundary{Start: c.Start, End: c.End})
	}
	return r
}

// seedFromDisk sets every chunk's counter to what its partial file already holds, so observers
// see resumed bytes before any worker starts. Oversized files count as empty; the worker restarts
// those chunks.
func (p *Plan) seedFromDisk() {
	for _, c := range p.Chunks {
		var size int64
		if info, err := os.Stat(c.Path); err == nil && info.Size() <= c.Size() {
			size = info.Size()
		}
		c.bytesSoFar.Store(size)
	}
}

func (p *Plan) removePartials() error {
	var errs []error
	for _, c := range p.Chunks {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ComputeBoundaries splits [0, length) into at most maxChunks contiguous ranges of
// max(minChunkSize, ceil(length/maxChunks)) bytes, the last one possibly shorter.
func ComputeBoundaries(length, minChunkSize int64, maxChunks int) []state.Boundary {
	if length <= 0 {
		return nil
	}
	if minChunkSize <= 0 {
		minChunkSize = 1
	}
	if maxChunks <= 0 {
		maxChunks = 1
	}
	chunkSize := max(minChunkSize, ceilDiv(length, int64(maxChunks)))
	numChunks := ceilDiv(length, chunkSize)

	bounds := make([]state.Boundary, 0, numChunks)
	for i := int64(0); i < numChunks; i++ {
		start := i * chunkSize
		bounds = append(bounds, state.Boundary{Start: start, End: min(start+chunkSize, length)})
	}
	return bounds
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Planner produces the chunk plan for a URL.
type Planner struct {
	Client  client.HTTPClient
	Options Options
}

// Resume reloads the saved plan for url, falling back to Start when there is none or it can't be
// used.
func (p *Planner) Resume(ctx context.Context, url string) (*Plan, error) {
	logger := logging.GetLogger()
	statePath := state.PathFor(p.Options.stateDir(), url)

	record, err := state.Load(statePath)
	if err == nil && record.URL != url {
		err = fmt.Errorf("%w: %s belongs to %s", state.ErrUnreadable, statePath, record.URL)
	}
	if err != nil {
		logger.Debug().Err(err).Str("state", statePath).Msg("No resumable state")
		return p.Start(ctx, url)
	}

	plan := newPlan(url, record.Length, statePath, record.Chunks)
	if p.Options.Fresh {
		logger.Info().Str("state", statePath).Msg("Discarding saved state")
		if err := plan.removePartials(); err != nil {
			return nil, fmt.Errorf("error removing partial files: %w", err)
		}
		return p.Start(ctx, url)
	}

	plan.seedFromDisk()
	logger.Info().
		Str("url", url).
		Str("state", statePath).
		Int64("bytes_on_disk", plan.BytesSoFar()).
		Msg("Resuming download")
	return plan, nil
}

// Start probes the resource length, computes fresh boundaries and saves them.
func (p *Planner) Start(ctx context.Context, url string) (*Plan, error) {
	logger := logging.GetLogger()
	logger.Info().Str("url", url).Msg("Starting download")

	length, err := p.probeLength(ctx, url)
	if err != nil {
		return nil, err
	}

	statePath := state.PathFor(p.Options.stateDir(), url)
	bounds := ComputeBoundaries(length, p.Options.minChunkSize(), p.Options.maxChunks())
	plan := newPlan(url, length, statePath, bounds)
	if p.Options.Fresh {
		if err := plan.removePartials(); err != nil {
			return nil, fmt.Errorf("error removing partial files: %w", err)
		}
	}
	plan.seedFromDisk()

	if err := state.Save(statePath, plan.record()); err != nil {
		return nil, err
	}
	logger.Debug().
		Str("state", statePath).
		Str("size", humanize.IBytes(uint64(length))).
		Int("chunks", len(plan.Chunks)).
		Msg("Saved plan")
	return plan, nil
}

// probeLength issues an unranged GET and reads the length from the response headers. The body is
// not consumed.
func (p *Planner) probeLength(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return -1, fmt.Errorf("error executing request for %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.Request != nil {
		if trueURL := resp.Request.URL.String(); trueURL != url {
			logger := logging.GetLogger()
			logger.Info().Str("url", url).Str("redirect_url", trueURL).Msg("Redirect")
		}
	}
	if resp.StatusCode != http.StatusOK {
		return -1, fmt.Errorf("%w: %w", ErrUnknownLength, ErrUnexpectedHTTPStatus(resp.StatusCode))
	}
	if resp.ContentLength <= 0 {
		return -1, ErrUnknownLength
	}
	return resp.ContentLength, nil
}
