package download

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/state"
)

// OutputPath derives the destination from the last segment of the URL path. When the URL has no
// such segment it falls back to the state file name without its suffix.
func OutputPath(rawURL, statePath string) string {
	if u, err := url.Parse(rawURL); err == nil {
		segment := u.Path[strings.LastIndex(u.Path, "/")+1:]
		if segment != "" && segment != "." && segment != ".." {
			return segment
		}
	}
	return strings.TrimSuffix(filepath.Base(statePath), state.Suffix)
}

// Assembler concatenates completed chunks, in index order, into the destination and then removes
// the partial files and the saved state.
type Assembler struct {
	Consumer consumer.Consumer
}

func (a *Assembler) Assemble(plan *Plan, dest string) error {
	logger := logging.GetLogger()
	c := a.Consumer
	if c == nil {
		c = consumer.ForDestination(dest)
	}

	files := make([]*os.File, 0, len(plan.Chunks))
	closed := false
	closeAll := func() error {
		closed = true
		var errs []error
		for _, f := range files {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	defer func() {
		if !closed {
			if err := closeAll(); err != nil {
				logger.Warn().Err(err).Msg("Error closing partial files")
			}
		}
	}()
	readers := make([]io.Reader, 0, len(plan.Chunks))
	for _, chunk := range plan.Chunks {
		f, err := os.Open(chunk.Path)
		if err != nil {
			return fmt.Errorf("error opening chunk %d: %w", chunk.Index, err)
		}
		files = append(files, f)
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("error opening chunk %d: %w", chunk.Index, err)
		}
		if info.Size() != chunk.Size() {
			return fmt.Errorf("%w: chunk %d has %d of %d bytes", ErrChunkIncomplete, chunk.Index, info.Size(), chunk.Size())
		}
		readers = append(readers, f)
	}

	if err := c.Consume(io.MultiReader(readers...), dest, plan.Length); err != nil {
		return err
	}
	logger.Debug().Str("dest", dest).Int("chunks", len(plan.Chunks)).Msg("Assembled")

	if err := closeAll(); err != nil {
		return fmt.Errorf("error closing partial files: %w", err)
	}
	if err := plan.removePartials(); err != nil {
		return fmt.Errorf("error removing partial files: %w", err)
	}
	if err := state.Remove(plan.StatePath); err != nil {
		return fmt.Errorf("error removing state file: %w", err)
	}
	return nil
}
