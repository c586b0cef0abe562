package download

import (
	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/client"
)

const (
	defaultMaxChunks    = 10
	defaultMinChunkSize = 10 * humanize.MiByte
)

type Options struct {
	// Maximum number of chunks, and so of concurrent connections. If set to zero, 10 is used.
	MaxChunks int

	// Minimum number of bytes per chunk. If set to zero, 10 MiB will be used.
	MinChunkSize int64

	// StateDir holds the state file and the partial chunk files. Empty means the working directory.
	StateDir string

	// Fresh discards any saved state and partial files for the URL before planning.
	Fresh bool

	Client client.Options
}

func (o Options) maxChunks() int {
	if o.MaxChunks <= 0 {
		return defaultMaxChunks
	}
	return o.MaxChunks
}

func (o Options) minChunkSize() int64 {
	if o.MinChunkSize <= 0 {
		return defaultMinChunkSize
	}
	return o.MinChunkSize
}

func (o Options) stateDir() string {
	if o.StateDir == "" {
		return "."
	}
	return o.StateDir
}
