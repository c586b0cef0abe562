package rget

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/progress"
	"github.com/replicate/rget/pkg/state"
)

type Getter struct {
	Options download.Options

	// Client defaults to client.NewHTTPClient(Options.Client).
	Client client.HTTPClient
	// Consumer defaults to a file writer, or stdout when Dest is "-".
	Consumer consumer.Consumer

	// Dest overrides the destination derived from the URL.
	Dest  string
	Force bool

	ProgressInterval time.Duration
	// ProgressOutput defaults to stdout, or stderr when the download itself goes to stdout.
	ProgressOutput io.Writer
}

// Destination returns where a download of url will be written.
func (g *Getter) Destination(url string) string {
	if g.Dest != "" {
		return g.Dest
	}
	return download.OutputPath(url, g.statePath(url))
}

func (g *Getter) statePath(url string) string {
	dir := g.Options.StateDir
	if dir == "" {
		dir = "."
	}
	return state.PathFor(dir, url)
}

// DownloadFile plans (or resumes) the download of url, fetches every chunk concurrently while
// drawing progress, and assembles the result. It returns the destination and the resource size.
func (g *Getter) DownloadFile(ctx context.Context, url string) (string, int64, time.Duration, error) {
	logger := logging.GetLogger()
	downloadStartTime := time.Now()

	if g.Options.StateDir != "" {
		if err := os.MkdirAll(g.Options.StateDir, 0755); err != nil {
			return "", 0, 0, fmt.Errorf("error creating state directory: %w", err)
		}
	}
	lock, err := cli.NewPIDFile(g.statePath(url) + ".lock")
	if err != nil {
		return "", 0, 0, fmt.Errorf("error creating lock file: %w", err)
	}
	if err := lock.TryAcquire(); err != nil {
		return "", 0, 0, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Msg("Error releasing lock")
		}
	}()

	httpClient := g.Client
	if httpClient == nil {
		httpClient = client.NewHTTPClient(g.Options.Client)
	}

	planner := download.Planner{Client: httpClient, Options: g.Options}
	plan, err := planner.Resume(ctx, url)
	if err != nil {
		return "", 0, 0, err
	}
	dest := g.Destination(url)

	chunkWord := "chunks"
	if len(plan.Chunks) == 1 {
		chunkWord = "chunk"
	}
	logger.Info().
		Str("url", url).
		Str("dest", dest).
		Int64("bytes", plan.Length).
		Str("size", humanize.IBytes(uint64(plan.Length))).
		Msg(fmt.Sprintf("Downloading in %d %s", len(plan.Chunks), chunkWord))
	for _, chunk := range plan.Chunks {
		logger.Debug().Int("chunk", chunk.Index).Int64("start", chunk.Start).Int64("end", chunk.End).Msg("Chunk")
	}

	worker := &download.Worker{
		Client:      httpClient,
		URL:         url,
		MaxRetries:  g.Options.Client.MaxRetries,
		ReadTimeout: g.Options.Client.EffectiveReadTimeout(),
	}
	monitor := &progress.Monitor{Interval: g.ProgressInterval, Output: g.progressOutput(dest)}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(monitorCtx, plan)
	}()

	fetchStartTime := time.Now()
	err = download.FetchAll(ctx, plan, worker)
	stopMonitor()
	<-monitorDone
	if err != nil {
		return dest, plan.Length, 0, err
	}
	fetchElapsed := time.Since(fetchStartTime)

	logger.Info().Msg("Download done, assembling file")
	c := g.Consumer
	if c == nil {
		c = consumer.ForDestination(dest)
	}
	if g.Force {
		c.EnableOverwrite()
	}
	assembler := download.Assembler{Consumer: c}
	if err := assembler.Assemble(plan, dest); err != nil {
		return dest, plan.Length, 0, err
	}

	totalElapsed := time.Since(downloadStartTime)
	throughput := humanize.Bytes(uint64(float64(plan.Length) / fetchElapsed.Seconds()))
	logger.Info().
		Str("dest", dest).
		Str("size", humanize.Bytes(uint64(plan.Length))).
		Str("download_throughput", fmt.Sprintf("%s/s", throughput)).
		Str("download_elapsed", fmt.Sprintf("%.3fs", fetchElapsed.Seconds())).
		Str("total_elapsed", fmt.Sprintf("%.3fs", totalElapsed.Seconds())).
		Msg("Complete")
	return dest, plan.Length, totalElapsed, nil
}

func (g *Getter) progressOutput(dest string) io.Writer {
	if g.ProgressOutput != nil {
		return g.ProgressOutput
	}
	if dest == consumer.StdoutPath {
		return os.Stderr
	}
	return os.Stdout
}
