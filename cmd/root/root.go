package root

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rget "github.com/replicate/rget/pkg"
	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/config"
	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/download"
	"github.com/replicate/rget/pkg/optname"
)

const rootLongDesc = `
rget

rget is a resumable, parallel HTTP downloader. It asks the server how large the file is, splits it into
contiguous byte ranges and fetches them concurrently with HTTP Range requests, each range streamed straight to
its own partial file on disk.

The chunk plan is saved next to the partial files, in a state file named after a hash of the URL. If rget is
interrupted, running it again with the same URL picks up every chunk exactly where its partial file ends. Once
every chunk is complete the partial files are concatenated, in order, into the destination and cleaned up.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rget [flags] <url>",
		Short: "rget",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE:    runRootCMD,
		Args:    cobra.ExactArgs(1),
		Example: `  rget https://example.com/file.tar.gz`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	err := config.AddRootPersistentFlags(cmd)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors. Errors are logged by Execute.
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	urlString := args[0]
	getter, err := newGetter(cmd)
	if err != nil {
		return err
	}
	dest := getter.Destination(urlString)

	log.Info().Str("url", urlString).
		Str("dest", dest).
		Str("minimum_chunk_size", viper.GetString(optname.MinimumChunkSize)).
		Int("max_chunks", viper.GetInt(optname.MaxChunks)).
		Msg("Initiating")

	if dest != consumer.StdoutPath {
		if err := cli.EnsureDestinationNotExist(dest, getter.Force); err != nil {
			return err
		}
	}

	savedTo, _, _, err := getter.DownloadFile(cmd.Context(), urlString)
	if err != nil {
		return err
	}
	fmt.Fprintf(announceOutput(cmd, savedTo), "saved to %s\n", savedTo)
	return nil
}

// newGetter is the only place viper values are turned into download options.
func newGetter(cmd *cobra.Command) (*rget.Getter, error) {
	minChunkSize, err := humanize.ParseBytes(viper.GetString(optname.MinimumChunkSize))
	if err != nil {
		return nil, fmt.Errorf("unable to parse minimum chunk size: %w", err)
	}
	// read straight from the flag, viper would split header values on commas
	headerLines, err := cmd.Flags().GetStringArray(optname.Header)
	if err != nil {
		return nil, err
	}
	headers, err := config.StaticHeaders(headerLines, viper.GetString(optname.Cookie))
	if err != nil {
		return nil, err
	}

	clientOpts := client.Options{
		MaxRetries:     viper.GetInt(optname.Retries),
		ConnectTimeout: viper.GetDuration(optname.ConnTimeout),
		ReadTimeout:    viper.GetDuration(optname.ReadTimeout),
		Headers:        headers,
	}
	downloadOpts := download.Options{
		MaxChunks:    viper.GetInt(optname.MaxChunks),
		MinChunkSize: int64(minChunkSize),
		StateDir:     viper.GetString(optname.StateDir),
		Fresh:        viper.GetBool(optname.Restart),
		Client:       clientOpts,
	}
	return &rget.Getter{
		Options:          downloadOpts,
		Dest:             viper.GetString(optname.Output),
		Force:            viper.GetBool(optname.Force),
		ProgressInterval: viper.GetDuration(optname.ProgressInterval),
	}, nil
}

func announceOutput(cmd *cobra.Command, dest string) io.Writer {
	if dest == consumer.StdoutPath {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// Execute runs the command with a context that is cancelled on the first interrupt. Partial files
// and the saved state stay behind, so the next run resumes.
func Execute(ctx context.Context, cmd *cobra.Command) error {
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Error")
		return err
	}
	return nil
}
