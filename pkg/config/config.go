package config

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/replicate/rget/pkg/optname"
)

const (
	DefaultMaxChunks        = 10
	DefaultMinimumChunkSize = "10MiB"
)

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().IntP(optname.MaxChunks, "c", DefaultMaxChunks, "Maximum number of chunks (and concurrent connections) for a download")
	cmd.PersistentFlags().StringP(optname.MinimumChunkSize, "m", DefaultMinimumChunkSize, "Minimum chunk size to use when splitting a download (e.g. 10MiB)")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 5*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.ReadTimeout, 30*time.Second, "Timeout waiting for response headers or for the next body read")
	cmd.PersistentFlags().IntP(optname.Retries, "r", 5, "Number of retries for a request, and for range attempts that make no progress")
	cmd.PersistentFlags().StringArrayP(optname.Header, "H", []string{}, "Static header sent with every request, format is 'Name: value' (repeatable)")
	cmd.PersistentFlags().String(optname.Cookie, "", "Cookie header value sent with every request")
	cmd.PersistentFlags().StringP(optname.Output, "o", "", "Destination path (default: last path segment of the URL)")
	cmd.PersistentFlags().String(optname.StateDir, ".", "Directory holding the resume state and partial chunk files")
	cmd.PersistentFlags().BoolP(optname.Force, "f", false, "Force download, overwriting existing file")
	cmd.PersistentFlags().Bool(optname.Restart, false, "Discard any saved state for the URL and start over")
	cmd.PersistentFlags().Duration(optname.ProgressInterval, time.Second, "How often progress is redrawn")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")

	viper.SetEnvPrefix("RGET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind persistent flags: %w", err)
	}

	// Hide flags from help, these are intended to be used for testing/debugging only
	for _, flag := range []string{optname.ProgressInterval} {
		if err := cmd.PersistentFlags().MarkHidden(flag); err != nil {
			return fmt.Errorf("failed to hide flag %s: %w", flag, err)
		}
	}

	return nil
}

func PersistentStartupProcessFlags() error {
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(optname.LoggingLevel))
	return nil
}

func setLogLevel(logLevel string) {
	// Set log-level
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// reservedHeaders are computed per request; a static value would break chunking.
var reservedHeaders = map[string]struct{}{
	"Range":           {},
	"If-Range":        {},
	"Accept-Encoding": {},
}

// StaticHeaders builds the header set sent with every request from the --header and --cookie
// values. A non-empty cookie takes precedence over a Cookie passed through --header.
func StaticHeaders(headerLines []string, cookie string) (http.Header, error) {
	headers := make(http.Header)
	for _, line := range headerLines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("invalid header format, expected 'Name: value', got: %s", line)
		}
		name = textproto.CanonicalMIMEHeaderKey(name)
		if _, reserved := reservedHeaders[name]; reserved {
			return nil, fmt.Errorf("header %s is set by rget and can't be overridden", name)
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	if cookie != "" {
		headers.Set("Cookie", cookie)
	}
	return headers, nil
}
