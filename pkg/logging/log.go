package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func SetupLogger() {
	// TODO: Make color configurable? Disabled so we don't have to deal with ANSI escape codes in our logoutput
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339, NoColor: true}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("[ %s ]", i)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func GetLogger() zerolog.Logger {
	return log.Logger
}

// RetryLogger adapts the global zerolog logger to retryablehttp.LeveledLogger. Retry chatter is
// demoted one level so a flaky origin doesn't flood the console at the default level.
type RetryLogger struct{}

var _ retryablehttp.LeveledLogger = RetryLogger{}

func (RetryLogger) Error(msg string, keysAndValues ...interface{}) {
	logEvent(log.Logger.Warn(), msg, keysAndValues)
}

func (RetryLogger) Info(msg string, keysAndValues ...interface{}) {
	logEvent(log.Logger.Debug(), msg, keysAndValues)
}

func (RetryLogger) Debug(msg string, keysAndValues ...interface{}) {
	logEvent(log.Logger.Trace(), msg, keysAndValues)
}

func (RetryLogger) Warn(msg string, keysAndValues ...interface{}) {
	logEvent(log.Logger.Info(), msg, keysAndValues)
}

func logEvent(event *zerolog.Event, msg string, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	event.Msg(msg)
}
