package optname

const (
	ConnTimeout      = "connect-timeout"
	Cookie           = "cookie"
	Force            = "force"
	Header           = "header"
	LoggingLevel     = "log-level"
	MaxChunks        = "max-chunks"
	MinimumChunkSize = "minimum-chunk-size"
	Output           = "output"
	ProgressInterval = "progress-interval"
	ReadTimeout      = "read-timeout"
	Restart          = "restart"
	Retries          = "retries"
	StateDir         = "state-dir"
	Verbose          = "verbose"
)
