package consumer

import "io"

// Consumer receives the assembled byte stream of a download.
type Consumer interface {
	Consume(reader io.Reader, destPath string, expectedBytes int64) error
	// EnableOverwrite sets the overwrite flag for the consumer, allowing it to overwrite files if necessary/supported
	EnableOverwrite()
}

// StdoutPath is the destination that selects the stdout consumer.
const StdoutPath = "-"

// ForDestination picks the consumer for a destination path.
func ForDestination(destPath string) Consumer {
	if destPath == StdoutPath {
		return &StdoutConsumer{}
	}
	return &FileWriter{}
}
