package consumer

import (
	"fmt"
	"io"
	"os"
)

var _ Consumer = &StdoutConsumer{}

type StdoutConsumer struct {
	// Out defaults to os.Stdout.
	Out io.Writer
}

func (s *StdoutConsumer) Consume(reader io.Reader, destPath string, expectedBytes int64) error {
	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	written, err := io.Copy(out, reader)
	if err != nil {
		return fmt.Errorf("error writing to stdout: %w", err)
	}
	if written != expectedBytes {
		return fmt.Errorf("error writing to stdout: expected %d bytes, wrote %d", expectedBytes, written)
	}
	return nil
}

func (s *StdoutConsumer) EnableOverwrite() {
	// no op
}
