package consumer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileWriter writes the stream to a temporary file next to destPath and renames it into place, so
// destPath never holds a half-assembled file.
type FileWriter struct {
	Overwrite bool
}

var _ Consumer = &FileWriter{}

func (f *FileWriter) Consume(reader io.Reader, destPath string, expectedBytes int64) (err error) {
	if !f.Overwrite {
		if _, statErr := os.Stat(destPath); !errors.Is(statErr, fs.ErrNotExist) {
			return fmt.Errorf("error writing file: destination %s already exists", destPath)
		}
	}

	out, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".part*")
	if err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	defer func() {
		if err != nil {
			// best effort, err already describes the failure
			_ = out.Close()
			_ = os.Remove(out.Name())
		}
	}()

	written, err := io.Copy(out, reader)
	if err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	if written != expectedBytes {
		return fmt.Errorf("error writing file: expected %d bytes, wrote %d", expectedBytes, written)
	}
	if err = out.Chmod(0644); err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	if err = os.Rename(out.Name(), destPath); err != nil {
		return fmt.Errorf("error writing file: %w", err)
	}
	return nil
}

func (f *FileWriter) EnableOverwrite() {
	f.Overwrite = true
}
