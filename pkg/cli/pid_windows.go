//go:build windows

package cli

import (
	"errors"
	"os"
	"strconv"
)

// ErrLocked means another rget process holds the lock for the same download.
var ErrLocked = errors.New("download is locked by another process")

// PIDFile on windows only records the PID; there is no advisory locking.
type PIDFile struct {
	file *os.File
}

func NewPIDFile(path string) (*PIDFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &PIDFile{file: file}, nil
}

func (p *PIDFile) TryAcquire() error {
	_, err := p.file.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

func (p *PIDFile) Release() error {
	if err := p.file.Close(); err != nil {
		return err
	}
	return os.Remove(p.file.Name())
}
