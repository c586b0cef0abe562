//go:build !windows

package cli

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/replicate/rget/pkg/logging"
)

// ErrLocked means another rget process holds the lock for the same download.
var ErrLocked = errors.New("download is locked by another process")

// maxLockAttempts bounds how often TryAcquire reopens a lock file that was replaced underneath it.
const maxLockAttempts = 5

type PIDFile struct {
	path string
	file *os.File
	fd   int
}

func NewPIDFile(path string) (*PIDFile, error) {
	p := &PIDFile{path: path}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PIDFile) open() error {
	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	p.file = file
	p.fd = int(file.Fd())
	return nil
}

// TryAcquire takes the lock without waiting and records our PID in the file.
func (p *PIDFile) TryAcquire() error {
	funcs := []func() error{
		p.lock,
		func() error { return p.file.Truncate(0) },
		p.writePID,
		p.file.Sync,
	}
	return p.executeFuncs(funcs)
}

// lock flocks the file and makes sure it is still the one at p.path. Release removes the file while
// holding the lock, so a file opened before that removal can be locked but no longer guards
// anything; in that case the path is opened again.
func (p *PIDFile) lock() error {
	logger := logging.GetLogger()
	for attempt := 1; ; attempt++ {
		err := syscall.Flock(p.fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			logger.Debug().Str("lock", p.path).Msg("Lock held elsewhere")
			if closeErr := p.file.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Str("lock", p.path).Msg("Error closing lock file")
			}
			return fmt.Errorf("%w: %s", ErrLocked, p.path)
		}
		if err != nil {
			return err
		}

		current, err := p.isCurrent()
		if err != nil {
			return err
		}
		if current {
			return nil
		}
		logger.Debug().Str("lock", p.path).Int("attempt", attempt).Msg("Lock file was replaced, reopening")
		if err := p.file.Close(); err != nil {
			return err
		}
		if attempt >= maxLockAttempts {
			return fmt.Errorf("%w: %s keeps being replaced", ErrLocked, p.path)
		}
		if err := p.open(); err != nil {
			return err
		}
	}
}

func (p *PIDFile) isCurrent() (bool, error) {
	held, err := p.file.Stat()
	if err != nil {
		return false, err
	}
	onDisk, err := os.Stat(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, onDisk), nil
}

// Release removes the file before unlocking; waiting processes notice the removal in lock.
func (p *PIDFile) Release() error {
	funcs := []func() error{
		func() error { return os.Remove(p.path) },
		func() error { return syscall.Flock(p.fd, syscall.LOCK_UN) },
		p.file.Close,
	}
	return p.executeFuncs(funcs)
}

func (p *PIDFile) writePID() error {
	_, err := p.file.WriteAt([]byte(fmt.Sprintf("%d", os.Getpid())), 0)
	return err
}

func (p *PIDFile) executeFuncs(funcs []func() error) error {
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
