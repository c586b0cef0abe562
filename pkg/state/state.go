// Package state persists the chunk plan of a download so an interrupted run can pick up where it
// left off. A record holds the URL, the resource length and the chunk boundaries; nothing about
// progress is stored, the partial chunk files on disk are the authority on that.
package state

import (
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	// Suffix is appended to the URL key to form the state file name.
	Suffix = ".download"

	// CurrentVersion is bumped whenever Record changes shape. Records of any other version are
	// treated as unreadable and the download starts fresh.
	CurrentVersion = 1

	magic     = "rget-state"
	keyLength = 6
)

// ErrUnreadable wraps every Load failure. Callers treat it as "plan from scratch".
var ErrUnreadable = errors.New("state unreadable")

type Boundary struct {
	Start int64 // inclusive
	End   int64 // exclusive
}

type Record struct {
	Version  int
	URL      string
	Length   int64
	Chunks   []Boundary
	Checksum uint64
}

type header struct {
	Magic   string
	Version int
}

// payload is the part of a Record covered by the checksum.
type payload struct {
	URL    string
	Length int64
	Chunks []Boundary
}

// Key returns the fixed-length hex prefix of the URL's MD5 digest.
func Key(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// PathFor returns where the state for url lives inside dir.
func PathFor(dir, url string) string {
	return filepath.Join(dir, Key(url)+Suffix)
}

func checksum(r Record) (uint64, error) {
	return hashstructure.Hash(payload{URL: r.URL, Length: r.Length, Chunks: r.Chunks}, hashstructure.FormatV2, nil)
}

// Validate checks that the boundaries partition [0, Length) exactly.
func (r *Record) Validate() error {
	if r.Length <= 0 {
		return fmt.Errorf("invalid length %d", r.Length)
	}
	if len(r.Chunks) == 0 {
		return errors.New("no chunks")
	}
	var next int64
	for i, c := range r.Chunks {
		if c.Start != next {
			return fmt.Errorf("chunk %d starts at %d, expected %d", i, c.Start, next)
		}
		if c.End <= c.Start {
			return fmt.Errorf("chunk %d is empty or inverted: [%d, %d)", i, c.Start, c.End)
		}
		next = c.End
	}
	if next != r.Length {
		return fmt.Errorf("chunks end at %d, expected %d", next, r.Length)
	}
	return nil
}

// Save writes the record to path, replacing any existing file. The write goes through a temporary
// file and a rename so a crash leaves either the old record or the new one.
func Save(path string, r Record) (err error) {
	r.Version = CurrentVersion
	if r.Checksum, err = checksum(r); err != nil {
		return fmt.Errorf("error hashing state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("error creating state file: %w", err)
	}
	defer func() {
		if err != nil {
			// best effort, err already describes the failure
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc := gob.NewEncoder(tmp)
	if err = enc.Encode(header{Magic: magic, Version: r.Version}); err != nil {
		return fmt.Errorf("error writing state: %w", err)
	}
	if err = enc.Encode(r); err != nil {
		return fmt.Errorf("error writing state: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("error writing state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("error writing state: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error writing state: %w", err)
	}
	return nil
}

// Load reads the record at path. Every failure, including a missing file, wraps ErrUnreadable.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: %s: not a state file", ErrUnreadable, path)
	}
	if h.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrUnreadable, path, h.Version)
	}

	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	sum, err := checksum(r)
	if err != nil || sum != r.Checksum {
		return nil, fmt.Errorf("%w: %s: checksum mismatch", ErrUnreadable, path)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return &r, nil
}

// Remove deletes the record at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
