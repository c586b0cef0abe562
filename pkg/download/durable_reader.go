package download

import (
	"io"
	"sync/atomic"
)

// durableReader tees everything read from src into dst before handing it to the caller, and counts
// the bytes written. A byte the caller has seen is always already on disk.
type durableReader struct {
	src     io.Reader
	dst     io.Writer
	written *atomic.Int64
}

func newDurableReader(src io.Reader, dst io.Writer, written *atomic.Int64) *durableReader {
	return &durableReader{src: src, dst: dst, written: written}
}

func (r *durableReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		m, werr := r.dst.Write(p[:n])
		r.written.Add(int64(m))
		if werr != nil {
			return m, &writeError{err: werr}
		}
		if m < n {
			return m, &writeError{err: io.ErrShortWrite}
		}
	}
	return n, err
}
