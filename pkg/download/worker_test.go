package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTruncated hijacks the connection and sends a 206 that promises the rest of the requested
// range but delivers only n bytes of it before hanging up.
func writeTruncated(t *testing.T, w http.ResponseWriter, content []byte, from, to int64, n int) {
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	conn, buf, err := hj.Hijack()
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(buf, "HTTP/1.1 206 Partial Content\r\n")
	fmt.Fprintf(buf, "Content-Range: bytes %d-%d/%d\r\n", from, to, len(content))
	fmt.Fprintf(buf, "Content-Length: %d\r\n\r\n", to-from+1)
	buf.Write(content[from : from+int64(n)])
	require.NoError(t, buf.Flush())
}

func parseRange(t *testing.T, header string) (int64, int64) {
	var from, to int64
	_, err := fmt.Sscanf(header, "bytes=%d-%d", &from, &to)
	require.NoError(t, err)
	return from, to
}

func TestWorkerDownloadsChunk(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 30)
	chunk := plan.Chunks[1]

	require.NoError(t, testWorker(srv.URL).Run(context.Background(), chunk))

	assert.Equal(t, []string{"bytes=30-59"}, srv.Ranges())
	assert.Equal(t, int64(30), chunk.BytesSoFar())
	got, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, content[30:60], got)
}

func TestWorkerResumesFromPartialFile(t *testing.T) {
	testCases := []struct {
		name     string
		chunk    int
		existing int64
		expected []string
	}{
		{"empty partial file", 2, 0, []string{"bytes=200-299"}},
		{"interrupted after 40 bytes", 2, 40, []string{"bytes=240-299"}},
		{"first chunk", 0, 99, []string{"bytes=99-99"}},
		{"already complete", 1, 100, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			content := generateTestContent(300)
			srv := newRecordingServer(t, content)
			plan := testPlan(t, t.TempDir(), srv.URL, 300, 100)
			chunk := plan.Chunks[tc.chunk]
			require.NoError(t, os.WriteFile(chunk.Path, content[chunk.Start:chunk.Start+tc.existing], 0644))

			require.NoError(t, testWorker(srv.URL).Run(context.Background(), chunk))

			assert.Equal(t, tc.expected, srv.Ranges())
			got, err := os.ReadFile(chunk.Path)
			require.NoError(t, err)
			assert.Equal(t, content[chunk.Start:chunk.End], got)
		})
	}
}

func TestWorkerRerequestsAfterTruncatedBody(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		if call > 1 {
			return false
		}
		from, to := parseRange(t, r.Header.Get("Range"))
		writeTruncated(t, w, content, from, to, 25)
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 100)
	chunk := plan.Chunks[0]

	require.NoError(t, testWorker(srv.URL).Run(context.Background(), chunk))

	assert.Equal(t, []string{"bytes=0-99", "bytes=25-99", "bytes=50-99"}, srv.Ranges())
	got, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWorkerRangeNotSupported(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		_, _ = w.Write(content)
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 50)

	err := FetchAll(context.Background(), plan, testWorker(srv.URL))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRangeNotSupported)
	var statusErr HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusOK, statusErr.StatusCode)

	assert.False(t, plan.Done())
	for _, chunk := range plan.Chunks {
		assert.Less(t, chunk.BytesSoFar(), chunk.Size())
	}
}

func TestWorkerContentRangeMismatch(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		w.Header().Set("Content-Range", "bytes 0-49/100")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[:50])
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 50)
	chunk := plan.Chunks[1]

	err := testWorker(srv.URL).Run(context.Background(), chunk)
	assert.ErrorIs(t, err, ErrContentRangeMismatch)
	assert.Zero(t, chunk.BytesSoFar())
}

func TestWorkerRetriesExhausted(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusPartialContent)
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 100)

	w := testWorker(srv.URL)
	w.MaxRetries = 2
	err := w.Run(context.Background(), plan.Chunks[0])
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Len(t, srv.Ranges(), 3)
}

func TestWorkerProgressResetsRetryBudget(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		// every request makes 10 bytes of progress before the connection drops
		from, to := parseRange(t, r.Header.Get("Range"))
		writeTruncated(t, w, content, from, to, int(min(10, to-from+1)))
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 100)

	w := testWorker(srv.URL)
	w.MaxRetries = 1
	require.NoError(t, w.Run(context.Background(), plan.Chunks[0]))
	assert.Len(t, srv.Ranges(), 10)

	got, err := os.ReadFile(plan.Chunks[0].Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWorkerIdleTimeout(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		if call > 0 {
			return false
		}
		w.Header().Set("Content-Range", "bytes 0-99/100")
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(content[:50])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 100)

	w := testWorker(srv.URL)
	w.ReadTimeout = 100 * time.Millisecond
	require.NoError(t, w.Run(context.Background(), plan.Chunks[0]))

	assert.Equal(t, []string{"bytes=0-99", "bytes=50-99"}, srv.Ranges())
	got, err := os.ReadFile(plan.Chunks[0].Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestWorkerOversizedPartialFile(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 50)
	chunk := plan.Chunks[0]
	require.NoError(t, os.WriteFile(chunk.Path, bytes.Repeat([]byte{'x'}, 70), 0644))

	require.NoError(t, testWorker(srv.URL).Run(context.Background(), chunk))

	assert.Equal(t, []string{"bytes=0-49"}, srv.Ranges())
	got, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, content[:50], got)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	content := generateTestContent(100)
	srv := newRecordingServer(t, content)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Override = func(w http.ResponseWriter, r *http.Request, call int) bool {
		cancel()
		<-r.Context().Done()
		return true
	}
	plan := testPlan(t, t.TempDir(), srv.URL, 100, 100)

	err := testWorker(srv.URL).Run(ctx, plan.Chunks[0])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDurableReader(t *testing.T) {
	src := bytes.NewReader([]byte("hello, world!"))
	var dst bytes.Buffer
	var written atomic.Int64
	r := newDurableReader(src, &dst, &written)

	buf := make([]byte, 5)
	for {
		n, err := r.Read(buf)
		// whatever the caller sees is already in dst
		assert.Equal(t, written.Load(), int64(dst.Len()))
		assert.True(t, bytes.HasSuffix(dst.Bytes(), buf[:n]))
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "hello, world!", dst.String())
	assert.Equal(t, int64(13), written.Load())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestDurableReaderWriteError(t *testing.T) {
	var written atomic.Int64
	r := newDurableReader(bufio.NewReader(bytes.NewReader([]byte("data"))), failingWriter{}, &written)
	_, err := r.Read(make([]byte, 4))
	var werr *writeError
	assert.True(t, errors.As(err, &werr))
	assert.Zero(t, written.Load())
}

func TestCheckContentRange(t *testing.T) {
	testCases := []struct {
		header string
		offset int64
		err    bool
	}{
		{"", 10, false},
		{"bytes 10-99/100", 10, false},
		{"bytes 10-99/*", 10, false},
		{"bytes 0-99/100", 10, true},
		{"garbage", 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.header, func(t *testing.T) {
			err := checkContentRange(tc.header, tc.offset)
			assert.Equal(t, tc.err, err != nil)
			if tc.err {
				assert.ErrorIs(t, err, ErrContentRangeMismatch)
			}
		})
	}
}
