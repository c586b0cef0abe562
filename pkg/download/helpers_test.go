package download

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/state"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// generateTestContent generates a byte slice of the given size filled with random bytes
func generateTestContent(size int64) []byte {
	content := make([]byte, size)
	rnd := rand.New(rand.NewSource(99))
	for i := range content {
		content[i] = byte(rnd.Intn(256))
	}
	return content
}

// recordingServer serves content with full Range support and remembers every Range header it saw.
// Override lets a test take over individual requests; returning false falls through to ServeContent.
type recordingServer struct {
	*httptest.Server
	content []byte

	mu       sync.Mutex
	ranges   []string
	Override func(w http.ResponseWriter, r *http.Request, call int) bool
}

func newRecordingServer(t *testing.T, content []byte) *recordingServer {
	s := &recordingServer{content: content}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		call := len(s.ranges)
		s.ranges = append(s.ranges, r.Header.Get("Range"))
		override := s.Override
		s.mu.Unlock()

		if override != nil && override(w, r, call) {
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(s.content))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *recordingServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func testClient() client.HTTPClient {
	return client.NewHTTPClient(client.Options{MaxRetries: 1})
}

func testWorker(url string) *Worker {
	return &Worker{
		Client:      testClient(),
		URL:         url,
		MaxRetries:  3,
		ReadTimeout: 5 * time.Second,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}
}

// testPlan builds a plan over [0, length) with the given chunk size, storing files under dir.
func testPlan(t *testing.T, dir, url string, length, chunkSize int64) *Plan {
	t.Helper()
	bounds := ComputeBoundaries(length, chunkSize, int(length/chunkSize)+1)
	require.NotEmpty(t, bounds)
	return newPlan(url, length, state.PathFor(dir, url), bounds)
}

// sortedRanges orders Range headers from concurrent workers for comparison.
func sortedRanges(ranges []string) []string {
	return slices.Sorted(slices.Values(ranges))
}

// openPaths lists the files this process holds open, resolved through /proc.
func openPaths(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("needs /proc/self/fd")
	}
	var paths []string
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join("/proc/self/fd", e.Name()))
		if err == nil {
			paths = append(paths, strings.TrimSuffix(target, " (deleted)"))
		}
	}
	return paths
}
