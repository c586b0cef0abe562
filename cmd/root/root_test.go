package root

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func TestUsageOnWrongArgCount(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"no args", []string{}},
		{"two args", []string{"http://example.com/a", "http://example.com/b"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			defer viper.Reset()
			var out bytes.Buffer
			cmd := GetCommand()
			cmd.SetArgs(tc.args)
			cmd.SetOut(&out)
			cmd.SetErr(&out)

			err := Execute(context.Background(), cmd)
			assert.Error(t, err)
			assert.Contains(t, out.String(), "Usage:")
		})
	}
}

func TestDownloadViaCommand(t *testing.T) {
	defer viper.Reset()
	content := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	fs := fstest.MapFS{"data.bin": {Data: content}}
	ts := httptest.NewServer(http.FileServer(http.FS(fs)))
	defer ts.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	var stdout bytes.Buffer
	cmd := GetCommand()
	cmd.SetArgs([]string{
		ts.URL + "/data.bin",
		"--state-dir", filepath.Join(dir, "state"),
		"--output", dest,
		"--minimum-chunk-size", "4KiB",
		"--max-chunks", "4",
		"--progress-interval", "10ms",
		"-H", "X-Test: yes",
	})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)

	require.NoError(t, Execute(context.Background(), cmd))
	assert.Contains(t, stdout.String(), "saved to "+dest)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	leftovers, err := os.ReadDir(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "state, lock and partial files are removed after assembly")
}

func TestRefusesExistingDestination(t *testing.T) {
	defer viper.Reset()
	dir := t.TempDir()
	dest := filepath.Join(dir, "exists.bin")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0644))

	cmd := GetCommand()
	cmd.SetArgs([]string{"http://127.0.0.1:1/exists.bin", "--output", dest, "--state-dir", dir})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := Execute(context.Background(), cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
