package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reportoor/pkg/config"
)

func writeFile(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestTreeEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_7")
	writeFile(t, filepath.Join(dir, "videos", "a.webm"))
	writeFile(t, filepath.Join(dir, "login-chromium", "trace.zip"))
	writeFile(t, filepath.Join(dir, "report.txt"))

	entries, err := treeEntries(dir, "results/run_7")
	require.NoError(t, err)

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.key)
	}

	sort.Strings(keys)

	assert.Equal(t, []string{
		"results/run_7/login-chromium/trace.zip",
		"results/run_7/report.txt",
		"results/run_7/videos/a.webm",
	}, keys)
}

func TestFileEntries(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "shop_latest.json")
	writeFile(t, doc)

	entries, err := fileEntries("results", []string{doc})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "results/shop_latest.json", entries[0].key)

	_, err = fileEntries("results", []string{dir})
	require.Error(t, err)

	_, err = fileEntries("results", []string{filepath.Join(dir, "missing.json")})
	require.Error(t, err)
}

func TestPutAll_BoundsParallelism(t *testing.T) {
	const limit = 3

	entries := make([]fileEntry, 20)
	for i := range entries {
		entries[i] = fileEntry{path: "p", key: "k"}
	}

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
		calls    int
	)

	put := func(_ context.Context, _, _ string) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		calls++
		mu.Unlock()

		return nil
	}

	require.NoError(t, putAll(context.Background(), put, entries, limit))
	assert.Equal(t, len(entries), calls)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestPutAll_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")

	put := func(_ context.Context, _, key string) error {
		if key == "bad" {
			return boom
		}

		return nil
	}

	err := putAll(context.Background(), put, []fileEntry{
		{path: "a", key: "good"},
		{path: "b", key: "bad"},
	}, 1)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "uploading bad")
}

func TestNew(t *testing.T) {
	log := logrus.New()

	_, err := New(log, &config.UploadConfig{})
	require.Error(t, err)

	u, err := New(log, &config.UploadConfig{
		S3: config.S3UploadConfig{Enabled: true, Bucket: "ci"},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3Uploader{}, u)

	u, err = New(log, &config.UploadConfig{
		Minio: config.MinioUploadConfig{
			Enabled:   true,
			Endpoint:  "localhost:9000",
			Bucket:    "ci",
			AccessKey: "access",
			SecretKey: "secret",
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &minioUploader{}, u)
}
