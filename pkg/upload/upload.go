// Package upload publishes run artifacts and summary documents to remote
// object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/reportoor/pkg/config"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "results"

// Uploader uploads local results to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir. The directory basename is
	// used as a sub-prefix under the configured remote prefix.
	Upload(ctx context.Context, localDir string) error

	// UploadFiles uploads individual files directly under the configured
	// remote prefix, keyed by their basename.
	UploadFiles(ctx context.Context, paths ...string) error
}

// New creates the uploader for whichever backend is enabled.
func New(log logrus.FieldLogger, cfg *config.UploadConfig) (Uploader, error) {
	switch {
	case cfg.S3.Enabled:
		return NewS3Uploader(log, &cfg.S3)
	case cfg.Minio.Enabled:
		return NewMinioUploader(log, &cfg.Minio)
	default:
		return nil, errors.New("no upload backend enabled")
	}
}

// putFunc stores the file at localPath under key.
type putFunc func(ctx context.Context, localPath, key string) error

// fileEntry pairs a local file with its object key.
type fileEntry struct {
	path string
	key  string
}

// treeEntries lists every regular file under localDir with its key below
// prefix.
func treeEntries(localDir, prefix string) ([]fileEntry, error) {
	var entries []fileEntry

	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		entries = append(entries, fileEntry{
			path: path,
			key:  prefix + "/" + filepath.ToSlash(relPath),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	return entries, nil
}

// fileEntries keys each file by its basename below prefix.
func fileEntries(prefix string, paths []string) ([]fileEntry, error) {
	entries := make([]fileEntry, 0, len(paths))

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}

		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s is not a regular file", p)
		}

		entries = append(entries, fileEntry{
			path: p,
			key:  prefix + "/" + filepath.Base(p),
		})
	}

	return entries, nil
}

// putAll uploads entries with at most parallelism uploads in flight. The
// first failure cancels the remaining uploads.
func putAll(ctx context.Context, put putFunc, entries []fileEntry, parallelism int) error {
	if parallelism <= 0 {
		parallelism = config.DefaultUploadParallelism
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, e := range entries {
		g.Go(func() error {
			if err := put(gctx, e.path, e.key); err != nil {
				return fmt.Errorf("uploading %s: %w", e.key, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// joinPrefix builds an object key prefix from the configured prefix and an
// optional sub-path.
func joinPrefix(configured, sub string) string {
	prefix := strings.Trim(configured, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	if sub == "" {
		return prefix
	}

	return prefix + "/" + sub
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	switch ext {
	case ".webm":
		return "video/webm"
	case ".zip":
		return "application/zip"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
