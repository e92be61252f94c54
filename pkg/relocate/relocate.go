// Package relocate moves test artifacts out of the framework's ephemeral
// output directory into a stable, run-scoped directory.
package relocate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// VideosDir is the sub-directory CollectVideos gathers recordings into.
const VideosDir = "videos"

// asideSuffix names the temporary copy of a destination being replaced.
const asideSuffix = ".replaced"

// Result describes what a relocation moved.
type Result struct {
	// Moved lists the names of the entries moved into the destination.
	Moved []string
	// Overwritten lists the moved names that replaced an existing entry.
	Overwritten []string
	// Bytes is the total size of the moved files.
	Bytes int64
}

// Relocate moves every direct child of src into dst, keeping its name.
// A missing src is a no-op. The destination itself, and any child of src
// that contains the destination, are never moved. An existing destination
// entry with the same name is replaced (last call wins) and reported in the
// result. Failures on individual entries do not stop the remaining moves;
// they are joined into the returned error.
func Relocate(log logrus.FieldLogger, src, dst string) (*Result, error) {
	log = log.WithField("component", "relocator")
	result := &Result{}

	absSrc, err := filepath.Abs(src)
	if err != nil {
		return result, fmt.Errorf("resolving source %q: %w", src, err)
	}

	absDst, err := filepath.Abs(dst)
	if err != nil {
		return result, fmt.Errorf("resolving destination %q: %w", dst, err)
	}

	if absSrc == absDst {
		return result, fmt.Errorf("source and destination are the same directory %q", absSrc)
	}

	entries, err := os.ReadDir(absSrc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.WithField("source", absSrc).Debug("No output directory, nothing to relocate")

			return result, nil
		}

		return result, fmt.Errorf("reading source directory: %w", err)
	}

	if err := os.MkdirAll(absDst, 0o755); err != nil {
		return result, fmt.Errorf("creating destination directory: %w", err)
	}

	var errs []error

	for _, entry := range entries {
		name := entry.Name()
		from := filepath.Join(absSrc, name)
		to := filepath.Join(absDst, name)

		if from == absDst || isWithin(absDst, from) {
			continue
		}

		size := treeSize(from)

		replaced, err := move(from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("moving %s: %w", name, err))

			continue
		}

		if replaced {
			log.WithField("entry", name).
				WithField("destination", absDst).
				Warn("Replaced existing artifact with the same name")

			result.Overwritten = append(result.Overwritten, name)
		}

		result.Moved = append(result.Moved, name)
		result.Bytes += size
	}

	log.WithFields(logrus.Fields{
		"source":      absSrc,
		"destination": absDst,
		"entries":     len(result.Moved),
		"size":        units.HumanSize(float64(result.Bytes)),
	}).Info("Relocated artifacts")

	return result, errors.Join(errs...)
}

// CollectVideos moves every *.webm file directly under dir into
// dir/videos and returns how many were moved. A missing dir is a no-op.
func CollectVideos(log logrus.FieldLogger, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading output directory: %w", err)
	}

	videosDir := filepath.Join(dir, VideosDir)
	count := 0

	var errs []error

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".webm") {
			continue
		}

		if count == 0 {
			if err := os.MkdirAll(videosDir, 0o755); err != nil {
				return 0, fmt.Errorf("creating videos directory: %w", err)
			}
		}

		if _, err := move(filepath.Join(dir, entry.Name()), filepath.Join(videosDir, entry.Name())); err != nil {
			errs = append(errs, fmt.Errorf("moving %s: %w", entry.Name(), err))

			continue
		}

		count++
	}

	if count > 0 {
		log.WithField("component", "relocator").
			WithField("count", count).
			Info("Collected video recordings")
	}

	return count, errors.Join(errs...)
}

// move renames from to to, replacing an existing to. It falls back to
// copy-and-delete when the two paths are on different filesystems. An
// existing to is set aside first and restored when the move fails.
func move(from, to string) (bool, error) {
	aside := to + asideSuffix

	replaced := false

	if _, err := os.Lstat(to); err == nil {
		if err := os.RemoveAll(aside); err != nil {
			return false, fmt.Errorf("clearing stale %s: %w", aside, err)
		}

		if err := os.Rename(to, aside); err != nil {
			return false, fmt.Errorf("setting existing destination aside: %w", err)
		}

		replaced = true
	}

	if err := rename(from, to); err != nil {
		if replaced {
			_ = os.RemoveAll(to)

			if rerr := os.Rename(aside, to); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restoring existing destination: %w", rerr))
			}
		}

		return false, err
	}

	if replaced {
		if err := os.RemoveAll(aside); err != nil {
			return replaced, fmt.Errorf("removing replaced destination: %w", err)
		}
	}

	return replaced, nil
}

// rename is os.Rename with a copy-and-delete fallback across filesystems.
func rename(from, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := CopyTree(from, to); err != nil {
		return fmt.Errorf("copying across filesystems: %w", err)
	}

	if err := os.RemoveAll(from); err != nil {
		return fmt.Errorf("removing source after copy: %w", err)
	}

	return nil
}

// isWithin reports whether path is strictly inside dir.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// treeSize returns the total size of regular files under path.
func treeSize(path string) int64 {
	var total int64

	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // size is informational only
		}

		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}

		return nil
	})

	return total
}
