// Package attachment reduces artifact paths produced for a test attempt to
// identifiers that survive relocation of the output directory.
package attachment

import (
	"path/filepath"
)

// Normalize maps each attachment path to "<parentDirectoryName>/<fileName>".
// Empty paths (body-only attachments) are dropped. Order is preserved and
// duplicates are kept.
func Normalize(paths []string) []string {
	out := make([]string, 0, len(paths))

	for _, p := range paths {
		if id, ok := identifier(p); ok {
			out = append(out, id)
		}
	}

	return out
}

func identifier(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	clean := filepath.Clean(path)
	dir := filepath.Base(filepath.Dir(clean))
	name := filepath.Base(clean)

	// A file at the filesystem root has no parent directory name.
	if dir == string(filepath.Separator) {
		dir = ""
	}

	return dir + "/" + name, true
}
