package dicom

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Extensions are common DICOM file extensions, compared case-insensitively.
var Extensions = []string{".dcm", ".dicom", ".dic"}

// ExcludedNames are filenames to skip.
var ExcludedNames = map[string]bool{
	"DICOMDIR":       true,
	".progress.json": true,
	".DS_Store":      true,
	"Thumbs.db":      true,
	"desktop.ini":    true,
}

// ExcludedExtensions are extensions that are never DICOM, so the magic
// bytes check is skipped for them.
var ExcludedExtensions = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".txt": true, ".md": true, ".log": true, ".csv": true,
	".zip": true, ".tar": true, ".gz": true, ".7z": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".pdf": true, ".html": true, ".htm": true,
}

// ExcludedDirs are directory names to skip entirely.
var ExcludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
	".vscode":      true,
}

// FindFiles returns the sorted DICOM files under inputPath. Files under
// skipDir (typically the output folder) are ignored.
func FindFiles(inputPath string, recursive bool, skipDir string) ([]string, error) {
	var files []string
	skipDir = filepath.Clean(skipDir)

	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}

		if d.IsDir() {
			if path == inputPath {
				return nil
			}
			if !recursive || ExcludedDirs[d.Name()] || (skipDir != "." && filepath.Clean(path) == skipDir) {
				return filepath.SkipDir
			}
			return nil
		}

		if ExcludedNames[d.Name()] {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ExcludedExtensions[ext] {
			return nil
		}
		if lo.Contains(Extensions, ext) || HasMagicBytes(path) {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.WalkDir(inputPath, walkFn); err != nil {
		return nil, errors.Wrapf(err, "could not scan %s", inputPath)
	}

	sort.Strings(files)
	return files, nil
}

// HasMagicBytes reports whether the file carries "DICM" at offset 128.
func HasMagicBytes(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	header := make([]byte, 132)
	if _, err := io.ReadFull(file, header); err != nil {
		return false
	}
	return string(header[128:132]) == "DICM"
}
