package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/pathnorm"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root    string // absolute path to the markdown root
	metaDir string // root-relative metadata directory, never scanned
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. metaDir names the engine's own
// metadata directory relative to root.
func NewFS(root, metaDir string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, metaDir: filepath.ToSlash(filepath.Clean(metaDir))}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// Skip reports whether a root-relative slash path is excluded from scans:
// any hidden segment, or anything under the metadata directory.
func (f *FS) Skip(rel string) bool {
	if rel == f.metaDir || strings.HasPrefix(rel, f.metaDir+"/") {
		return true
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}

// Scan walks the root and returns every markdown file.
func (f *FS) Scan() ([]models.ScanEntry, error) {
	var out []models.ScanEntry
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && f.Skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !pathnorm.IsMarkdown(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, entry(rel, p, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan: %w", err)
	}
	return out, nil
}

// Stat returns scan information for a single file.
func (f *FS) Stat(path string) (models.ScanEntry, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return models.ScanEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.ScanEntry{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return entry(filepath.ToSlash(path), abs, info), nil
}

// Read returns the raw bytes of a file under the root.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename. Readers see
// either the old file or the new one, never a partial write.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mdlinks-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

func entry(rel, full string, info fs.FileInfo) models.ScanEntry {
	return models.ScanEntry{
		Path:     rel,
		FullPath: full,
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
	}
}
