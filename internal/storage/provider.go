// Package storage defines the markdown-root file-system abstraction.
package storage

import "github.com/starford/mdlinks/internal/models"

// Provider is the interface for file operations under the markdown root.
type Provider interface {
	// Scan returns every markdown file under the root, skipping hidden
	// paths and the metadata directory.
	Scan() ([]models.ScanEntry, error)
	// Stat returns scan information for one file (relative to root).
	Stat(path string) (models.ScanEntry, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Root returns the absolute root directory.
	Root() string
}
