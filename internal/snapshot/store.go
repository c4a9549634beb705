package snapshot

import (
	"fmt"

	"github.com/starford/mdlinks/internal/models"
)

// FileStore reads and atomically replaces files relative to a root.
type FileStore interface {
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
}

// Store keeps one graph snapshot at a fixed path.
type Store struct {
	files FileStore
	path  string
}

// NewStore returns a snapshot store writing to path within files.
func NewStore(files FileStore, path string) *Store {
	return &Store{files: files, path: path}
}

// Path returns the snapshot location relative to the root.
func (s *Store) Path() string {
	return s.path
}

// Save encodes g and atomically replaces the snapshot file. A failed save
// leaves the previous snapshot untouched.
func (s *Store) Save(g *models.Graph) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}
	if err := s.files.Write(s.path, data); err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	return nil
}

// Load reads and decodes the snapshot. A missing file surfaces the
// underlying os.ErrNotExist; a malformed one apperr.ErrInvalidSnapshot.
func (s *Store) Load() (*models.Graph, error) {
	data, err := s.files.Read(s.path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load: %w", err)
	}
	return Decode(data)
}
