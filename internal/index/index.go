package index

import (
	"context"

	"github.com/starford/mdlinks/internal/models"
)

// LinkIndex defines the read and write operations of the graph mirror.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type LinkIndex interface {
	Name() string
	Save(ctx context.Context, g *models.Graph) error
	Checksum(ctx context.Context) (string, error)
	Node(ctx context.Context, id string) (models.Node, error)
	Backlinks(ctx context.Context, target string) ([]models.Edge, error)
	Outgoing(ctx context.Context, source string) ([]models.Edge, error)
	Counts(ctx context.Context) (nodes, edges int, err error)
	Close() error
}

// Verify *DB satisfies LinkIndex at compile time.
var _ LinkIndex = (*DB)(nil)
