package api

import (
	"context"

	"github.com/starford/mdlinks/internal/engine"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/validate"
)

// GraphService is the link graph surface the handlers depend on.
// *engine.Engine satisfies it.
type GraphService interface {
	Ready() bool
	GetGraph() *models.Graph
	GetLinksForFile(path string) models.FileLinks
	Node(path string) (models.Node, error)
	AddLink(ctx context.Context, req engine.LinkRequest) (models.Edge, error)
	RemoveLink(ctx context.Context, from, to string, rel models.RelationType) (bool, error)
	Validate() validate.Report
	Rebuild(ctx context.Context) (engine.RebuildResult, error)
}

var _ GraphService = (*engine.Engine)(nil)
