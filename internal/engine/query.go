package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/mdlinks/internal/apperr"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/observability"
	"github.com/starford/mdlinks/internal/pathnorm"
	"github.com/starford/mdlinks/internal/validate"
)

// LinkRequest describes a manual edge.
type LinkRequest struct {
	From         string              `json:"from"`
	To           string              `json:"to"`
	Type         models.EdgeType     `json:"type"`
	RelationType models.RelationType `json:"relationType,omitempty"`
}

// Validate checks the request fields. A relation is required for typed
// references and forbidden for every other type.
func (r LinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.From, validation.Required),
		validation.Field(&r.To, validation.Required),
		validation.Field(&r.Type, validation.Required, validation.By(knownEdgeType)),
		validation.Field(&r.RelationType,
			validation.When(r.Type == models.EdgeTypedReference, validation.Required),
			validation.By(relationFor(r.Type)),
		),
	)
}

func relationFor(t models.EdgeType) validation.RuleFunc {
	return func(v interface{}) error {
		rel, _ := v.(models.RelationType)
		switch {
		case rel == "":
			return nil
		case t != models.EdgeTypedReference:
			return errors.New("only typed references carry a relation")
		case !rel.Valid():
			return errors.New("unknown relation type")
		}
		return nil
	}
}

func knownEdgeType(v interface{}) error {
	if t, _ := v.(models.EdgeType); !t.Valid() {
		return errors.New("unknown edge type")
	}
	return nil
}

// GetGraph returns a deep copy of the whole graph with current metadata.
func (e *Engine) GetGraph() *models.Graph {
	return e.store.Snapshot()
}

// GetLinksForFile returns the edges leaving and entering path.
func (e *Engine) GetLinksForFile(path string) models.FileLinks {
	return e.store.LinksFor(pathnorm.Normalize(path))
}

// Node returns the node recorded for path.
func (e *Engine) Node(path string) (models.Node, error) {
	n, ok := e.store.Node(pathnorm.Normalize(path))
	if !ok {
		return models.Node{}, fmt.Errorf("engine: node %s: %w", path, apperr.ErrNotFound)
	}
	return n, nil
}

// AddLink inserts a manual edge, or returns the existing edge with the same
// derived id. The new edge is persisted before AddLink returns.
func (e *Engine) AddLink(ctx context.Context, req LinkRequest) (models.Edge, error) {
	if err := e.requireReady(); err != nil {
		return models.Edge{}, err
	}
	req.From = pathnorm.Normalize(req.From)
	req.To = pathnorm.Normalize(req.To)
	if err := req.Validate(); err != nil {
		return models.Edge{}, fmt.Errorf("engine: add link: %w: %w", apperr.ErrInvalidEdge, err)
	}

	ctx, span := e.tracer.Start(ctx, "engine.add_link",
		trace.WithAttributes(observability.AttrPath.String(req.From)))
	defer span.End()

	edge, created, err := e.store.AddEdge(models.NewEdge(req.From, req.To, req.Type, req.RelationType, models.EdgeMetadata{}))
	if err != nil {
		observability.RecordError(span, err)
		return models.Edge{}, fmt.Errorf("engine: add link: %w", err)
	}
	span.SetAttributes(observability.AttrEdgeID.String(edge.ID))
	if created {
		e.logger.Info("link added", slog.String("edge", edge.ID))
		e.persist(ctx)
	}
	return edge, nil
}

// RemoveLink deletes the edge identified by (from, to, rel) and reports
// whether one existed.
func (e *Engine) RemoveLink(ctx context.Context, from, to string, rel models.RelationType) (bool, error) {
	if err := e.requireReady(); err != nil {
		return false, err
	}
	id := models.EdgeID(pathnorm.Normalize(from), pathnorm.Normalize(to), rel)

	ctx, span := e.tracer.Start(ctx, "engine.remove_link",
		trace.WithAttributes(observability.AttrEdgeID.String(id)))
	defer span.End()

	if !e.store.RemoveEdge(id) {
		return false, nil
	}
	e.logger.Info("link removed", slog.String("edge", id))
	e.persist(ctx)
	return true, nil
}

// Validate runs every integrity check against the current graph.
func (e *Engine) Validate() validate.Report {
	return validate.Run(e.store.Snapshot())
}
