// Package snapshot serialises the link graph to its on-disk JSON form and
// checks the integrity of a snapshot when it is read back.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mdlinks/internal/apperr"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/validate"
)

// Version is the snapshot format version.
const Version = 1

type document struct {
	Nodes    []node   `json:"nodes"`
	Edges    []edge   `json:"edges"`
	Metadata metadata `json:"metadata"`
}

type node struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Path     string   `json:"path"`
	Exists   bool     `json:"exists"`
	Metadata nodeMeta `json:"metadata"`
}

type nodeMeta struct {
	Size     int64      `json:"size"`
	Modified *time.Time `json:"modified"`
	Tags     []string   `json:"tags"`
	Title    *string    `json:"title"`
}

type edge struct {
	ID            string               `json:"id"`
	From          string               `json:"from"`
	To            string               `json:"to"`
	Type          models.EdgeType      `json:"type"`
	RelationType  *models.RelationType `json:"relationType"`
	Bidirectional bool                 `json:"bidirectional"`
	Metadata      edgeMeta             `json:"metadata"`
}

type edgeMeta struct {
	SourceLineNumber int    `json:"sourceLineNumber"`
	Context          string `json:"context"`
}

type metadata struct {
	Version       int                 `json:"version"`
	LastUpdated   time.Time           `json:"lastUpdated"`
	TotalNodes    int                 `json:"totalNodes"`
	TotalEdges    int                 `json:"totalEdges"`
	OrphanedNodes []string            `json:"orphanedNodes"`
	BrokenLinks   []models.BrokenLink `json:"brokenLinks"`
}

// Encode renders g in snapshot form. Output is deterministic for a given
// graph since nodes and edges are already sorted by id.
func Encode(g *models.Graph) ([]byte, error) {
	doc := document{
		Nodes: make([]node, 0, len(g.Nodes)),
		Edges: make([]edge, 0, len(g.Edges)),
		Metadata: metadata{
			Version:       Version,
			LastUpdated:   g.Metadata.LastUpdated,
			TotalNodes:    len(g.Nodes),
			TotalEdges:    len(g.Edges),
			OrphanedNodes: nonNil(g.Metadata.OrphanedNodes),
			BrokenLinks:   nonNil(g.Metadata.BrokenLinks),
		},
	}
	for _, n := range g.Nodes {
		doc.Nodes = append(doc.Nodes, node{
			ID:     n.ID,
			Label:  n.Label,
			Path:   n.ID,
			Exists: n.Exists,
			Metadata: nodeMeta{
				Size:     n.Metadata.SizeBytes,
				Modified: n.Metadata.ModifiedAt,
				Tags:     nonNil(n.Metadata.Tags),
				Title:    n.Metadata.Title,
			},
		})
	}
	for _, e := range g.Edges {
		doc.Edges = append(doc.Edges, edge{
			ID:           e.ID,
			From:         e.From,
			To:           e.To,
			Type:         e.Type,
			RelationType: e.RelationType,
			Metadata: edgeMeta{
				SourceLineNumber: e.Metadata.SourceLine,
				Context:          e.Metadata.Context,
			},
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot and rejects anything that is not a well-formed
// graph with apperr.ErrInvalidSnapshot. The returned graph carries the
// snapshot's lastUpdated; the other derived metadata is left for the caller
// to recompute.
func Decode(data []byte) (*models.Graph, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalid("parse: %v", err)
	}
	if doc.Metadata.Version != Version {
		return nil, invalid("unsupported version %d", doc.Metadata.Version)
	}
	if doc.Nodes == nil || doc.Edges == nil {
		return nil, invalid("nodes and edges arrays are required")
	}

	g := &models.Graph{
		Nodes:    make([]models.Node, 0, len(doc.Nodes)),
		Edges:    make([]models.Edge, 0, len(doc.Edges)),
		Metadata: models.GraphMetadata{LastUpdated: doc.Metadata.LastUpdated},
	}
	seen := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == "" {
			return nil, invalid("node without id")
		}
		if _, dup := seen[n.ID]; dup {
			return nil, invalid("duplicate node %s", n.ID)
		}
		seen[n.ID] = struct{}{}
		g.Nodes = append(g.Nodes, models.NewNode(n.ID, n.Exists, models.NodeMetadata{
			SizeBytes:  n.Metadata.Size,
			ModifiedAt: n.Metadata.Modified,
			Tags:       n.Metadata.Tags,
			Title:      n.Metadata.Title,
		}))
	}
	for _, e := range doc.Edges {
		rel := models.RelationType("")
		if e.RelationType != nil {
			rel = *e.RelationType
		}
		if e.ID != models.EdgeID(e.From, e.To, rel) {
			return nil, invalid("edge id %q does not match its endpoints", e.ID)
		}
		if e.Bidirectional {
			return nil, invalid("edge %s: bidirectional edges are not supported", e.ID)
		}
		g.Edges = append(g.Edges, models.Edge{
			ID:           e.ID,
			From:         e.From,
			To:           e.To,
			Type:         e.Type,
			RelationType: e.RelationType,
			Metadata: models.EdgeMetadata{
				SourceLine: e.Metadata.SourceLineNumber,
				Context:    e.Metadata.Context,
			},
		})
	}

	for _, issue := range validate.Structural(g) {
		// Unknown relations and targets above the root come from user text
		// and survive a reload.
		if issue.Code == validate.CodeInvalidRelation || issue.Code == validate.CodePathTraversal {
			continue
		}
		return nil, invalid("edge %s: %s", issue.EdgeID, issue.Message)
	}
	return g, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("snapshot: %s: %w", fmt.Sprintf(format, args...), apperr.ErrInvalidSnapshot)
}

// IsInvalid reports whether err marks an untrustworthy snapshot.
func IsInvalid(err error) bool {
	return errors.Is(err, apperr.ErrInvalidSnapshot)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
