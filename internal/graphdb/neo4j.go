// Package graphdb mirrors the link graph into Neo4j so it can be explored
// with Cypher.
package graphdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/starford/mdlinks/internal/models"
)

const (
	upsertNodesCypher = `
UNWIND $nodes AS n
MERGE (d:Document {id: n.id})
SET d.label = n.label, d.exists = n.exists, d.size = n.size,
    d.modified = n.modified, d.title = n.title, d.tags = n.tags`

	pruneNodesCypher = `
MATCH (d:Document) WHERE NOT d.id IN $ids
DETACH DELETE d`

	upsertEdgesCypher = `
UNWIND $edges AS e
MATCH (a:Document {id: e.from}), (b:Document {id: e.to})
MERGE (a)-[l:LINKS_TO {id: e.id}]->(b)
SET l.type = e.type, l.relation = e.relation, l.line = e.line, l.context = e.context`

	pruneEdgesCypher = `
MATCH (:Document)-[l:LINKS_TO]->(:Document) WHERE NOT l.id IN $ids
DELETE l`

	backlinksCypher = `
MATCH (a:Document)-[l:LINKS_TO]->(:Document {id: $id})
RETURN a.id AS source ORDER BY source`
)

// Config holds the Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
}

// Repository mirrors graphs into Neo4j.
type Repository struct {
	driver neo4j.DriverWithContext
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphdb: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graphdb: connectivity: %w", err)
	}
	return &Repository{driver: driver}, nil
}

// Name identifies the mirror in logs.
func (r *Repository) Name() string {
	return "neo4j"
}

// Save makes the Neo4j graph match g: documents and links are merged by id
// and anything no longer present is removed, all in one transaction.
func (r *Repository) Save(ctx context.Context, g *models.Graph) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	nodes, nodeIDs := nodeParams(g.Nodes)
	edges, edgeIDs := edgeParams(g.Edges)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			cypher string
			params map[string]any
		}{
			{upsertNodesCypher, map[string]any{"nodes": nodes}},
			{upsertEdgesCypher, map[string]any{"edges": edges}},
			{pruneEdgesCypher, map[string]any{"ids": edgeIDs}},
			{pruneNodesCypher, map[string]any{"ids": nodeIDs}},
		}
		for _, s := range steps {
			if _, err := tx.Run(ctx, s.cypher, s.params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graphdb: save: %w", err)
	}
	return nil
}

// Backlinks returns the ids of documents linking to id.
func (r *Repository) Backlinks(ctx context.Context, id string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, backlinksCypher, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		sources := []string{}
		for records.Next(ctx) {
			s, _ := records.Record().Get("source")
			if str, ok := s.(string); ok {
				sources = append(sources, str)
			}
		}
		return sources, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graphdb: backlinks: %w", err)
	}
	return result.([]string), nil
}

// Close releases the driver.
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// nodeParams converts nodes into Cypher parameter maps. Nullable fields
// become nil so Neo4j drops the property.
func nodeParams(nodes []models.Node) ([]map[string]any, []string) {
	params := make([]map[string]any, 0, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		var modified, title any
		if n.Metadata.ModifiedAt != nil {
			modified = n.Metadata.ModifiedAt.UTC().Format(time.RFC3339Nano)
		}
		if n.Metadata.Title != nil {
			title = *n.Metadata.Title
		}
		tags := n.Metadata.Tags
		if tags == nil {
			tags = []string{}
		}
		params = append(params, map[string]any{
			"id":       n.ID,
			"label":    n.Label,
			"exists":   n.Exists,
			"size":     n.Metadata.SizeBytes,
			"modified": modified,
			"title":    title,
			"tags":     tags,
		})
		ids = append(ids, n.ID)
	}
	return params, ids
}

func edgeParams(edges []models.Edge) ([]map[string]any, []string) {
	params := make([]map[string]any, 0, len(edges))
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		var rel any
		if e.RelationType != nil {
			rel = string(*e.RelationType)
		}
		params = append(params, map[string]any{
			"id":       e.ID,
			"from":     e.From,
			"to":       e.To,
			"type":     string(e.Type),
			"relation": rel,
			"line":     int64(e.Metadata.SourceLine),
			"context":  e.Metadata.Context,
		})
		ids = append(ids, e.ID)
	}
	return params, ids
}
