package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mdlinks/internal/apperr"
	"github.com/starford/mdlinks/internal/checksum"
	"github.com/starford/mdlinks/internal/models"
)

const stateChecksum = "graph_checksum"

// Save replaces the mirrored graph with g inside one transaction. It is a
// no-op when the content of g matches what was last mirrored.
func (db *DB) Save(ctx context.Context, g *models.Graph) error {
	sum, err := checksum.Graph(g)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	prev, err := db.Checksum(ctx)
	if err != nil {
		return err
	}
	if prev == sum {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return fmt.Errorf("index: clear edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("index: clear nodes: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, label, on_disk, size_bytes, modified, title, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for _, n := range g.Nodes {
		tags, _ := json.Marshal(n.Metadata.Tags)
		if _, err := nodeStmt.ExecContext(ctx,
			n.ID, n.Label, n.Exists, n.Metadata.SizeBytes,
			nullTime(n.Metadata.ModifiedAt), nullString(n.Metadata.Title), string(tags),
		); err != nil {
			return fmt.Errorf("index: insert node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (id, source, target, type, relation, source_line, context)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range g.Edges {
		var rel sql.NullString
		if e.RelationType != nil {
			rel = sql.NullString{String: string(*e.RelationType), Valid: true}
		}
		if _, err := edgeStmt.ExecContext(ctx,
			e.ID, e.From, e.To, string(e.Type), rel, e.Metadata.SourceLine, e.Metadata.Context,
		); err != nil {
			return fmt.Errorf("index: insert edge %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mirror_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, stateChecksum, sum); err != nil {
		return fmt.Errorf("index: record checksum: %w", err)
	}
	return tx.Commit()
}

// Checksum returns the digest of the last mirrored graph, or "" if nothing
// has been mirrored yet.
func (db *DB) Checksum(ctx context.Context) (string, error) {
	var sum string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM mirror_state WHERE key = ?`, stateChecksum).Scan(&sum)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: checksum: %w", err)
	}
	return sum, nil
}

// Node returns the mirrored node with the given id.
func (db *DB) Node(ctx context.Context, id string) (models.Node, error) {
	var (
		n        models.Node
		modified sql.NullTime
		title    sql.NullString
		tags     string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, label, on_disk, size_bytes, modified, title, tags
		FROM nodes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Label, &n.Exists, &n.Metadata.SizeBytes, &modified, &title, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Node{}, fmt.Errorf("index: node %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Node{}, fmt.Errorf("index: node %s: %w", id, err)
	}
	if modified.Valid {
		t := modified.Time.UTC()
		n.Metadata.ModifiedAt = &t
	}
	if title.Valid {
		n.Metadata.Title = &title.String
	}
	n.Metadata.Tags = []string{}
	_ = json.Unmarshal([]byte(tags), &n.Metadata.Tags)
	return n, nil
}

// Backlinks returns every mirrored edge pointing at target.
func (db *DB) Backlinks(ctx context.Context, target string) ([]models.Edge, error) {
	return db.edges(ctx, `WHERE target = ? ORDER BY id`, target)
}

// Outgoing returns every mirrored edge leaving source.
func (db *DB) Outgoing(ctx context.Context, source string) ([]models.Edge, error) {
	return db.edges(ctx, `WHERE source = ? ORDER BY id`, source)
}

// Counts returns the number of mirrored nodes and edges.
func (db *DB) Counts(ctx context.Context) (nodes, edges int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM nodes), (SELECT count(*) FROM edges)`,
	).Scan(&nodes, &edges)
	if err != nil {
		return 0, 0, fmt.Errorf("index: counts: %w", err)
	}
	return nodes, edges, nil
}

func (db *DB) edges(ctx context.Context, where string, args ...any) ([]models.Edge, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, target, type, relation, source_line, context
		FROM edges `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query edges: %w", err)
	}
	defer rows.Close()

	out := []models.Edge{}
	for rows.Next() {
		var (
			e   models.Edge
			typ string
			rel sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.From, &e.To, &typ, &rel, &e.Metadata.SourceLine, &e.Metadata.Context); err != nil {
			return nil, err
		}
		e.Type = models.EdgeType(typ)
		if rel.Valid {
			e.RelationType = models.RelationPtr(models.RelationType(rel.String))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
