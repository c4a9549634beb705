// Package graph holds the in-memory link graph and its mutation operations.
//
// Store is the single owner of graph state. Every mutation takes the write
// lock for its whole duration; Snapshot and the other readers take the read
// lock. After any exported method returns, every edge endpoint has a node
// record.
package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starford/mdlinks/internal/apperr"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/validate"
)

// FileExtraction is the per-file input to FullRebuild.
type FileExtraction struct {
	Entry    models.ScanEntry
	Metadata models.NodeMetadata
	Edges    []models.Edge
	// Err marks a file that could not be read or parsed. Its previous node
	// and outgoing edges are kept as they were.
	Err error
}

// Store is a concurrency-safe in-memory graph.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]models.Node
	edges   map[string]models.Edge
	out     map[string]map[string]struct{} // from -> edge ids
	in      map[string]map[string]struct{} // to -> edge ids
	updated time.Time
	now     func() time.Time

	// seq counts per-file updates; changed records the seq of the latest
	// ApplyFile or MarkNotExists for each path. Neither is reset by
	// FullRebuild or Load.
	seq     uint64
	changed map[string]uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{now: time.Now, changed: make(map[string]uint64)}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.nodes = make(map[string]models.Node)
	s.edges = make(map[string]models.Edge)
	s.out = make(map[string]map[string]struct{})
	s.in = make(map[string]map[string]struct{})
}

func (s *Store) touch() {
	s.updated = s.now().UTC()
}

func (s *Store) markChanged(id string) {
	s.seq++
	s.changed[id] = s.seq
}

// Mark returns the current per-file update sequence. Passing it to
// FullRebuild protects files updated after the mark from extractions read
// before their update.
func (s *Store) Mark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// UpsertNode creates or updates a node. It never deletes anything.
func (s *Store) UpsertNode(id string, exists bool, meta models.NodeMetadata) models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := models.NewNode(id, exists, meta)
	s.nodes[id] = n
	s.touch()
	return cloneNode(n)
}

// EnsureNode creates a placeholder node (exists=false) for id if it has no
// record yet. It reports whether a node was created.
func (s *Store) EnsureNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := s.ensureNode(id)
	if created {
		s.touch()
	}
	return created
}

func (s *Store) ensureNode(id string) bool {
	if _, ok := s.nodes[id]; ok {
		return false
	}
	s.nodes[id] = models.NewNode(id, false, models.NodeMetadata{})
	return true
}

// ReplaceOutgoingEdges swaps every edge leaving from for edges. All edges
// must originate at from. Self-links are dropped, and of several edges with
// the same id only the first is kept. Targets without a node get a
// placeholder. It returns the number of edges inserted.
func (s *Store) ReplaceOutgoingEdges(from string, edges []models.Edge) (int, error) {
	for _, e := range edges {
		if e.From != from {
			return 0, fmt.Errorf("graph: edge %s does not originate at %s: %w", e.ID, from, apperr.ErrInvalidEdge)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureNode(from)
	n := s.replaceOutgoing(from, edges)
	s.touch()
	return n, nil
}

// ApplyFile records the on-disk state of one file: the node is upserted
// with exists=true and its outgoing edges are replaced, under a single lock.
func (s *Store) ApplyFile(id string, meta models.NodeMetadata, edges []models.Edge) (int, error) {
	for _, e := range edges {
		if e.From != id {
			return 0, fmt.Errorf("graph: edge %s does not originate at %s: %w", e.ID, id, apperr.ErrInvalidEdge)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[id] = models.NewNode(id, true, meta)
	n := s.replaceOutgoing(id, edges)
	s.markChanged(id)
	s.touch()
	return n, nil
}

func (s *Store) replaceOutgoing(from string, edges []models.Edge) int {
	s.dropOutgoing(from)
	n := 0
	for _, e := range edges {
		if e.From == e.To {
			continue
		}
		if _, dup := s.edges[e.ID]; dup {
			continue
		}
		s.insertEdge(e)
		n++
	}
	return n
}

// MarkNotExists flags id as missing on disk and removes its outgoing edges.
// The node itself stays so incoming edges keep a target. It reports whether
// the node was known.
func (s *Store) MarkNotExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	n.Exists = false
	s.nodes[id] = n
	s.dropOutgoing(id)
	s.markChanged(id)
	s.touch()
	return true
}

// AddEdge inserts e unless an edge with the same id exists, in which case
// the existing edge is returned and created is false.
func (s *Store) AddEdge(e models.Edge) (edge models.Edge, created bool, err error) {
	if e.From == "" || e.To == "" {
		return models.Edge{}, false, fmt.Errorf("graph: edge endpoints required: %w", apperr.ErrInvalidEdge)
	}
	if e.From == e.To {
		return models.Edge{}, false, fmt.Errorf("graph: %s: %w", e.From, apperr.ErrSelfLink)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.edges[e.ID]; ok {
		return cloneEdge(existing), false, nil
	}
	s.ensureNode(e.From)
	s.insertEdge(e)
	s.touch()
	return cloneEdge(e), true, nil
}

// RemoveEdge deletes the edge with the given id and reports whether it
// existed. Both endpoint nodes stay.
func (s *Store) RemoveEdge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[id]
	if !ok {
		return false
	}
	s.deleteEdge(e)
	s.touch()
	return true
}

// FullRebuild discards the graph and derives it again from a directory scan
// and the extraction of each scanned file. Files updated through ApplyFile
// or MarkNotExists after since keep their live node and outgoing edges,
// whether or not the scan saw them.
func (s *Store) FullRebuild(since uint64, files []FileExtraction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevNodes, prevEdges, prevOut := s.nodes, s.edges, s.out
	s.reset()

	keepLive := func(id string) bool {
		if s.changed[id] <= since {
			return false
		}
		_, ok := prevNodes[id]
		return ok
	}
	prevOutgoing := func(id string) []models.Edge {
		edges := make([]models.Edge, 0, len(prevOut[id]))
		for eid := range prevOut[id] {
			edges = append(edges, prevEdges[eid])
		}
		sortEdges(edges)
		return edges
	}

	// Nodes first so that scanned files are never overwritten by a
	// placeholder created for an edge target.
	scanned := make(map[string]struct{}, len(files))
	for _, f := range files {
		id := f.Entry.Path
		scanned[id] = struct{}{}
		if f.Err != nil || keepLive(id) {
			if prev, ok := prevNodes[id]; ok {
				s.nodes[id] = prev
				continue
			}
		}
		meta := f.Metadata
		meta.SizeBytes = f.Entry.Size
		if !f.Entry.Modified.IsZero() {
			mod := f.Entry.Modified.UTC()
			meta.ModifiedAt = &mod
		}
		s.nodes[id] = models.NewNode(id, true, meta)
	}
	var unscanned []string
	for id := range s.changed {
		if _, ok := scanned[id]; !ok && keepLive(id) {
			s.nodes[id] = prevNodes[id]
			unscanned = append(unscanned, id)
		}
	}
	sort.Strings(unscanned)

	insert := func(from string, edges []models.Edge) {
		for _, e := range edges {
			if e.From != from || e.From == e.To {
				continue
			}
			if _, dup := s.edges[e.ID]; dup {
				continue
			}
			s.insertEdge(e)
		}
	}
	for _, f := range files {
		id := f.Entry.Path
		if f.Err != nil || keepLive(id) {
			insert(id, prevOutgoing(id))
			continue
		}
		insert(id, f.Edges)
	}
	for _, id := range unscanned {
		insert(id, prevOutgoing(id))
	}
	s.touch()
}

// Load replaces the graph with the nodes and edges of g. Edge endpoints
// without a node get a placeholder.
func (s *Store) Load(g *models.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	for _, n := range g.Nodes {
		s.nodes[n.ID] = cloneNode(n)
	}
	for _, e := range g.Edges {
		if e.From == e.To {
			continue
		}
		s.ensureNode(e.From)
		s.insertEdge(cloneEdge(e))
	}
	s.updated = g.Metadata.LastUpdated
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return models.Node{}, false
	}
	return cloneNode(n), true
}

// LinksFor returns the edges leaving and entering id, sorted by id.
func (s *Store) LinksFor(id string) models.FileLinks {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := models.FileLinks{
		Outgoing: make([]models.Edge, 0, len(s.out[id])),
		Incoming: make([]models.Edge, 0, len(s.in[id])),
	}
	for eid := range s.out[id] {
		links.Outgoing = append(links.Outgoing, cloneEdge(s.edges[eid]))
	}
	for eid := range s.in[id] {
		links.Incoming = append(links.Incoming, cloneEdge(s.edges[eid]))
	}
	sortEdges(links.Outgoing)
	sortEdges(links.Incoming)
	return links
}

// Snapshot returns a deep copy of the graph with freshly computed metadata.
func (s *Store) Snapshot() *models.Graph {
	s.mu.RLock()
	g := &models.Graph{
		Nodes: make([]models.Node, 0, len(s.nodes)),
		Edges: make([]models.Edge, 0, len(s.edges)),
	}
	for _, n := range s.nodes {
		g.Nodes = append(g.Nodes, cloneNode(n))
	}
	for _, e := range s.edges {
		g.Edges = append(g.Edges, cloneEdge(e))
	}
	updated := s.updated
	s.mu.RUnlock()

	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sortEdges(g.Edges)
	g.Metadata = models.GraphMetadata{
		LastUpdated:   updated,
		TotalNodes:    len(g.Nodes),
		TotalEdges:    len(g.Edges),
		OrphanedNodes: validate.Orphans(g),
		BrokenLinks:   validate.BrokenLinks(g),
	}
	return g
}

func (s *Store) insertEdge(e models.Edge) {
	s.ensureNode(e.To)
	s.edges[e.ID] = e
	addIndex(s.out, e.From, e.ID)
	addIndex(s.in, e.To, e.ID)
}

func (s *Store) deleteEdge(e models.Edge) {
	delete(s.edges, e.ID)
	removeIndex(s.out, e.From, e.ID)
	removeIndex(s.in, e.To, e.ID)
}

func (s *Store) dropOutgoing(from string) {
	for eid := range s.out[from] {
		e := s.edges[eid]
		delete(s.edges, eid)
		removeIndex(s.in, e.To, eid)
	}
	delete(s.out, from)
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, key, id string) {
	set := idx[key]
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortEdges(edges []models.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
}

func cloneNode(n models.Node) models.Node {
	out := n
	out.Metadata.Tags = append([]string{}, n.Metadata.Tags...)
	if n.Metadata.ModifiedAt != nil {
		t := *n.Metadata.ModifiedAt
		out.Metadata.ModifiedAt = &t
	}
	if n.Metadata.Title != nil {
		title := *n.Metadata.Title
		out.Metadata.Title = &title
	}
	return out
}

func cloneEdge(e models.Edge) models.Edge {
	out := e
	if e.RelationType != nil {
		rel := *e.RelationType
		out.RelationType = &rel
	}
	return out
}
