// Package validate checks a graph snapshot for integrity problems. All
// functions are read-only and independent of each other.
package validate

import (
	"fmt"
	"sort"

	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/pathnorm"
)

// Issue codes. Errors make a graph invalid; warnings are advisory.
const (
	CodeInvalidType        = "invalid-edge-type"
	CodeInvalidRelation    = "invalid-relation"
	CodeMissingRelation    = "missing-relation"
	CodeUnexpectedRelation = "unexpected-relation"
	CodeSelfLink           = "self-link"
	CodeSelfLoop           = "self-loop"
	CodePathTraversal      = "path-traversal"
	CodeDanglingEdge       = "dangling-edge"
	CodeMalformedEdge      = "malformed-edge"

	CodeBrokenLink = "broken-link"
	CodeOrphan     = "orphan"
	CodeCycle      = "cycle"
)

// Issue is one validation finding.
type Issue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	EdgeID  string   `json:"edgeId,omitempty"`
	NodeID  string   `json:"nodeId,omitempty"`
	Path    []string `json:"path,omitempty"`
}

// Cycle is a sequence of node ids where each links to the next and the last
// links back to the first.
type Cycle struct {
	Path     []string `json:"path"`
	SelfLoop bool     `json:"selfLoop"`
}

// Report is the combined result of every check.
type Report struct {
	Valid       bool                `json:"valid"`
	Errors      []Issue             `json:"errors"`
	Warnings    []Issue             `json:"warnings"`
	BrokenLinks []models.BrokenLink `json:"brokenLinks"`
	Orphans     []string            `json:"orphanedNodes"`
	Cycles      []Cycle             `json:"cycles"`
}

// Run performs all checks. Structural problems and self-loops are errors;
// broken links, orphans and cycles are warnings.
func Run(g *models.Graph) Report {
	r := Report{
		Errors:      Structural(g),
		Warnings:    []Issue{},
		BrokenLinks: BrokenLinks(g),
		Orphans:     Orphans(g),
		Cycles:      Cycles(g),
	}

	for _, b := range r.BrokenLinks {
		r.Warnings = append(r.Warnings, Issue{
			Code:    CodeBrokenLink,
			Message: fmt.Sprintf("%s links to missing file %s", b.From, b.To),
			EdgeID:  b.EdgeID,
		})
	}
	for _, id := range r.Orphans {
		r.Warnings = append(r.Warnings, Issue{
			Code:    CodeOrphan,
			Message: fmt.Sprintf("%s has no links", id),
			NodeID:  id,
		})
	}
	for _, c := range r.Cycles {
		if c.SelfLoop {
			r.Errors = append(r.Errors, Issue{
				Code:    CodeSelfLoop,
				Message: fmt.Sprintf("%s links to itself", c.Path[0]),
				NodeID:  c.Path[0],
				Path:    c.Path,
			})
			continue
		}
		r.Warnings = append(r.Warnings, Issue{
			Code:    CodeCycle,
			Message: fmt.Sprintf("cycle of %d files starting at %s", len(c.Path), c.Path[0]),
			Path:    c.Path,
		})
	}

	r.Valid = len(r.Errors) == 0
	return r
}

// BrokenLinks returns every edge whose target is missing on disk.
func BrokenLinks(g *models.Graph) []models.BrokenLink {
	exists := existence(g)
	out := []models.BrokenLink{}
	for _, e := range g.Edges {
		if exists[e.To] {
			continue
		}
		out = append(out, models.BrokenLink{
			EdgeID:       e.ID,
			From:         e.From,
			To:           e.To,
			Type:         e.Type,
			RelationType: e.RelationType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out
}

// Orphans returns the sorted ids of nodes that no edge touches.
func Orphans(g *models.Graph) []string {
	linked := make(map[string]struct{}, len(g.Edges)*2)
	for _, e := range g.Edges {
		linked[e.From] = struct{}{}
		linked[e.To] = struct{}{}
	}
	out := []string{}
	for _, n := range g.Nodes {
		if _, ok := linked[n.ID]; !ok {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Cycles runs a depth-first search from every unvisited node in id order and
// records a cycle each time the search reaches a node already on the
// recursion stack. A self-loop yields a cycle of length one.
func Cycles(g *models.Graph) []Cycle {
	adj := make(map[string][]string)
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		ids[e.From] = struct{}{}
		ids[e.To] = struct{}{}
	}
	for from, tos := range adj {
		adj[from] = dedupeSorted(tos)
	}
	order := make([]string, 0, len(ids))
	for id := range ids {
		order = append(order, id)
	}
	sort.Strings(order)

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(order))
	var stack []string
	cycles := []Cycle{}

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch state[next] {
			case onStack:
				start := len(stack) - 1
				for stack[start] != next {
					start--
				}
				path := append([]string(nil), stack[start:]...)
				cycles = append(cycles, Cycle{Path: path, SelfLoop: len(path) == 1})
			case unvisited:
				visit(next)
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, id := range order {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles
}

// Structural checks every edge for malformed fields: unknown type or
// relation, a relation on an untyped edge or none on a typed one, a
// self-link, a ".." segment in an endpoint, or an endpoint with no node.
func Structural(g *models.Graph) []Issue {
	known := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		known[n.ID] = struct{}{}
	}

	issues := []Issue{}
	add := func(code string, e models.Edge, format string, args ...any) {
		issues = append(issues, Issue{Code: code, Message: fmt.Sprintf(format, args...), EdgeID: e.ID})
	}

	for _, e := range g.Edges {
		if e.ID == "" || e.From == "" || e.To == "" {
			add(CodeMalformedEdge, e, "edge %q is missing an id or endpoint", e.ID)
			continue
		}
		if !e.Type.Valid() {
			add(CodeInvalidType, e, "unknown edge type %q", e.Type)
		}
		switch rel := e.Relation(); {
		case rel != "" && !rel.Valid():
			add(CodeInvalidRelation, e, "unknown relation %q", rel)
		case rel != "" && e.Type != models.EdgeTypedReference:
			add(CodeUnexpectedRelation, e, "relation %q on %s edge", rel, e.Type)
		case rel == "" && e.Type == models.EdgeTypedReference:
			add(CodeMissingRelation, e, "typed reference without relation")
		}
		if e.From == e.To {
			add(CodeSelfLink, e, "%s links to itself", e.From)
		}
		for _, end := range []string{e.From, e.To} {
			if pathnorm.HasTraversal(end) {
				add(CodePathTraversal, e, "%s escapes the root directory", end)
			}
			if _, ok := known[end]; !ok {
				add(CodeDanglingEdge, e, "endpoint %s has no node", end)
			}
		}
	}
	return issues
}

func existence(g *models.Graph) map[string]bool {
	out := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = n.Exists
	}
	return out
}

func dedupeSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}
