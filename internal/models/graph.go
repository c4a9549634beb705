// Package models defines the domain types of the link graph.
package models

import (
	"path"
	"strings"
	"time"
)

// EdgeType classifies how a link was written in the source document.
type EdgeType string

const (
	EdgePlainReference EdgeType = "plain-reference"
	EdgeTypedReference EdgeType = "typed-reference"
	EdgeMarkdownLink   EdgeType = "markdown-link"
	EdgeRelativeLink   EdgeType = "relative-link"
	EdgeAbsoluteLink   EdgeType = "absolute-link"
)

// EdgeTypes lists every recognised edge type.
var EdgeTypes = []EdgeType{
	EdgePlainReference,
	EdgeTypedReference,
	EdgeMarkdownLink,
	EdgeRelativeLink,
	EdgeAbsoluteLink,
}

// Valid reports whether t is a recognised edge type.
func (t EdgeType) Valid() bool {
	for _, known := range EdgeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RelationType is the annotation carried by a typed reference.
type RelationType string

const (
	RelationDependsOn  RelationType = "depends-on"
	RelationRelatedTo  RelationType = "related-to"
	RelationImplements RelationType = "implements"
	RelationReferences RelationType = "references"
	RelationExtends    RelationType = "extends"
	RelationSupersedes RelationType = "supersedes"
	RelationParentOf   RelationType = "parent-of"
	RelationChildOf    RelationType = "child-of"
)

// RelationTypes lists every recognised relation.
var RelationTypes = []RelationType{
	RelationDependsOn,
	RelationRelatedTo,
	RelationImplements,
	RelationReferences,
	RelationExtends,
	RelationSupersedes,
	RelationParentOf,
	RelationChildOf,
}

// Valid reports whether r is a recognised relation.
func (r RelationType) Valid() bool {
	for _, known := range RelationTypes {
		if r == known {
			return true
		}
	}
	return false
}

// NodeMetadata describes the file behind a node.
type NodeMetadata struct {
	SizeBytes  int64      `json:"size"`
	ModifiedAt *time.Time `json:"modified"`
	Tags       []string   `json:"tags"`
	Title      *string    `json:"title"`
}

// Node is a markdown file, real or only referenced.
type Node struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Exists   bool         `json:"exists"`
	Metadata NodeMetadata `json:"metadata"`
}

// NewNode returns a node for id with its label derived from the file name.
func NewNode(id string, exists bool, meta NodeMetadata) Node {
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	return Node{ID: id, Label: Label(id), Exists: exists, Metadata: meta}
}

// Label returns the file name of id without its extension.
func Label(id string) string {
	base := path.Base(id)
	return strings.TrimSuffix(base, path.Ext(base))
}

// EdgeMetadata records where a link was found.
type EdgeMetadata struct {
	SourceLine int    `json:"sourceLineNumber"`
	Context    string `json:"context"`
}

// Edge is a directed link between two nodes.
type Edge struct {
	ID           string        `json:"id"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Type         EdgeType      `json:"type"`
	RelationType *RelationType `json:"relationType"`
	Metadata     EdgeMetadata  `json:"metadata"`
}

// Relation returns the relation type or "" when absent.
func (e Edge) Relation() RelationType {
	if e.RelationType == nil {
		return ""
	}
	return *e.RelationType
}

// EdgeID derives the identity of an edge. Two links collapse into one edge
// only when from, to and relation all agree.
func EdgeID(from, to string, rel RelationType) string {
	id := from + "->" + to
	if rel != "" {
		id += ":" + string(rel)
	}
	return id
}

// RelationPtr returns nil for the empty relation.
func RelationPtr(rel RelationType) *RelationType {
	if rel == "" {
		return nil
	}
	return &rel
}

// NewEdge builds an edge with its derived id.
func NewEdge(from, to string, typ EdgeType, rel RelationType, meta EdgeMetadata) Edge {
	return Edge{
		ID:           EdgeID(from, to, rel),
		From:         from,
		To:           to,
		Type:         typ,
		RelationType: RelationPtr(rel),
		Metadata:     meta,
	}
}

// Link is one extracted link occurrence before it is given graph identity.
type Link struct {
	From         string
	To           string
	Type         EdgeType
	RelationType RelationType
	SourceLine   int
	Context      string
	RawMatch     string
}

// Edge converts the link into an edge.
func (l Link) Edge() Edge {
	return NewEdge(l.From, l.To, l.Type, l.RelationType, EdgeMetadata{
		SourceLine: l.SourceLine,
		Context:    l.Context,
	})
}

// BrokenLink summarises an edge whose target does not exist.
type BrokenLink struct {
	EdgeID       string        `json:"edgeId"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Type         EdgeType      `json:"type"`
	RelationType *RelationType `json:"relationType"`
}

// GraphMetadata is derived from nodes and edges; it is never set directly.
type GraphMetadata struct {
	LastUpdated   time.Time    `json:"lastUpdated"`
	TotalNodes    int          `json:"totalNodes"`
	TotalEdges    int          `json:"totalEdges"`
	OrphanedNodes []string     `json:"orphanedNodes"`
	BrokenLinks   []BrokenLink `json:"brokenLinks"`
}

// Graph is a point-in-time copy of the link graph. Nodes and edges are
// sorted by id.
type Graph struct {
	Nodes    []Node        `json:"nodes"`
	Edges    []Edge        `json:"edges"`
	Metadata GraphMetadata `json:"metadata"`
}

// FileLinks holds the edges touching one file.
type FileLinks struct {
	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`
}

// ScanEntry is one markdown file found by a directory scan.
type ScanEntry struct {
	Path     string    `json:"path"`
	FullPath string    `json:"fullPath"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}
