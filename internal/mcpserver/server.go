// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the link graph to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mdlinks/internal/engine"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/validate"
)

const linkSyntaxURI = "mdlinks://link-syntax"

// Graph is the engine surface used by the tools.
type Graph interface {
	GetGraph() *models.Graph
	GetLinksForFile(path string) models.FileLinks
	Node(path string) (models.Node, error)
	AddLink(ctx context.Context, req engine.LinkRequest) (models.Edge, error)
	RemoveLink(ctx context.Context, from, to string, rel models.RelationType) (bool, error)
	Validate() validate.Report
}

var _ Graph = (*engine.Engine)(nil)

// Server wraps the MCP server with the link graph tools.
type Server struct {
	mcp   *server.MCPServer
	graph Graph
}

// New creates a new MCP server with all tools registered.
func New(g Graph, version string) *Server {
	s := &Server{graph: g}

	s.mcp = server.NewMCPServer(
		"mdlinks",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Return every node and edge of the link graph with summary metadata."),
	), s.getGraph)

	s.mcp.AddTool(mcp.NewTool("get_links",
		mcp.WithDescription("List the outgoing and incoming links of one markdown file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the root (e.g. docs/intro.md)")),
	), s.getLinks)

	s.mcp.AddTool(mcp.NewTool("add_link",
		mcp.WithDescription("Add a link between two files without editing either file. "+
			"Read the link syntax first via get_link_syntax or the "+linkSyntaxURI+" resource."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target file path")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Edge type, e.g. plain-reference or typed-reference")),
		mcp.WithString("relationType", mcp.Description("Relation, required for typed-reference (e.g. depends-on)")),
	), s.addLink)

	s.mcp.AddTool(mcp.NewTool("remove_link",
		mcp.WithDescription("Remove the link identified by source, target and relation."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target file path")),
		mcp.WithString("relationType", mcp.Description("Relation of a typed reference, empty otherwise")),
	), s.removeLink)

	s.mcp.AddTool(mcp.NewTool("validate_graph",
		mcp.WithDescription("Check the graph for broken links, orphaned files, cycles and structural errors."),
	), s.validateGraph)

	s.mcp.AddTool(mcp.NewTool("get_link_syntax",
		mcp.WithDescription("Describe the link forms recognised in markdown files and how targets resolve."),
	), s.getLinkSyntax)

	s.mcp.AddResource(
		mcp.NewResource(linkSyntaxURI, "Link Syntax",
			mcp.WithResourceDescription("Link forms recognised in markdown files."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.graph.GetGraph())
}

func (s *Server) getLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.graph.Node(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return jsonResult(s.graph.GetLinksForFile(path))
}

func (s *Server) addLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	edge, err := s.graph.AddLink(ctx, engine.LinkRequest{
		From:         from,
		To:           to,
		Type:         models.EdgeType(typ),
		RelationType: models.RelationType(req.GetString("relationType", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(edge)
}

func (s *Server) removeLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel := models.RelationType(req.GetString("relationType", ""))

	removed, err := s.graph.RemoveLink(ctx, from, to, rel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !removed {
		return mcp.NewToolResultText(fmt.Sprintf("no link: %s", models.EdgeID(from, to, rel))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed: %s", models.EdgeID(from, to, rel))), nil
}

func (s *Server) validateGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.graph.Validate())
}

func (s *Server) getLinkSyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LinkSyntax), nil
}

func (s *Server) readLinkSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      linkSyntaxURI,
			MIMEType: "text/markdown",
			Text:     LinkSyntax,
		},
	}, nil
}
