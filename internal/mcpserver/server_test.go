package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mdlinks/internal/engine"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/testutil"
	"github.com/starford/mdlinks/internal/validate"
)

func testServer(t *testing.T, files map[string]string) (*Server, *engine.Engine) {
	t.Helper()

	root, fs := testutil.TestRoot(t)
	for rel, content := range files {
		testutil.WriteFile(t, root, rel, content)
	}
	eng := engine.New(fs, engine.Options{Logger: testutil.Logger()})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	return New(eng, "test"), eng
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_graph":
		result, err = srv.getGraph(ctx, req)
	case "get_links":
		result, err = srv.getLinks(ctx, req)
	case "add_link":
		result, err = srv.addLink(ctx, req)
	case "remove_link":
		result, err = srv.removeLink(ctx, req)
	case "validate_graph":
		result, err = srv.validateGraph(ctx, req)
	case "get_link_syntax":
		result, err = srv.getLinkSyntax(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestGetGraph(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"a.md": "[[b]]\n",
		"b.md": "plain\n",
	})

	r := callTool(t, srv, "get_graph", nil)
	var g models.Graph
	if err := json.Unmarshal([]byte(resultText(r)), &g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.Metadata.TotalNodes != 2 || g.Metadata.TotalEdges != 1 {
		t.Errorf("metadata = %+v", g.Metadata)
	}
}

func TestGetLinks(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"a.md": "[[b]]\n",
		"b.md": "[[a|type:depends-on]]\n",
	})

	r := callTool(t, srv, "get_links", map[string]interface{}{"path": "a"})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	var links models.FileLinks
	if err := json.Unmarshal([]byte(resultText(r)), &links); err != nil {
		t.Fatal(err)
	}
	if len(links.Outgoing) != 1 || links.Outgoing[0].ID != "a.md->b.md" {
		t.Errorf("outgoing = %+v", links.Outgoing)
	}
	if len(links.Incoming) != 1 || links.Incoming[0].ID != "b.md->a.md:depends-on" {
		t.Errorf("incoming = %+v", links.Incoming)
	}
}

func TestGetLinks_Missing(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "get_links", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for unknown file")
	}
	r = callTool(t, srv, "get_links", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing path argument")
	}
}

func TestAddAndRemoveLink(t *testing.T) {
	srv, eng := testServer(t, map[string]string{
		"a.md": "no links\n",
		"b.md": "no links\n",
	})

	r := callTool(t, srv, "add_link", map[string]interface{}{
		"from":         "a.md",
		"to":           "b.md",
		"type":         "typed-reference",
		"relationType": "implements",
	})
	if r.IsError {
		t.Fatalf("add_link: %s", resultText(r))
	}
	var edge models.Edge
	if err := json.Unmarshal([]byte(resultText(r)), &edge); err != nil {
		t.Fatal(err)
	}
	if edge.ID != "a.md->b.md:implements" {
		t.Errorf("edge id = %q", edge.ID)
	}
	if got := eng.GetLinksForFile("b.md").Incoming; len(got) != 1 {
		t.Fatalf("incoming after add = %+v", got)
	}

	r = callTool(t, srv, "remove_link", map[string]interface{}{
		"from":         "a.md",
		"to":           "b.md",
		"relationType": "implements",
	})
	if text := resultText(r); text != "removed: a.md->b.md:implements" {
		t.Errorf("remove result = %q", text)
	}

	r = callTool(t, srv, "remove_link", map[string]interface{}{"from": "a.md", "to": "b.md"})
	if text := resultText(r); !strings.HasPrefix(text, "no link:") {
		t.Errorf("second remove result = %q", text)
	}
}

func TestAddLink_Invalid(t *testing.T) {
	srv, _ := testServer(t, map[string]string{"a.md": "x\n"})

	cases := []map[string]interface{}{
		{"from": "a.md", "to": "a.md", "type": "plain-reference"},
		{"from": "a.md", "to": "b.md", "type": "typed-reference"},
		{"from": "a.md", "to": "b.md", "type": "bogus"},
		{"from": "a.md", "type": "plain-reference"},
	}
	for _, args := range cases {
		if r := callTool(t, srv, "add_link", args); !r.IsError {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestValidateGraph(t *testing.T) {
	srv, _ := testServer(t, map[string]string{
		"a.md":      "[[missing]]\n",
		"lonely.md": "nothing\n",
	})

	r := callTool(t, srv, "validate_graph", nil)
	var report validate.Report
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.BrokenLinks) != 1 || report.BrokenLinks[0].To != "missing.md" {
		t.Errorf("broken links = %+v", report.BrokenLinks)
	}
	if len(report.Orphans) != 1 || report.Orphans[0] != "lonely.md" {
		t.Errorf("orphans = %+v", report.Orphans)
	}
}

func TestLinkSyntax(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "get_link_syntax", nil)
	if resultText(r) != LinkSyntax {
		t.Error("tool should return the link syntax text")
	}

	contents, err := srv.readLinkSyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != linkSyntaxURI || tc.Text != LinkSyntax {
		t.Errorf("resource = %+v", contents[0])
	}
}
