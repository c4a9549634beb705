package parser

import (
	"testing"

	"github.com/starford/mdlinks/internal/models"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - graph\n---\n# Hello\nBody text.\n")
	r, err := Parse("hello.md", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title == nil || *r.Title != "Hello" {
		t.Errorf("title = %v, want Hello", r.Title)
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "graph" {
		t.Errorf("tags = %v, want [go graph]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoTitle(t *testing.T) {
	r, err := Parse("plain.md", []byte("just text\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != nil {
		t.Errorf("expected nil title, got %q", *r.Title)
	}
	meta := r.Metadata(10)
	if meta.Tags == nil || len(meta.Tags) != 0 {
		t.Errorf("tags = %#v, want empty non-nil", meta.Tags)
	}
	if meta.SizeBytes != 10 {
		t.Errorf("size = %d", meta.SizeBytes)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	r, err := Parse("x.md", []byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestParse_LinkLinesCountFrontmatter(t *testing.T) {
	input := []byte("---\ntitle: T\n---\n\nSee [[other]].\n")
	r, _ := Parse("a.md", input)
	if len(r.Links) != 1 {
		t.Fatalf("links = %+v", r.Links)
	}
	if r.Links[0].SourceLine != 5 {
		t.Errorf("line = %d, want 5", r.Links[0].SourceLine)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{"tags": []any{"alpha"}}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := deriveTitle(map[string]any{"title": "FM Title"}, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	if title := deriveTitle(nil, "some text\n# My Heading\nmore"); title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestExtractLinks_AllForms(t *testing.T) {
	content := "[[plain]]\n" +
		"[[design|type:implements]]\n" +
		"[md](other.md)\n" +
		"[rel](./sib.md) [up](../top.md)\n" +
		"[abs](/root/page.md)\n" +
		"[deep](notes/x.md)\n"
	links := ExtractLinks("docs/a.md", content)

	want := []struct {
		to  string
		typ models.EdgeType
		rel models.RelationType
		ln  int
	}{
		{"plain.md", models.EdgePlainReference, "", 1},
		{"design.md", models.EdgeTypedReference, models.RelationImplements, 2},
		{"docs/other.md", models.EdgeMarkdownLink, "", 3},
		{"docs/sib.md", models.EdgeRelativeLink, "", 4},
		{"top.md", models.EdgeRelativeLink, "", 4},
		{"root/page.md", models.EdgeAbsoluteLink, "", 5},
		{"notes/x.md", models.EdgeMarkdownLink, "", 6},
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links, want %d: %+v", len(links), len(want), links)
	}
	for i, w := range want {
		l := links[i]
		if l.From != "docs/a.md" || l.To != w.to || l.Type != w.typ || l.RelationType != w.rel || l.SourceLine != w.ln {
			t.Errorf("link %d = %+v, want %+v", i, l, w)
		}
	}
}

func TestExtractLinks_TypedNotDoubleCounted(t *testing.T) {
	links := ExtractLinks("a.md", "x [[b|type:depends-on]] y")
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	if links[0].Type != models.EdgeTypedReference || links[0].RawMatch != "[[b|type:depends-on]]" {
		t.Errorf("link = %+v", links[0])
	}
}

func TestExtractLinks_BracketRefsNotDirectoryResolved(t *testing.T) {
	links := ExtractLinks("deep/dir/a.md", "[[b]] and [b](b.md)")
	if len(links) != 2 {
		t.Fatalf("links = %+v", links)
	}
	if links[0].To != "b.md" {
		t.Errorf("bracket ref to = %q, want b.md", links[0].To)
	}
	if links[1].To != "deep/dir/b.md" {
		t.Errorf("markdown link to = %q, want deep/dir/b.md", links[1].To)
	}
}

func TestExtractLinks_LineNumbersWithBlankLines(t *testing.T) {
	content := "\n\n[[a]]\n\n\r\n[[b]]"
	links := ExtractLinks("src.md", content)
	if len(links) != 2 || links[0].SourceLine != 3 || links[1].SourceLine != 6 {
		t.Errorf("links = %+v", links)
	}
	if links[1].Context != "[[b]]" {
		t.Errorf("context = %q", links[1].Context)
	}
}

func TestExtractLinks_SkipsSelfAndNonMarkdown(t *testing.T) {
	content := "[[src]] [self](src.md) [img](pic.png) [web](https://example.com/x.md) [[ ]] [anchor](#top)"
	if links := ExtractLinks("src.md", content); len(links) != 0 {
		t.Errorf("expected no links, got %+v", links)
	}
}

func TestExtractLinks_AliasAndFragment(t *testing.T) {
	links := ExtractLinks("a.md", `[[target|Shown]] [s](sec.md#part "Title")`)
	if len(links) != 2 {
		t.Fatalf("links = %+v", links)
	}
	if links[0].To != "target.md" || links[0].Type != models.EdgePlainReference {
		t.Errorf("alias link = %+v", links[0])
	}
	if links[1].To != "sec.md" {
		t.Errorf("fragment link = %+v", links[1])
	}
}

func TestExtractLinks_UnknownRelationKept(t *testing.T) {
	links := ExtractLinks("a.md", "[[b|type:blocks]]")
	if len(links) != 1 || links[0].RelationType != "blocks" {
		t.Fatalf("links = %+v", links)
	}
}

func TestExtractLinks_DuplicatesReported(t *testing.T) {
	links := ExtractLinks("a.md", "[[b]]\n[[b]]")
	if len(links) != 2 {
		t.Fatalf("expected both occurrences, got %+v", links)
	}
	if links[0].Edge().ID != links[1].Edge().ID {
		t.Error("duplicate occurrences should share an edge id")
	}
}
