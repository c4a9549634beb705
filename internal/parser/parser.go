// Package parser extracts links, frontmatter, and tags from Markdown content.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/mdlinks/internal/models"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []models.Link
	Tags        []string
	Title       *string
}

// Parse extracts frontmatter, tags, title, and links from raw Markdown bytes.
// sourcePath is the normalised id of the document and becomes the origin of
// every extracted link. Links are read from the full text, frontmatter
// included, so line numbers match the file on disk.
func Parse(sourcePath string, data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       ExtractLinks(sourcePath, string(data)),
		Tags:        extractTags(body, fm),
	}
	if title := deriveTitle(fm, body); title != "" {
		res.Title = &title
	}
	return res, nil
}

// Metadata converts the parse result into node metadata for a file of the
// given size.
func (r *Result) Metadata(size int64) models.NodeMetadata {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.NodeMetadata{SizeBytes: size, Tags: tags, Title: r.Title}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the whole file is body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractTags collects tags from the frontmatter "tags" field, then inline
// #tags from the body, without duplicates.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	if fm != nil {
		switch v := fm["tags"].(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
