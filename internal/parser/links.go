package parser

import (
	"regexp"
	"strings"

	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/pathnorm"
)

// Candidate patterns, all anchored at a '[' position. They are tried in
// order so a typed reference is never re-read as a plain one.
var (
	typedRefRe = regexp.MustCompile(`^\[\[([^\[\]|]+)\|type:([^\[\]|]+)\]\]`)
	plainRefRe = regexp.MustCompile(`^\[\[([^\[\]]+)\]\]`)
	mdLinkRe   = regexp.MustCompile(`^\[([^\[\]]*)\]\(\s*<?([^()\s<>]+)>?(?:\s+"[^"]*")?\s*\)`)
	schemeRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
)

// ExtractLinks scans content line by line and returns every link occurrence
// in document order. Line numbers are 1-based. Links that resolve to
// sourcePath itself or to an empty target are skipped.
func ExtractLinks(sourcePath, content string) []models.Link {
	var out []models.Link
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		for pos := 0; pos < len(line); {
			j := strings.IndexByte(line[pos:], '[')
			if j < 0 {
				break
			}
			pos += j

			link, n, ok := matchAt(sourcePath, line[pos:])
			if !ok {
				pos++
				continue
			}
			pos += n

			if link.To == "" || link.To == sourcePath {
				continue
			}
			link.From = sourcePath
			link.SourceLine = i + 1
			link.Context = strings.TrimSpace(line)
			out = append(out, link)
		}
	}
	return out
}

// matchAt tries each link form at the start of s and returns the link and
// the number of bytes consumed.
func matchAt(sourcePath, s string) (models.Link, int, bool) {
	if strings.HasPrefix(s, "[[") {
		if m := typedRefRe.FindStringSubmatch(s); m != nil {
			return models.Link{
				To:           pathnorm.Normalize(m[1]),
				Type:         models.EdgeTypedReference,
				RelationType: models.RelationType(strings.TrimSpace(m[2])),
				RawMatch:     m[0],
			}, len(m[0]), true
		}
		if m := plainRefRe.FindStringSubmatch(s); m != nil {
			target := m[1]
			// [[target|alias]] points at target.
			if i := strings.IndexByte(target, '|'); i >= 0 {
				target = target[:i]
			}
			return models.Link{
				To:       pathnorm.Normalize(target),
				Type:     models.EdgePlainReference,
				RawMatch: m[0],
			}, len(m[0]), true
		}
	}

	m := mdLinkRe.FindStringSubmatch(s)
	if m == nil {
		return models.Link{}, 0, false
	}
	to, typ, ok := classifyTarget(sourcePath, m[2])
	if !ok {
		return models.Link{}, 0, false
	}
	return models.Link{To: to, Type: typ, RawMatch: m[0]}, len(m[0]), true
}

// classifyTarget resolves a markdown link target. Only targets naming a
// markdown file count; URLs with a scheme never do.
func classifyTarget(sourcePath, target string) (string, models.EdgeType, bool) {
	if schemeRe.MatchString(target) {
		return "", "", false
	}
	if i := strings.IndexAny(target, "#?"); i >= 0 {
		target = target[:i]
	}
	if target == "" || !pathnorm.IsMarkdown(target) {
		return "", "", false
	}

	dir := pathnorm.Dir(sourcePath)
	switch {
	case strings.HasPrefix(target, "./"), strings.HasPrefix(target, "../"):
		return pathnorm.Normalize(pathnorm.Resolve(dir, target)), models.EdgeRelativeLink, true
	case strings.HasPrefix(target, "/"):
		return pathnorm.Normalize(target), models.EdgeAbsoluteLink, true
	case !pathnorm.HasSeparator(target):
		// A bare file name is a sibling of the source.
		return pathnorm.Normalize(pathnorm.Resolve(dir, target)), models.EdgeMarkdownLink, true
	default:
		return pathnorm.Normalize(target), models.EdgeMarkdownLink, true
	}
}
