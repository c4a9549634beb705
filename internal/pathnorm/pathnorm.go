// Package pathnorm canonicalises file references so that extracted links and
// directory scans agree on node identity.
package pathnorm

import (
	"path"
	"strings"
)

// DefaultExt is appended to references written without an extension.
const DefaultExt = ".md"

var markdownExts = []string{".md", ".markdown"}

// Normalize turns a raw reference into a node id: trim, strip one leading
// separator, add DefaultExt when there is no extension, then use forward
// slashes throughout. ".." segments are left in place for validation to
// report. An empty or whitespace-only target normalises to "".
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if s[0] == '/' || s[0] == '\\' {
		s = s[1:]
	}
	if s == "" {
		return ""
	}
	if ext(s) == "" {
		s += DefaultExt
	}
	return strings.ReplaceAll(s, "\\", "/")
}

// ext returns the extension of the last segment, treating both separators
// as segment boundaries.
func ext(s string) string {
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	return path.Ext(s)
}

// IsMarkdown reports whether target names a markdown file.
func IsMarkdown(target string) bool {
	e := strings.ToLower(ext(target))
	for _, m := range markdownExts {
		if e == m {
			return true
		}
	}
	return false
}

// Dir returns the directory of a node id, "" for files at the root.
func Dir(id string) string {
	d := path.Dir(id)
	if d == "." {
		return ""
	}
	return d
}

// Resolve joins target onto dir and cleans "." and ".." segments. A result
// that climbs above the root keeps its leading "..".
func Resolve(dir, target string) string {
	target = strings.ReplaceAll(strings.TrimSpace(target), "\\", "/")
	return path.Join(dir, target)
}

// HasTraversal reports whether id contains a ".." segment.
func HasTraversal(id string) bool {
	for _, seg := range strings.Split(id, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// HasSeparator reports whether target contains a path separator.
func HasSeparator(target string) bool {
	return strings.ContainsAny(target, `/\`)
}
