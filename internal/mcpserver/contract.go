package mcpserver

// LinkSyntax describes the link forms recognised when markdown files are
// scanned. LLM consumers should read it before adding links by hand.
const LinkSyntax = `# Link Syntax

Every markdown file under the root is a node. Links between files are edges.

## Recognised forms

| Form | Example | Edge type |
|------|---------|-----------|
| Plain reference | ` + "`[[target]]`" + ` | plain-reference |
| Typed reference | ` + "`[[target|type:depends-on]]`" + ` | typed-reference |
| Markdown link | ` + "`[label](notes/target.md)`" + ` | markdown-link |
| Relative link | ` + "`[label](./target.md)`, `[label](../target.md)`" + ` | relative-link |
| Absolute link | ` + "`[label](/docs/target.md)`" + ` | absolute-link |

## Resolution

1. Bracket references resolve from the root, not from the linking file's
   directory. ` + "`.md`" + ` is appended when missing.
2. Markdown and relative links resolve against the linking file's directory.
3. Absolute links resolve from the root.
4. Links to URLs, fragments and non-markdown files are ignored.
5. A file never links to itself.

## Relation types

Typed references carry one of:
depends-on, related-to, implements, references, extends, supersedes,
parent-of, child-of.

## Identity

An edge id is ` + "`from->to`" + `, or ` + "`from->to:relation`" + ` for typed
references. Repeating the same link in one file yields one edge. Links to
files that do not exist create placeholder nodes and are reported as broken.

## Manual links

` + "`add_link`" + ` inserts an edge without editing any file. The edge lasts until
its source file is next reprocessed, which replaces every outgoing edge of
that file with the links found in its text.
`
