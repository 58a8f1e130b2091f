// Package wikilink rewrites [[target]] wikilinks into portable Markdown links.
package wikilink

import (
	"regexp"
	"strings"
)

// DefaultSuffix is appended to the target to form the link destination.
const DefaultSuffix = ".md"

// wikilinkRe matches two opening brackets, a run of characters other than
// '[', ']' and '|', and two closing brackets. The run may be empty.
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]*)\]\]`)

// Rewriter converts wikilinks using a fixed destination suffix.
type Rewriter struct {
	suffix string
	repl   string
}

// New returns a Rewriter that appends suffix to every link destination.
func New(suffix string) Rewriter {
	// $ in the suffix would be read as a template reference.
	escaped := strings.ReplaceAll(suffix, "$", "$$")
	return Rewriter{
		suffix: suffix,
		repl:   "[${1}](${1}" + escaped + ")",
	}
}

// Suffix returns the destination suffix.
func (r Rewriter) Suffix() string {
	return r.suffix
}

// Transform replaces every wikilink in content in a single left-to-right
// pass. Text outside a match is left untouched and replaced output is
// never rescanned.
func (r Rewriter) Transform(content string) string {
	if !strings.Contains(content, "[[") {
		return content
	}
	return wikilinkRe.ReplaceAllString(content, r.repl)
}

var defaultRewriter = New(DefaultSuffix)

// Transform rewrites content with the default ".md" suffix.
func Transform(content string) string {
	return defaultRewriter.Transform(content)
}

// Targets returns the captured target of every wikilink in content, in
// order of appearance. Duplicates are kept.
func Targets(content string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Count returns how many wikilinks Transform would rewrite.
func Count(content string) int {
	return len(wikilinkRe.FindAllStringIndex(content, -1))
}
