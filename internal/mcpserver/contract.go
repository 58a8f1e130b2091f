package mcpserver

import "strings"

// linkFormatTemplate describes the rewrite the linkfix tools perform.
// {ext} and {suffix} are filled in from the configured rewriter.
const linkFormatTemplate = `# linkfix Link Format

linkfix converts wikilinks into portable Markdown links.

## Rule

` + "`" + `[[target]]` + "`" + ` becomes ` + "`" + `[target](target{suffix})` + "`" + `.

- The target is copied verbatim into both the label and the destination:
  no case change, no trimming, no percent-encoding, spaces kept.
- A target may not contain ` + "`" + `[` + "`" + `, ` + "`" + `]` + "`" + ` or ` + "`" + `|` + "`" + `. Aliased links such as
  ` + "`" + `[[target|alias]]` + "`" + ` are left untouched.
- ` + "`" + `[[]]` + "`" + ` becomes ` + "`" + `[]({suffix})` + "`" + `.
- Matching runs left to right without overlap; rewritten text is never
  matched again, so running the tool twice changes nothing the second time.
- Text outside a link is kept byte for byte.

## Scope

- Only files ending in ` + "`" + `{ext}` + "`" + ` (case-sensitive) are rewritten.
- Files that are not valid text in the configured encoding are skipped
  and reported.
- A document is written only if its content changed.
- Symbolic links are not followed, and paths through them are refused.

## Example

` + "```" + `markdown
See [[Release Notes]] and [[design|the design]].
` + "```" + `

becomes

` + "```" + `markdown
See [Release Notes](Release Notes{suffix}) and [[design|the design]].
` + "```" + `
`

// LinkFormatContract renders the contract for a document extension and a
// link suffix.
func LinkFormatContract(ext, suffix string) string {
	return strings.NewReplacer("{ext}", ext, "{suffix}", suffix).Replace(linkFormatTemplate)
}
