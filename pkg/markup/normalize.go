// Package markup turns raw filing markup into the single-line form that the
// boundary rules are written against, and strips markup down to plain text.
package markup

import (
	"bytes"
	"regexp"
)

var (
	// spaceEscapes are the HTML escapes filings use for a plain space.
	spaceEscapes = [][]byte{[]byte("&nbsp;"), []byte("&#160;")}

	// repeatedSpacePattern matches runs of two or more spaces.
	repeatedSpacePattern = regexp.MustCompile(` {2,}`)
)

// Normalize collapses a raw document into one whitespace-normalized line.
//
// In order: surrounding whitespace is trimmed, line feeds become spaces,
// carriage returns are dropped, &nbsp; and &#160; become spaces, and runs of
// spaces collapse to one. Whitespace exposed at either end by those steps is
// trimmed as well, so Normalize(Normalize(x)) == Normalize(x).
func Normalize(document []byte) []byte {
	normalized := bytes.TrimSpace(document)
	normalized = bytes.ReplaceAll(normalized, []byte("\n"), []byte(" "))
	normalized = bytes.ReplaceAll(normalized, []byte("\r"), nil)
	for _, escape := range spaceEscapes {
		normalized = bytes.ReplaceAll(normalized, escape, []byte(" "))
	}
	normalized = repeatedSpacePattern.ReplaceAllLiteral(normalized, []byte(" "))
	return bytes.TrimSpace(normalized)
}

// NormalizeString is Normalize for string input.
func NormalizeString(document string) string {
	return string(Normalize([]byte(document)))
}
