package markup

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// spaceFolding maps every Unicode space separator (no-break, thin, em and
// the like) to an ASCII space and leaves all other characters alone.
var spaceFolding = runes.Map(func(r rune) rune {
	if r != ' ' && unicode.Is(unicode.Zs, r) {
		return ' '
	}
	return r
})

// skippedElements hold text that is never part of the visible document.
var skippedElements = map[string]bool{
	"script": true,
	"style":  true,
	"head":   true,
}

// PlainText removes every tag from a markup fragment and returns the text
// between them with entities decoded. The fragment does not need to be well
// formed: unbalanced open or close tags are dropped like any other tag.
//
// Decoded no-break spaces and other space separators become plain spaces;
// every other character is kept as written. The result is trimmed of
// surrounding whitespace.
func PlainText(fragment []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(fragment))

	var builder strings.Builder
	builder.Grow(len(fragment) / 2)
	skipDepth := 0

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			// io.EOF, or a read error a bytes.Reader never produces.
			return finishText(builder.String())

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skippedElements[string(name)] {
				skipDepth++
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skippedElements[string(name)] && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth == 0 {
				builder.Write(tokenizer.Text())
			}
		}
	}
}

// PlainTextString is PlainText for string input.
func PlainTextString(fragment string) string {
	return PlainText([]byte(fragment))
}

func finishText(text string) string {
	folded, _, err := transform.String(spaceFolding, text)
	if err != nil {
		folded = text
	}
	return strings.TrimSpace(folded)
}
