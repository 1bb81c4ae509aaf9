// Package docx turns reformatted text into a Word (.docx) document.
package docx

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxHeadingLength is the exclusive upper bound, in characters, of a heading line.
	MaxHeadingLength = 100

	HeadingSize  = 32 // half-points
	BodySize     = 24 // half-points
	SpacingAfter = 200

	HeadingStyle = "Heading1"
)

var enumeratorRegex = regexp.MustCompile(`^[0-9.]+\s`)

// Paragraph is a styled paragraph descriptor.
type Paragraph struct {
	Text         string
	Bold         bool
	Size         int
	HeadingLevel int
	SpacingAfter int
}

// IsHeading reports whether a line should render as a heading: it is short and
// either entirely upper-case or starts with a numeric enumerator like "1.2 ".
// Lines without letters count as upper-case. Length is counted in runes.
func IsHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if utf8.RuneCountInString(trimmed) >= MaxHeadingLength {
		return false
	}
	return strings.ToUpper(trimmed) == trimmed || enumeratorRegex.MatchString(trimmed)
}

// Paragraphs splits text on line breaks and classifies every non-blank line.
func Paragraphs(text string) []Paragraph {
	var paragraphs []Paragraph
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		p := Paragraph{
			Text:         trimmed,
			Size:         BodySize,
			SpacingAfter: SpacingAfter,
		}
		if IsHeading(trimmed) {
			p.Bold = true
			p.Size = HeadingSize
			p.HeadingLevel = 1
		}
		paragraphs = append(paragraphs, p)
	}
	return paragraphs
}

// FileName derives the download name for a source file: a trailing ".pdf"
// (any case) is replaced by ".docx".
func FileName(source string) string {
	base := strings.TrimSpace(source)
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if len(base) >= 4 && strings.EqualFold(base[len(base)-4:], ".pdf") {
		base = base[:len(base)-4]
	}
	if base == "" {
		base = "document"
	}
	return base + ".docx"
}
