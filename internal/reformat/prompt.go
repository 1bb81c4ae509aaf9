package reformat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

// --- Reformatter Model Prompts ---
const SystemPrompt = "You are a document conversion expert. You restructure raw text extracted from a PDF into a clean, coherent document suitable for Microsoft Word (.docx). Preserving the original language and every piece of information is of utmost importance."
const UserPrompt = `Reformat the raw content extracted from a PDF below into a coherent, well-structured text with headings, paragraphs and lists, suitable for a Microsoft Word (.docx) file.

Follow these rules:
1.  Keep the original language of the content. Do not translate.
2.  Do not drop important information. Remove only page markers such as "[Trang 3]" and obvious extraction noise.
3.  Put every heading and every paragraph on its own line. Write top-level headings in upper case or start them with their section number (e.g. "1. Introduction").
4.  Return only the reformatted content, without preambles or Markdown code fences.

Extracted content:`

const (
	// DefaultPageMarker is the format of the tag placed before each page's text.
	DefaultPageMarker = "[Trang %d]"
	// DefaultMaxChars bounds the extracted text sent in one request.
	DefaultMaxChars = 30000

	contentDelimiter = "---"
)

// CombinePages prefixes every page with its page marker and joins the pages
// with a blank line, keeping page order.
func CombinePages(pages []models.ExtractedPage, marker string) string {
	if marker == "" {
		marker = DefaultPageMarker
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf(marker, p.PageNumber)+"\n"+p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Truncate returns at most maxChars characters of s without splitting a
// multi-byte character. maxChars <= 0 disables truncation.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// BuildPrompt renders the request text for one run: the task instruction
// followed by the truncated, delimited page content.
func BuildPrompt(pages []models.ExtractedPage, marker string, maxChars int) string {
	content := Truncate(CombinePages(pages, marker), maxChars)
	return UserPrompt + "\n" + contentDelimiter + "\n" + content + "\n" + contentDelimiter
}
