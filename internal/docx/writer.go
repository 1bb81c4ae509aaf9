package docx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/gomutex/godocx"
)

// ContentType is the media type of a .docx package.
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Assembler builds .docx documents from reformatted text with godocx.
type Assembler struct{}

// Assemble classifies the lines of text and returns the encoded document.
// The title is carried by the download name only.
func (a *Assembler) Assemble(ctx context.Context, _ string, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	for _, para := range Paragraphs(text) {
		p := doc.AddEmptyParagraph()
		if para.HeadingLevel > 0 {
			p.Style(HeadingStyle)
		}
		run := p.AddText(para.Text)
		// godocx takes points; descriptors carry half-points.
		run.Size(uint64(para.Size / 2))
		if para.Bold {
			run.Bold(true)
		}
	}

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return buf.Bytes(), nil
}
