// Package pdftext extracts per-page plain text from PDF bytes.
//
// pdfcpu validates the file and reports the page count up front;
// github.com/ledongthuc/pdf supplies each page's text fragments in
// content-stream order. No layout reconstruction is attempted.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

func init() {
	// Cloud Functions only allow writes under /tmp.
	api.DisableConfigDir()
}

// ErrExtraction marks every failure of the extraction stage.
var ErrExtraction = errors.New("pdf text extraction failed")

// pageSource is the parser view the extraction loop needs.
type pageSource interface {
	NumPage() int
	Fragments(pageNumber int) ([]string, error)
}

// Extractor turns PDF bytes into ordered pages.
type Extractor struct {
	logger *slog.Logger
	open   func(data []byte) (pageSource, error)
}

// NewExtractor returns an Extractor backed by pdfcpu and ledongthuc/pdf.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, open: openDocument}
}

// Extract returns one page per PDF page, numbered 1..N, and calls progress
// after each page with a non-decreasing percentage that ends at 100.
func (e *Extractor) Extract(ctx context.Context, data []byte, progress func(percent int)) ([]models.ExtractedPage, error) {
	src, err := e.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	numPages := src.NumPage()
	e.logger.Debug("Extracting text.", "pageCount", numPages)

	pages := make([]models.ExtractedPage, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
		}

		fragments, err := src.Fragments(i)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrExtraction, i, err)
		}
		pages = append(pages, models.ExtractedPage{
			PageNumber: i,
			Text:       strings.Join(fragments, " "),
		})

		if progress != nil {
			progress(int(math.Round(float64(i) * 100 / float64(numPages))))
		}
	}
	return pages, nil
}

type document struct {
	reader *pdf.Reader
}

func openDocument(data []byte) (pageSource, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return nil, fmt.Errorf("failed to validate PDF: %w", err)
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	if n := reader.NumPage(); n != pageCount {
		return nil, fmt.Errorf("page count mismatch: validator reports %d, parser reports %d", pageCount, n)
	}
	return &document{reader: reader}, nil
}

func (d *document) NumPage() int {
	return d.reader.NumPage()
}

// Fragments returns the page's non-blank text fragments, one per text-showing
// operator, in content-stream order. The parser panics on some malformed
// content streams; that is reported as an error.
func (d *document) Fragments(pageNumber int) (fragments []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			fragments = nil
			err = fmt.Errorf("malformed page content: %v", r)
		}
	}()

	page := d.reader.Page(pageNumber)
	if page.V.IsNull() {
		return nil, nil
	}

	// Font resource names are scoped to the page.
	encoders := make(map[string]pdf.TextEncoding)
	encoderFor := func(name string) pdf.TextEncoding {
		if enc, ok := encoders[name]; ok {
			return enc
		}
		var enc pdf.TextEncoding
		if font := page.Font(name); !font.V.IsNull() {
			enc = font.Encoder()
		}
		encoders[name] = enc
		return enc
	}

	var enc pdf.TextEncoding
	emit := func(raw string) {
		text := raw
		if enc != nil {
			text = enc.Decode(raw)
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			fragments = append(fragments, trimmed)
		}
	}

	interpret := func(strm pdf.Value) {
		pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
			args := make([]pdf.Value, stk.Len())
			for i := len(args) - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}
			if len(args) == 0 {
				return
			}
			last := args[len(args)-1]

			switch op {
			case "Tf":
				if len(args) == 2 {
					enc = encoderFor(args[0].Name())
				}
			case "Tj", "'", "\"":
				if last.Kind() == pdf.String {
					emit(last.RawString())
				}
			case "TJ":
				var raw strings.Builder
				for i := 0; i < last.Len(); i++ {
					if el := last.Index(i); el.Kind() == pdf.String {
						raw.WriteString(el.RawString())
					}
				}
				emit(raw.String())
			}
		})
	}

	contents := page.V.Key("Contents")
	switch contents.Kind() {
	case pdf.Null:
		return nil, nil
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			interpret(contents.Index(i))
		}
	default:
		interpret(contents)
	}
	return fragments, nil
}
