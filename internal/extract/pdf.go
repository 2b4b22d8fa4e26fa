// Package extract pulls per-page text out of PDF documents.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"docsearch/apps/backend/internal/passage"
)

var ErrUnreadable = errors.New("unreadable pdf")

// gapFactor is the horizontal gap, relative to font size, read as a space
// between two text runs on the same row.
const gapFactor = 0.2

type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract returns the non-empty pages of the document in page order. Lines
// are rebuilt from text rows, top to bottom.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []passage.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrUnreadable, i, err)
		}
		text := rowsToText(rows)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, passage.Page{Number: i, Text: text})
	}
	return pages, nil
}

func rowsToText(rows pdf.Rows) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var b strings.Builder
		for j, t := range row.Content {
			if j > 0 {
				prev := row.Content[j-1]
				if prev.W > 0 && t.X-(prev.X+prev.W) > prev.FontSize*gapFactor &&
					!strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(t.S, " ") {
					b.WriteByte(' ')
				}
			}
			b.WriteString(t.S)
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
