package passage

import (
	"strings"
	"time"

	"docsearch/apps/backend/internal/text"
)

// Document is the input to Build: a named source and its extracted pages in
// ascending page order.
type Document struct {
	Name  string
	Title string
	Size  int64
	Pages []Page
}

type Builder struct {
	segmenter *text.Segmenter
	now       func() time.Time
}

func NewBuilder(segmenter *text.Segmenter) *Builder {
	return &Builder{segmenter: segmenter, now: time.Now}
}

// Build segments every page and tags each chunk. Chunk-level category and
// version fall back to the values computed over the whole document.
func (b *Builder) Build(doc Document) []Passage {
	if len(doc.Pages) == 0 {
		return nil
	}

	title := doc.Title
	if title == "" {
		title = TitleFromName(doc.Name)
	}

	all := make([]string, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		all = append(all, p.Text)
	}
	joined := strings.Join(all, " ")
	docVersion := text.DetectVersion(joined)
	docCategory := text.Categorize(joined)

	processedAt := b.now().UTC().Format(time.RFC3339)

	var out []Passage
	for _, page := range doc.Pages {
		chunks := b.segmenter.Segment(page.Text)
		for i, chunk := range chunks {
			category := text.Categorize(chunk)
			if category == text.CategoryGeneral {
				category = docCategory
			}
			version := text.DetectVersion(chunk)
			if version == text.UnknownVersion {
				version = docVersion
			}

			out = append(out, Passage{
				ID:       PassageID(doc.Name, page.Number, i),
				Content:  chunk,
				Source:   doc.Name,
				Page:     page.Number,
				Section:  text.ExtractSectionTitle(chunk),
				Title:    title,
				Category: category,
				Version:  version,
				Tags:     text.ExtractTags(chunk),
				Metadata: map[string]any{
					KeyFileSize:    doc.Size,
					KeyProcessedAt: processedAt,
					KeyChunkIndex:  int64(i),
					KeyTotalChunks: int64(len(chunks)),
				},
			})
		}
	}
	return out
}
