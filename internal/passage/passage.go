// Package passage turns extracted document pages into metadata-tagged
// retrieval units with stable identifiers.
package passage

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"docsearch/apps/backend/internal/text"
)

// Index metadata keys.
const (
	KeySource   = "source"
	KeyPage     = "page"
	KeySection  = "section"
	KeyTitle    = "title"
	KeyCategory = "category"
	KeyVersion  = "version"
	KeyTags     = "tags"

	KeyFileSize    = "file_size"
	KeyProcessedAt = "processed_at"
	KeyChunkIndex  = "chunk_index"
	KeyTotalChunks = "total_chunks"
)

var namedKeys = map[string]struct{}{
	KeySource: {}, KeyPage: {}, KeySection: {}, KeyTitle: {},
	KeyCategory: {}, KeyVersion: {}, KeyTags: {},
}

// Page is the text of one 1-based page.
type Page struct {
	Number int
	Text   string
}

type Passage struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Page     int            `json:"page"`
	Section  string         `json:"section"`
	Title    string         `json:"title"`
	Category text.Category  `json:"category"`
	Version  string         `json:"version"`
	Tags     []string       `json:"tags"`
	Metadata map[string]any `json:"metadata"`
}

// PassageID derives the identifier of a chunk from its position in a document.
func PassageID(name string, page, chunkIndex int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d_%d", name, page, chunkIndex)))
	return hex.EncodeToString(sum[:])
}

// TitleFromName turns "rhel-9-networking-guide.pdf" into "Rhel 9 Networking Guide".
func TitleFromName(name string) string {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.ReplaceAll(stem, "-", " ")

	var b strings.Builder
	prevCased := false
	for _, r := range stem {
		if prevCased {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToTitle(r))
		}
		prevCased = unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
	}
	return b.String()
}

// IndexMetadata flattens the passage into scalar values suitable for a
// vector index. Tags are stored as a JSON array string.
func (p Passage) IndexMetadata() map[string]any {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)

	md := make(map[string]any, len(p.Metadata)+len(namedKeys))
	for k, v := range p.Metadata {
		md[k] = v
	}
	md[KeySource] = p.Source
	md[KeyPage] = int64(p.Page)
	md[KeySection] = p.Section
	md[KeyTitle] = p.Title
	md[KeyCategory] = string(p.Category)
	md[KeyVersion] = p.Version
	md[KeyTags] = string(encoded)
	return md
}

// FromIndex rebuilds a passage from index metadata. Keys that are not
// passage fields end up in Metadata.
func FromIndex(id, content string, md map[string]any) Passage {
	p := Passage{
		ID:       id,
		Content:  content,
		Source:   stringValue(md[KeySource]),
		Page:     int(IntValue(md[KeyPage])),
		Section:  stringValue(md[KeySection]),
		Title:    stringValue(md[KeyTitle]),
		Category: text.Category(stringValue(md[KeyCategory])),
		Version:  stringValue(md[KeyVersion]),
		Tags:     decodeTags(md[KeyTags]),
		Metadata: make(map[string]any),
	}
	for k, v := range md {
		if _, ok := namedKeys[k]; !ok {
			p.Metadata[k] = v
		}
	}
	return p
}

func decodeTags(v any) []string {
	tags := []string{}
	switch t := v.(type) {
	case string:
		_ = json.Unmarshal([]byte(t), &tags)
	case []string:
		tags = append(tags, t...)
	}
	return tags
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// IntValue accepts the numeric shapes produced by Go code and JSON decoding.
func IntValue(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, _ := n.Float64()
			return int64(f)
		}
		return i
	}
	return 0
}
