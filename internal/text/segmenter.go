package text

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// ErrInvalidChunking is returned for window settings that would never advance.
var ErrInvalidChunking = errors.New("invalid chunking configuration")

// Segmenter splits text into overlapping word windows.
type Segmenter struct {
	size    int
	overlap int
}

func NewSegmenter(chunkSize, overlap int) (*Segmenter, error) {
	if err := ValidateChunking(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &Segmenter{size: chunkSize, overlap: overlap}, nil
}

// ValidateChunking checks that a window of chunkSize words advances by a
// positive number of words each step.
func ValidateChunking(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, chunkSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidChunking, overlap)
	}
	if overlap >= chunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidChunking, overlap, chunkSize)
	}
	return nil
}

func (s *Segmenter) ChunkSize() int { return s.size }
func (s *Segmenter) Overlap() int   { return s.overlap }

// Segment returns consecutive windows of at most ChunkSize words. Each window
// starts ChunkSize-Overlap words after the previous one; the final window may
// be shorter.
func (s *Segmenter) Segment(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := s.size - s.overlap
	chunks := make([]string, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := min(start+s.size, len(words))
		chunk := strings.Join(words[start:end], " ")
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
