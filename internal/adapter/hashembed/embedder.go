// Package hashembed provides a deterministic local embedder that needs no
// model download or network access.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const (
	DefaultDimensions = 384
	trigramWeight     = 0.5
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "using": {}, "with": {},
}

// Embedder hashes word tokens and their character trigrams into a fixed
// number of buckets and L2-normalises the counts.
type Embedder struct {
	dims int
}

func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

func (e *Embedder) Dimensions() int { return e.dims }

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	acc := make([]float64, e.dims)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		acc[e.bucket(tok)]++
		padded := []rune("^" + tok + "$")
		for i := 0; i+3 <= len(padded); i++ {
			acc[e.bucket(string(padded[i:i+3]))] += trigramWeight
		}
	}

	var sum float64
	for _, v := range acc {
		sum += v * v
	}
	vec := make([]float32, e.dims)
	if sum == 0 {
		return vec
	}
	n := math.Sqrt(sum)
	for i, v := range acc {
		vec[i] = float32(v / n)
	}
	return vec
}

func (e *Embedder) bucket(feature string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum32() % uint32(e.dims))
}
