package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// QueryInstruction is prepended to every text before it is embedded, for
// documents and queries alike.
const QueryInstruction = "Represent this sentence for searching relevant passages: "

var ErrEmbeddingCount = errors.New("embedding count does not match input count")

// Embedder turns texts into one vector each, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// PrefixedEmbedder adds the instruction prefix and returns unit-length
// vectors.
type PrefixedEmbedder struct {
	Inner  Embedder
	Prefix string
}

func NewPrefixedEmbedder(inner Embedder) *PrefixedEmbedder {
	return &PrefixedEmbedder{Inner: inner, Prefix: QueryInstruction}
}

func (e *PrefixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	in := make([]string, len(texts))
	for i, t := range texts {
		in[i] = e.Prefix + t
	}
	vecs, err := e.Inner.Embed(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingCount, len(vecs), len(texts))
	}
	for i := range vecs {
		vecs[i] = Normalize(vecs[i])
	}
	return vecs, nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d, want 1", ErrEmbeddingCount, len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatched splits texts into batches of batchSize and embeds up to
// parallelism batches at once. The result keeps input order.
func EmbedBatched(ctx context.Context, e Embedder, texts []string, batchSize, parallelism int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for start := 0; start < len(texts); start += batchSize {
		start := start
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.Embed(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingCount, len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize scales vec to unit length in place. A zero vector is returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = float32(float64(x) / norm)
	}
	return vec
}
