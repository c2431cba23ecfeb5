package intent

import (
	"context"
	"fmt"

	"fapchat/logger"
	"fapchat/model"
	"fapchat/types"
)

type LocalOptions struct {
	SubjectTopK      int
	SubjectThreshold float64
	EmbeddingWeight  float64
	KeywordWeight    float64
	MinTypeScore     float64
}

func DefaultLocalOptions() LocalOptions {
	return LocalOptions{
		SubjectTopK:      2,
		SubjectThreshold: 0.7,
		EmbeddingWeight:  0.8,
		KeywordWeight:    0.2,
	}
}

// LocalStrategy reads a query without a generative model: translation,
// embedding similarity against the catalog, keyword hits and a fixed table
// of time phrases.
type LocalStrategy struct {
	catalog    *Catalog
	embedder   model.Embedder
	translator Translator
	opts       LocalOptions
	log        *logger.Logger
}

func NewLocalStrategy(catalog *Catalog, emb model.Embedder, tr Translator, opts LocalOptions, log *logger.Logger) *LocalStrategy {
	if log == nil {
		log = logger.Nop()
	}
	return &LocalStrategy{catalog: catalog, embedder: emb, translator: tr, opts: opts, log: log}
}

func (s *LocalStrategy) Source() types.IntentSource { return types.SourceLocal }

func (s *LocalStrategy) Resolve(ctx context.Context, q Query) (types.Intent, error) {
	translated := q.Text
	if s.translator != nil {
		out, used, err := s.translator.Translate(ctx, q.Text)
		if err != nil {
			s.log.Warn("translation failed, using original query", "translator", used, "err", err)
		}
		translated = out
	}

	vec, err := model.EmbedOne(ctx, s.embedder, translated)
	if err != nil {
		return types.Intent{}, fmt.Errorf("embed query: %w", err)
	}

	in := types.NewIntent(translated, types.SourceLocal)
	for _, m := range s.catalog.MatchSubjects(vec, s.opts.SubjectTopK, s.opts.SubjectThreshold) {
		in.SubjectCodes = append(in.SubjectCodes, m.Code)
	}
	if best, ok := s.catalog.BestType(vec, translated, s.opts.EmbeddingWeight, s.opts.KeywordWeight, s.opts.MinTypeScore); ok {
		in.RecordType = best.Type
	}
	in.TimeRange, in.TimePhrase = DetectTimeRange(q.Now, q.Text, translated)

	if term := DetectTerm(q.Text, translated); term != "" {
		in.Term = term
	}
	return in, nil
}
