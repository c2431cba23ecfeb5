package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"fapchat/intent"
	"fapchat/logger"
	"fapchat/model"
	"fapchat/store"
	"fapchat/types"
)

var ErrEmptyQuery = errors.New("missing query")

// Searcher is the read side of store.Index.
type Searcher interface {
	Search(ctx context.Context, req store.SearchRequest) ([]types.ScoredDocument, error)
}

type IntentResolver interface {
	Resolve(ctx context.Context, q intent.Query) types.Intent
	Catalog() *intent.Catalog
}

type Options struct {
	Limit          int
	Overfetch      int
	ScoreThreshold float64
}

func DefaultOptions() Options {
	return Options{Limit: 10, Overfetch: 2}
}

type Request struct {
	Query   string
	OwnerID string
	History []types.Turn
}

// Orchestrator answers one query end to end: intent, filter, search,
// optional re-rank and optional synthesis.
type Orchestrator struct {
	resolver IntentResolver
	embedder model.Embedder
	index    Searcher
	reranker *Reranker
	synth    *Synthesizer
	opts     Options
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithReranker enables re-ranking; nil leaves it off.
func WithReranker(r *Reranker) Option { return func(o *Orchestrator) { o.reranker = r } }

// WithSynthesizer enables answer synthesis; nil leaves it off.
func WithSynthesizer(s *Synthesizer) Option { return func(o *Orchestrator) { o.synth = s } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(resolver IntentResolver, emb model.Embedder, index Searcher, opts Options, log *logger.Logger, options ...Option) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}
	if opts.Overfetch < 1 {
		opts.Overfetch = 1
	}
	o := &Orchestrator{
		resolver: resolver,
		embedder: emb,
		index:    index,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Handle never returns a nil Results slice. The error is only set for a
// blank query; every other failure is reported through Status.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*types.QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	log := o.log.With("owner_id", req.OwnerID)

	in := o.resolver.Resolve(ctx, intent.Query{Text: query, History: req.History, Now: o.now()})
	res := &types.QueryResult{Intent: in, Results: []types.RankedResult{}}
	if !in.Resolvable() {
		log.Info("query unresolved", "invalid", in.Invalid)
		res.Status = types.StatusUnresolved
		return res, nil
	}

	text := in.TranslatedQuery
	if o.resolver.Catalog().UsesOriginalQuery(in.RecordType) {
		text = query
	}
	vec, err := model.EmbedOne(ctx, o.embedder, text)
	if err != nil {
		log.Error("embed query failed", "err", err)
		res.Status = types.StatusSearchFailed
		return res, nil
	}

	fetch := o.opts.Limit
	if o.reranker != nil {
		fetch *= o.opts.Overfetch
	}
	hits, err := o.index.Search(ctx, store.SearchRequest{
		Vector:         vec,
		Filter:         BuildFilter(in, req.OwnerID),
		Limit:          fetch,
		ScoreThreshold: o.opts.ScoreThreshold,
	})
	if err != nil {
		log.Error("search failed", "err", err)
		res.Status = types.StatusSearchFailed
		return res, nil
	}

	hits = dedupe(hits)
	if len(hits) == 0 {
		res.Status = types.StatusNoResults
		return res, nil
	}

	if o.reranker != nil {
		reranked, err := o.reranker.Rerank(ctx, query, hits, o.opts.Limit)
		if err != nil {
			log.Warn("rerank failed, keeping similarity order", "err", err)
		} else {
			hits = reranked
		}
	}
	if len(hits) > o.opts.Limit {
		hits = hits[:o.opts.Limit]
	}
	for i, h := range hits {
		res.Results = append(res.Results, types.RankedResult{Rank: i + 1, Score: h.Score, Document: h.Document})
	}
	res.Status = types.StatusOK

	if o.synth != nil {
		summary, err := o.synth.Synthesize(ctx, query, res.Results)
		if err != nil {
			log.Warn("synthesis failed", "err", err)
			res.Summary = SynthesisFallback
			res.SynthesisFailed = true
		} else {
			res.Summary = summary
		}
	}

	log.Info("query handled",
		"status", res.Status,
		"strategy", in.Source,
		"results", len(res.Results))
	return res, nil
}

// BuildFilter scopes the search to ownerID plus shared records. An empty
// ownerID sees shared records only.
func BuildFilter(in types.Intent, ownerID string) types.Filter {
	f := types.Filter{Owner: &types.OwnerScope{OwnerID: ownerID, IncludeShared: true}}
	if in.RecordType != "" {
		f.Must = append(f.Must, types.Match(types.FieldRecordType, string(in.RecordType)))
	}
	if in.TimeRange != nil {
		f.Must = append(f.Must, types.Between(types.FieldDateKey, in.TimeRange.StartKey(), in.TimeRange.EndKey()))
	}
	for _, code := range in.SubjectCodes {
		f.Should = append(f.Should, types.Match(types.FieldSubjectCode, code))
	}
	if in.Term != "" {
		f.Should = append(f.Should, types.Match(types.FieldTerm, in.Term))
	}
	return f
}

func dedupe(hits []types.ScoredDocument) []types.ScoredDocument {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		key := h.Document.OwnerID + "|" + h.Document.ContentHash
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}
