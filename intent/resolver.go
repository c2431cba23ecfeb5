package intent

import (
	"context"
	"strings"
	"time"

	"fapchat/logger"
	"fapchat/types"
)

type Query struct {
	Text    string
	History []types.Turn
	Now     time.Time
}

// Strategy is one way of reading a query. An error hands the query to the
// next strategy in the chain.
type Strategy interface {
	Source() types.IntentSource
	Resolve(ctx context.Context, q Query) (types.Intent, error)
}

// Translator is the translation capability, see model.TranslatorChain.
type Translator interface {
	Translate(ctx context.Context, text string) (string, string, error)
}

type Resolver struct {
	catalog    *Catalog
	strategies []Strategy
	log        *logger.Logger
}

// NewResolver chains strategies in order. Nil strategies are skipped and a
// DefaultStrategy is appended when the chain does not already end with one.
func NewResolver(catalog *Catalog, log *logger.Logger, strategies ...Strategy) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	chain := make([]Strategy, 0, len(strategies)+1)
	for _, s := range strategies {
		if s != nil {
			chain = append(chain, s)
		}
	}
	if len(chain) == 0 || chain[len(chain)-1].Source() != types.SourceDefault {
		chain = append(chain, NewDefaultStrategy(nil))
	}
	return &Resolver{catalog: catalog, strategies: chain, log: log}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Resolve always returns an intent. Values outside the catalog are moved to
// Invalid.
func (r *Resolver) Resolve(ctx context.Context, q Query) types.Intent {
	if q.Now.IsZero() {
		q.Now = time.Now()
	}
	for _, s := range r.strategies {
		in, err := s.Resolve(ctx, q)
		if err != nil {
			r.log.Warn("intent strategy failed, falling back", "strategy", s.Source(), "err", err)
			continue
		}
		in.Source = s.Source()
		r.validate(&in, q)
		r.log.Debug("intent resolved",
			"strategy", in.Source,
			"record_type", in.RecordType,
			"subjects", in.SubjectCodes,
			"term", in.Term,
			"time_phrase", in.TimePhrase,
			"invalid", len(in.Invalid))
		return in
	}
	// Unreachable while the chain ends with DefaultStrategy.
	return types.NewIntent(q.Text, types.SourceDefault)
}

func (r *Resolver) validate(in *types.Intent, q Query) {
	if strings.TrimSpace(in.TranslatedQuery) == "" {
		in.TranslatedQuery = q.Text
	}

	if in.RecordType != "" {
		if _, ok := r.catalog.RecordType(in.RecordType); !ok {
			in.Invalid = append(in.Invalid, types.InvalidField{Field: types.FieldRecordType, Value: string(in.RecordType)})
			in.RecordType = ""
		}
	}

	subjects := make([]string, 0, len(in.SubjectCodes))
	seen := map[string]bool{}
	for _, code := range in.SubjectCodes {
		if strings.TrimSpace(code) == "" {
			continue
		}
		sub, ok := r.catalog.Subject(code)
		if !ok {
			in.Invalid = append(in.Invalid, types.InvalidField{Field: types.FieldSubjectCode, Value: code})
			continue
		}
		if !seen[sub.Code] {
			seen[sub.Code] = true
			subjects = append(subjects, sub.Code)
		}
	}
	in.SubjectCodes = subjects

	if in.Term != "" {
		term, ok := r.catalog.Term(in.Term)
		if !ok {
			in.Invalid = append(in.Invalid, types.InvalidField{Field: types.FieldTerm, Value: in.Term})
			in.Term = ""
		} else {
			in.Term = term.Code
		}
	}

	if in.TimeRange != nil && in.TimeRange.End.Before(in.TimeRange.Start) {
		in.TimeRange = nil
		in.TimePhrase = ""
	}
}

// DefaultStrategy yields the translated query alone. It never fails.
type DefaultStrategy struct {
	translator Translator
}

func NewDefaultStrategy(t Translator) *DefaultStrategy {
	return &DefaultStrategy{translator: t}
}

func (s *DefaultStrategy) Source() types.IntentSource { return types.SourceDefault }

func (s *DefaultStrategy) Resolve(ctx context.Context, q Query) (types.Intent, error) {
	text := q.Text
	if s.translator != nil {
		text, _, _ = s.translator.Translate(ctx, q.Text)
	}
	return types.NewIntent(text, types.SourceDefault), nil
}
