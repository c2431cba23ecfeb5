package store

import (
	"context"
	"fmt"
	"time"

	"fapchat/logger"
	"fapchat/retry"
	"fapchat/types"

	"github.com/google/uuid"
)

const (
	DefaultBatchSize   = 100
	DefaultPageSize    = 1000
	DefaultCallTimeout = 30 * time.Second
)

// Index is the embedding index used by ingestion and search. It adds
// dedup, batching and retries on top of a Backend.
type Index struct {
	backend   Backend
	policy    retry.Policy
	batchSize int
	pageSize  int
	timeout   time.Duration
	log       *logger.Logger
}

type Option func(*Index)

func WithRetryPolicy(p retry.Policy) Option {
	return func(i *Index) { i.policy = p }
}

func WithBatchSize(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func WithPageSize(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.pageSize = n
		}
	}
}

// WithCallTimeout bounds each backend attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(i *Index) {
		if d > 0 {
			i.timeout = d
		}
	}
}

func NewIndex(backend Backend, log *logger.Logger, opts ...Option) *Index {
	if log == nil {
		log = logger.Nop()
	}
	idx := &Index{
		backend:   backend,
		policy:    retry.Default(),
		batchSize: DefaultBatchSize,
		pageSize:  DefaultPageSize,
		timeout:   DefaultCallTimeout,
		log:       log,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.policy.Retryable == nil {
		idx.policy.Retryable = IsTransient
	}
	return idx
}

func (i *Index) Backend() Backend { return i.backend }

func (i *Index) EnsureCollection(ctx context.Context, dim int, metric Distance) error {
	_, err := i.do(ctx, "ensure_collection", func(ctx context.Context) error {
		return i.backend.EnsureCollection(ctx, dim, metric)
	})
	return err
}

// ExistingHashes pages through every point in scope and returns the set of
// stored content hashes.
func (i *Index) ExistingHashes(ctx context.Context, scope HashScope) (map[string]struct{}, error) {
	hashes := make(map[string]struct{})
	cursor := ""
	for {
		var (
			page []HashEntry
			next string
		)
		_, err := i.do(ctx, "scroll", func(ctx context.Context) error {
			var err error
			page, next, err = i.backend.ScrollHashes(ctx, scope, cursor, i.pageSize)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("scroll hashes (%s): %w", scope, err)
		}
		for _, e := range page {
			hashes[e.Hash] = struct{}{}
		}
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}
	return hashes, nil
}

type BatchFailure struct {
	Batch    int
	Size     int
	Attempts int
	Err      error
}

type UpsertReport struct {
	Submitted int
	Skipped   int
	Written   int
	Failed    []BatchFailure
}

func (r UpsertReport) FailedDocs() int {
	n := 0
	for _, f := range r.Failed {
		n += f.Size
	}
	return n
}

// Upsert writes the documents whose (owner, hash) is not stored yet. Batches
// that exhaust their retries are reported in Failed; the remaining batches
// still run. An error is returned only when the call could not proceed at
// all: a document without a vector, a failed hash lookup or a cancelled ctx.
func (i *Index) Upsert(ctx context.Context, docs []types.Document) (UpsertReport, error) {
	report := UpsertReport{Submitted: len(docs)}
	for _, d := range docs {
		if len(d.Vector) == 0 {
			return report, fmt.Errorf("%w: %s", ErrMissingVector, d.ID)
		}
	}

	stored := make(map[string]map[string]struct{})
	seen := make(map[uuid.UUID]struct{}, len(docs))
	fresh := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		existing, ok := stored[d.OwnerID]
		if !ok {
			var err error
			existing, err = i.ExistingHashes(ctx, Owner(d.OwnerID))
			if err != nil {
				return report, err
			}
			stored[d.OwnerID] = existing
		}
		if _, dup := existing[d.ContentHash]; dup {
			report.Skipped++
			continue
		}
		id := types.DocumentID(d.OwnerID, d.ContentHash)
		if _, dup := seen[id]; dup {
			report.Skipped++
			continue
		}
		seen[id] = struct{}{}
		d.ID = id
		fresh = append(fresh, d)
	}

	for n, start := 0, 0; start < len(fresh); n, start = n+1, start+i.batchSize {
		end := min(start+i.batchSize, len(fresh))
		batch := fresh[start:end]

		attempts, err := i.do(ctx, "upsert", func(ctx context.Context) error {
			return i.backend.UpsertPoints(ctx, batch)
		})
		if err != nil {
			i.log.Error("upsert batch failed", "batch", n, "size", len(batch), "attempts", attempts, "err", err)
			report.Failed = append(report.Failed, BatchFailure{Batch: n, Size: len(batch), Attempts: attempts, Err: err})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			continue
		}
		report.Written += len(batch)
		i.log.Debug("upsert batch written", "batch", n, "size", len(batch), "attempts", attempts)
	}

	i.log.Info("upsert done",
		"submitted", report.Submitted,
		"skipped", report.Skipped,
		"written", report.Written,
		"failed_batches", len(report.Failed))
	return report, nil
}

// CreateFilterIndexes creates one payload index per field. Failures are
// logged and returned but never stop the remaining fields.
func (i *Index) CreateFilterIndexes(ctx context.Context, fields []string) []error {
	var errs []error
	for _, f := range fields {
		if err := i.backend.CreateFieldIndex(ctx, f); err != nil {
			i.log.Warn("create filter index failed", "field", f, "err", err)
			errs = append(errs, fmt.Errorf("index %s: %w", f, err))
			continue
		}
		i.log.Debug("filter index ready", "field", f)
	}
	return errs
}

// Search returns up to req.Limit documents ordered by descending score. An
// empty slice with a nil error means nothing matched.
func (i *Index) Search(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if req.Limit <= 0 {
		return []types.ScoredDocument{}, nil
	}

	var hits []types.ScoredDocument
	_, err := i.do(ctx, "search", func(ctx context.Context) error {
		var err error
		hits, err = i.backend.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	if hits == nil {
		hits = []types.ScoredDocument{}
	}
	sortByScore(hits)
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

type DuplicateReport struct {
	Scope   string
	Scanned int
	// Duplicates maps every hash stored more than once to its point ids.
	Duplicates map[string][]uuid.UUID
}

func (i *Index) Duplicates(ctx context.Context, scope HashScope) (DuplicateReport, error) {
	report := DuplicateReport{Scope: scope.String(), Duplicates: map[string][]uuid.UUID{}}
	byHash := make(map[string][]uuid.UUID)
	cursor := ""
	for {
		page, next, err := i.backend.ScrollHashes(ctx, scope, cursor, i.pageSize)
		if err != nil {
			return report, fmt.Errorf("scroll hashes (%s): %w", scope, err)
		}
		for _, e := range page {
			report.Scanned++
			byHash[e.Hash] = append(byHash[e.Hash], e.ID)
		}
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}
	for h, ids := range byHash {
		if len(ids) > 1 {
			report.Duplicates[h] = ids
		}
	}
	return report, nil
}

func (i *Index) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	return i.backend.Ping(ctx)
}

func (i *Index) Close() error {
	return i.backend.Close()
}

func (i *Index) do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	p := i.policy
	if p.OnRetry == nil {
		p.OnRetry = func(attempt int, wait time.Duration, err error) {
			i.log.Warn("store call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "err", err)
		}
	}
	return p.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, i.timeout)
		defer cancel()
		return fn(ctx)
	})
}
