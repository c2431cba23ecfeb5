package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"fapchat/types"
)

// MemoryStore is a brute-force cosine backend kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	points map[string]types.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]types.Document)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, dim int, metric Distance) error {
	if metric != Cosine {
		return fmt.Errorf("%w: %s", ErrUnsupportedDistance, metric)
	}
	if dim <= 0 {
		return opErr("ensure_collection", OperationErrorValidationFailed, "dimension must be positive", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim != 0 && m.dim != dim {
		return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, m.dim, dim)
	}
	m.dim = dim
	return nil
}

func (m *MemoryStore) ScrollHashes(_ context.Context, scope HashScope, cursor string, limit int) ([]HashEntry, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.points))
	for id, d := range m.points {
		if scope.Scoped && d.OwnerID != scope.OwnerID {
			continue
		}
		if cursor != "" && id <= cursor {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	next := ""
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
		next = ids[len(ids)-1]
	}
	entries := make([]HashEntry, 0, len(ids))
	for _, id := range ids {
		d := m.points[id]
		entries = append(entries, HashEntry{ID: d.ID, Hash: d.ContentHash})
	}
	return entries, next, nil
}

func (m *MemoryStore) UpsertPoints(_ context.Context, docs []types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if m.dim != 0 && len(d.Vector) != m.dim {
			return fmt.Errorf("%w: point %s has %d, want %d", ErrDimensionMismatch, d.ID, len(d.Vector), m.dim)
		}
		m.points[d.ID.String()] = d
	}
	return nil
}

func (m *MemoryStore) CreateFieldIndex(_ context.Context, field string) error {
	if _, ok := columns[field]; !ok {
		return opErr("create_index", OperationErrorValidationFailed, "unknown field "+field, nil)
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if len(req.Vector) == 0 {
		return nil, opErr("search", OperationErrorValidationFailed, "empty query vector", nil)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.ScoredDocument, 0)
	for _, d := range m.points {
		if !req.Filter.Matches(d) {
			continue
		}
		score := Cosine32(req.Vector, d.Vector)
		if req.ScoreThreshold > 0 && score < req.ScoreThreshold {
			continue
		}
		out = append(out, types.ScoredDocument{Document: d, Score: score})
	}
	sortByScore(out)
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Len reports the number of stored points.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Cosine32 is the cosine similarity of a and b, 0 when either is zero or the
// lengths differ.
func Cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Backend = (*MemoryStore)(nil)
