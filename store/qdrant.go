package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fapchat/types"

	"github.com/google/uuid"
)

const maxErrorBodyBytes = 4096

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantStore talks to Qdrant over its REST API.
type QdrantStore struct {
	cfg     QdrantConfig
	baseURL string
	http    *http.Client
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, opErr("init", OperationErrorValidationFailed, "qdrant url is required", nil)
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, opErr("init", OperationErrorValidationFailed, "invalid qdrant url", err)
	}
	if cfg.Collection == "" {
		return nil, opErr("init", OperationErrorValidationFailed, "qdrant collection is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &QdrantStore{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantScoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload qdrantPayload   `json:"payload"`
}

type qdrantPayload struct {
	OwnerID     string         `json:"owner_id"`
	RecordType  string         `json:"record_type"`
	SubjectCode string         `json:"subject_code"`
	Term        string         `json:"term"`
	Date        string         `json:"date"`
	DateKey     int            `json:"date_key"`
	ContentHash string         `json:"content_hash"`
	Text        string         `json:"text"`
	Display     map[string]any `json:"display"`
}

type qdrantScrollResult struct {
	Points []struct {
		ID      json.RawMessage `json:"id"`
		Payload struct {
			ContentHash string `json:"content_hash"`
		} `json:"payload"`
	} `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int, metric Distance) error {
	if metric != Cosine {
		return fmt.Errorf("%w: %s", ErrUnsupportedDistance, metric)
	}
	if dim <= 0 {
		return opErr("ensure_collection", OperationErrorValidationFailed, "dimension must be positive", nil)
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, "ensure_collection", http.MethodGet, s.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		if size := info.Config.Params.Vectors.Size; size != 0 && size != dim {
			return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, size, dim)
		}
		return nil
	case isNotFound(err):
	default:
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": string(metric)},
	}
	return s.doJSON(ctx, "ensure_collection", http.MethodPut, s.collectionPath(""), body, nil)
}

func (s *QdrantStore) ScrollHashes(ctx context.Context, scope HashScope, cursor string, limit int) ([]HashEntry, string, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": []string{types.FieldContentHash},
		"with_vector":  false,
	}
	if scope.Scoped {
		body["filter"] = map[string]any{
			"must": []any{qdrantMatch(types.FieldOwnerID, scope.OwnerID)},
		}
	}
	if cursor != "" {
		body["offset"] = cursor
	}

	var res qdrantScrollResult
	if err := s.doJSON(ctx, "scroll", http.MethodPost, s.collectionPath("/points/scroll"), body, &res); err != nil {
		return nil, "", err
	}

	entries := make([]HashEntry, 0, len(res.Points))
	for _, p := range res.Points {
		id, err := parsePointID(p.ID)
		if err != nil {
			return nil, "", opErr("scroll", OperationErrorDecodeFailed, "invalid point id", err)
		}
		if p.Payload.ContentHash == "" {
			continue
		}
		entries = append(entries, HashEntry{ID: id, Hash: p.Payload.ContentHash})
	}

	next := ""
	if raw := bytes.TrimSpace(res.NextPageOffset); len(raw) > 0 && string(raw) != "null" {
		id, err := parsePointID(raw)
		if err != nil {
			return nil, "", opErr("scroll", OperationErrorDecodeFailed, "invalid next page offset", err)
		}
		next = id.String()
	}
	return entries, next, nil
}

func (s *QdrantStore) UpsertPoints(ctx context.Context, docs []types.Document) error {
	points := make([]qdrantPoint, 0, len(docs))
	for _, d := range docs {
		points = append(points, qdrantPoint{
			ID:     d.ID.String(),
			Vector: d.Vector,
			Payload: map[string]any{
				types.FieldOwnerID:     d.OwnerID,
				types.FieldRecordType:  string(d.RecordType),
				types.FieldSubjectCode: d.SubjectCode,
				types.FieldTerm:        d.Term,
				"date":                 d.Date,
				types.FieldDateKey:     d.DateKey,
				types.FieldContentHash: d.ContentHash,
				"text":                 d.Text,
				"display":              d.Display,
			},
		})
	}
	body := map[string]any{"points": points}
	return s.doJSON(ctx, "upsert", http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

func (s *QdrantStore) CreateFieldIndex(ctx context.Context, field string) error {
	if _, ok := columns[field]; !ok {
		return opErr("create_index", OperationErrorValidationFailed, "unknown field "+field, nil)
	}
	schema := "keyword"
	if field == types.FieldDateKey {
		schema = "integer"
	}
	body := map[string]any{"field_name": field, "field_schema": schema}
	return s.doJSON(ctx, "create_index", http.MethodPut, s.collectionPath("/index?wait=true"), body, nil)
}

func (s *QdrantStore) Search(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if len(req.Vector) == 0 {
		return nil, opErr("search", OperationErrorValidationFailed, "empty query vector", nil)
	}
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        req.Limit,
		"with_payload": true,
	}
	if !req.Filter.IsEmpty() {
		f, err := qdrantFilter(req.Filter)
		if err != nil {
			return nil, err
		}
		body["filter"] = f
	}
	if req.ScoreThreshold > 0 {
		body["score_threshold"] = req.ScoreThreshold
	}

	var hits []qdrantScoredPoint
	if err := s.doJSON(ctx, "search", http.MethodPost, s.collectionPath("/points/search"), body, &hits); err != nil {
		return nil, err
	}

	out := make([]types.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		id, err := parsePointID(h.ID)
		if err != nil {
			return nil, opErr("search", OperationErrorDecodeFailed, "invalid point id", err)
		}
		p := h.Payload
		out = append(out, types.ScoredDocument{
			Score: h.Score,
			Document: types.Document{
				ID:          id,
				ContentHash: p.ContentHash,
				Base: types.Base{
					OwnerID:     p.OwnerID,
					RecordType:  types.RecordType(p.RecordType),
					SubjectCode: p.SubjectCode,
					Term:        p.Term,
					Date:        p.Date,
					DateKey:     p.DateKey,
				},
				Text:    p.Text,
				Display: p.Display,
			},
		})
	}
	sortByScore(out)
	return out, nil
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	return s.doJSON(ctx, "ping", http.MethodGet, "/collections", nil, nil)
}

func (s *QdrantStore) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

func qdrantMatch(key, value string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func qdrantCondition(c types.Condition) (map[string]any, error) {
	if _, ok := columns[c.Key]; !ok {
		return nil, opErr("search", OperationErrorValidationFailed, "unsupported filter key "+c.Key, nil)
	}
	if c.Range != nil {
		return map[string]any{
			"key":   c.Key,
			"range": map[string]any{"gte": c.Range.Gte, "lte": c.Range.Lte},
		}, nil
	}
	return qdrantMatch(c.Key, c.Value), nil
}

func qdrantFilter(f types.Filter) (map[string]any, error) {
	must := make([]any, 0, len(f.Must)+1)
	if f.Owner != nil {
		owner := qdrantMatch(types.FieldOwnerID, f.Owner.OwnerID)
		if f.Owner.IncludeShared {
			must = append(must, map[string]any{
				"should": []any{owner, qdrantMatch(types.FieldOwnerID, "")},
			})
		} else {
			must = append(must, owner)
		}
	}
	for _, c := range f.Must {
		cond, err := qdrantCondition(c)
		if err != nil {
			return nil, err
		}
		must = append(must, cond)
	}

	out := map[string]any{}
	if len(must) > 0 {
		out["must"] = must
	}
	if len(f.Should) > 0 {
		should := make([]any, 0, len(f.Should))
		for _, c := range f.Should {
			cond, err := qdrantCondition(c)
			if err != nil {
				return nil, err
			}
			should = append(should, cond)
		}
		out["should"] = should
	}
	return out, nil
}

func parsePointID(raw json.RawMessage) (uuid.UUID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

func (s *QdrantStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	if out == nil {
		return nil
	}
	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func truncateBody(raw []byte) string {
	if len(raw) > maxErrorBodyBytes {
		raw = raw[:maxErrorBodyBytes]
	}
	return string(raw)
}

func isNotFound(err error) bool {
	var opErr *OperationError
	return errors.As(err, &opErr) && opErr.StatusCode == http.StatusNotFound
}

var _ Backend = (*QdrantStore)(nil)
