package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fapchat/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type Distance string

const Cosine Distance = "Cosine"

// HashScope selects which owner's hashes a scroll returns.
type HashScope struct {
	OwnerID string
	Scoped  bool
}

func AllOwners() HashScope { return HashScope{} }

func Owner(id string) HashScope { return HashScope{OwnerID: id, Scoped: true} }

func (s HashScope) String() string {
	if !s.Scoped {
		return "all"
	}
	if s.OwnerID == "" {
		return "shared"
	}
	return s.OwnerID
}

type HashEntry struct {
	ID   uuid.UUID
	Hash string
}

type SearchRequest struct {
	Vector         []float32
	Filter         types.Filter
	Limit          int
	ScoreThreshold float64
}

// Backend is the raw vector store the Index drives.
type Backend interface {
	EnsureCollection(ctx context.Context, dim int, metric Distance) error
	// ScrollHashes returns one page after cursor and the cursor of the next
	// page, "" when there is none.
	ScrollHashes(ctx context.Context, scope HashScope, cursor string, limit int) ([]HashEntry, string, error)
	UpsertPoints(ctx context.Context, docs []types.Document) error
	CreateFieldIndex(ctx context.Context, field string) error
	Search(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error)
	Ping(ctx context.Context) error
	Close() error
}

var columns = map[string]string{
	types.FieldOwnerID:     "owner_id",
	types.FieldRecordType:  "record_type",
	types.FieldSubjectCode: "subject_code",
	types.FieldTerm:        "term",
	types.FieldDateKey:     "date_key",
	types.FieldContentHash: "content_hash",
}

type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresStore(ctx context.Context, connStr, table string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if table == "" {
		table = "documents"
	}
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}, nil
}

func (p *PostgresStore) EnsureCollection(ctx context.Context, dim int, metric Distance) error {
	if metric != Cosine {
		return fmt.Errorf("%w: %s", ErrUnsupportedDistance, metric)
	}
	if dim <= 0 {
		return opErr("ensure_collection", OperationErrorValidationFailed, "dimension must be positive", nil)
	}

	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		record_type TEXT NOT NULL,
		subject_code TEXT NOT NULL DEFAULT '',
		term TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		date_key INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		content TEXT NOT NULL,
		display JSONB NOT NULL DEFAULT '{}',
		embedding vector(%[2]d) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		UNIQUE (owner_id, content_hash)
	);
	`, p.table, dim)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return err
	}

	var existing int
	err := p.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		p.table,
	).Scan(&existing)
	if err != nil {
		return err
	}
	if existing != dim {
		return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, existing, dim)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
		p.indexName("embedding"), p.table)
	_, err = p.pool.Exec(ctx, index)
	return err
}

func (p *PostgresStore) ScrollHashes(ctx context.Context, scope HashScope, cursor string, limit int) ([]HashEntry, string, error) {
	var (
		where []string
		args  []any
	)
	if scope.Scoped {
		args = append(args, scope.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if cursor != "" {
		after, err := uuid.Parse(cursor)
		if err != nil {
			return nil, "", opErr("scroll", OperationErrorValidationFailed, "invalid cursor", err)
		}
		args = append(args, after)
		where = append(where, fmt.Sprintf("id > $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf("SELECT id, content_hash FROM %s", p.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var entries []HashEntry
	for rows.Next() {
		var e HashEntry
		if err := rows.Scan(&e.ID, &e.Hash); err != nil {
			return nil, "", err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) == limit && limit > 0 {
		next = entries[len(entries)-1].ID.String()
	}
	return entries, next, nil
}

func (p *PostgresStore) UpsertPoints(ctx context.Context, docs []types.Document) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, owner_id, record_type, subject_code, term, date, date_key, content_hash, content, display, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING`, p.table)

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range docs {
			display := d.Display
			if display == nil {
				display = map[string]any{}
			}
			batch.Queue(query,
				d.ID, d.OwnerID, string(d.RecordType), d.SubjectCode, d.Term, d.Date, d.DateKey,
				d.ContentHash, d.Text, display, pgvector.NewVector(d.Vector),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (p *PostgresStore) CreateFieldIndex(ctx context.Context, field string) error {
	col, ok := columns[field]
	if !ok {
		return opErr("create_index", OperationErrorValidationFailed, "unknown field "+field, nil)
	}
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", p.indexName(col), p.table, col)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Search(ctx context.Context, req SearchRequest) ([]types.ScoredDocument, error) {
	if len(req.Vector) == 0 {
		return nil, opErr("search", OperationErrorValidationFailed, "empty query vector", nil)
	}

	args := []any{pgvector.NewVector(req.Vector)}
	where, args, err := sqlWhere(req.Filter, args)
	if err != nil {
		return nil, err
	}
	if req.ScoreThreshold > 0 {
		args = append(args, req.ScoreThreshold)
		where = append(where, fmt.Sprintf("1-(embedding <=> $1) >= $%d", len(args)))
	}
	args = append(args, req.Limit)

	query := fmt.Sprintf(`
		SELECT id, owner_id, record_type, subject_code, term, date, date_key,
		       content_hash, content, display, 1-(embedding <=> $1) AS score
		FROM %s`, p.table)
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\n\t\tORDER BY embedding <=> $1, id\n\t\tLIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScoredDocument
	for rows.Next() {
		var (
			doc        types.Document
			recordType string
			score      float64
		)
		if err := rows.Scan(
			&doc.ID,
			&doc.OwnerID,
			&recordType,
			&doc.SubjectCode,
			&doc.Term,
			&doc.Date,
			&doc.DateKey,
			&doc.ContentHash,
			&doc.Text,
			&doc.Display,
			&score); err != nil {
			return nil, err
		}
		doc.RecordType = types.RecordType(recordType)
		out = append(out, types.ScoredDocument{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByScore(out)
	return out, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *PostgresStore) indexName(col string) string {
	name := strings.Trim(p.table, `"`)
	return pgx.Identifier{fmt.Sprintf("idx_%s_%s", name, col)}.Sanitize()
}

// sqlWhere renders f as SQL predicates over the columns map, continuing the
// positional argument list args.
func sqlWhere(f types.Filter, args []any) ([]string, []any, error) {
	var where []string

	if f.Owner != nil {
		args = append(args, f.Owner.OwnerID)
		if f.Owner.IncludeShared {
			where = append(where, fmt.Sprintf("(owner_id = $%d OR owner_id = '')", len(args)))
		} else {
			where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
		}
	}

	render := func(c types.Condition) (string, error) {
		col, ok := columns[c.Key]
		if !ok {
			return "", opErr("search", OperationErrorValidationFailed, "unsupported filter key "+c.Key, nil)
		}
		if c.Range != nil {
			args = append(args, c.Range.Gte, c.Range.Lte)
			return fmt.Sprintf("%s BETWEEN $%d AND $%d", col, len(args)-1, len(args)), nil
		}
		args = append(args, c.Value)
		return fmt.Sprintf("%s = $%d", col, len(args)), nil
	}

	for _, c := range f.Must {
		clause, err := render(c)
		if err != nil {
			return nil, nil, err
		}
		where = append(where, clause)
	}

	if len(f.Should) > 0 {
		alts := make([]string, 0, len(f.Should))
		for _, c := range f.Should {
			clause, err := render(c)
			if err != nil {
				return nil, nil, err
			}
			alts = append(alts, clause)
		}
		where = append(where, "("+strings.Join(alts, " OR ")+")")
	}
	return where, args, nil
}

// sortByScore orders by descending score, then ascending id.
func sortByScore(docs []types.ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].Document.ID.String() < docs[j].Document.ID.String()
	})
}

var _ Backend = (*PostgresStore)(nil)
