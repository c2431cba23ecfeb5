package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreQdrant   = "qdrant"
)

const (
	RowErrorsSkip  = "skip"
	RowErrorsAbort = "abort"
)

type ConfigError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Key, e.Value, e.Reason)
}

type Config struct {
	ServerAddr string
	LogMode    string
	LogRedact  bool

	Store       string
	DatabaseURL string
	PGTable     string

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	EmbeddingURL     string
	EmbeddingModel   string
	EmbeddingDim     int
	EmbedBatchSize   int
	EmbedParallelism int

	LLMURL       string
	LLMModel     string
	GeminiAPIKey string
	GeminiModel  string
	LLMRate      float64
	LLMBurst     int

	GoogleTranslate bool
	HTTPTimeout     time.Duration
	LLMTimeout      time.Duration
	StoreTimeout    time.Duration

	CatalogPath    string
	LLMIntent      bool
	IntentAttempts int

	SearchLimit    int
	Overfetch      int
	ScoreThreshold float64
	Rerank         bool
	Synthesize     bool
	ContextBudget  int
	TokenizerModel string

	SourceDir       string
	ArchiveDir      string
	BadDir          string
	MonitoringTime  time.Duration
	UpsertBatchSize int
	RowErrors       string
}

// Load reads .env files (a missing file is not an error) and then the
// process environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}
	cfg := &Config{
		ServerAddr: r.str("SERVER_ADDR", ":3000"),
		LogMode:    r.str("LOG_MODE", "production"),
		LogRedact:  r.boolean("LOG_REDACT", true),

		Store:       strings.ToLower(r.str("STORE", StorePostgres)),
		DatabaseURL: r.str("DATABASE_URL", pgConnString(getenv)),
		PGTable:     r.str("PG_TABLE", "documents"),

		QdrantURL:        r.str("QDRANT_URL", ""),
		QdrantAPIKey:     r.str("QDRANT_API_KEY", ""),
		QdrantCollection: r.str("QDRANT_COLLECTION", "fap_records"),

		EmbeddingURL:     r.str("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embed"),
		EmbeddingModel:   r.str("OLLAMA_EMBEDDING_MODEL", "bge-m3"),
		EmbeddingDim:     r.integer("EMBEDDING_DIM", 1024),
		EmbedBatchSize:   r.integer("EMBED_BATCH_SIZE", 32),
		EmbedParallelism: r.integer("EMBED_PARALLELISM", 4),

		LLMURL:       r.str("LLM_URL", ""),
		LLMModel:     r.str("LLM_MODEL", ""),
		GeminiAPIKey: r.str("GEMINI_API_KEY", ""),
		GeminiModel:  r.str("GEMINI_MODEL", "gemini-1.5-flash"),
		LLMRate:      r.float("LLM_RATE_PER_SEC", 0),
		LLMBurst:     r.integer("LLM_BURST", 1),

		GoogleTranslate: r.boolean("GOOGLE_TRANSLATE", true),
		HTTPTimeout:     r.duration("HTTP_TIMEOUT", 30*time.Second),
		LLMTimeout:      r.duration("LLM_TIMEOUT", 60*time.Second),
		StoreTimeout:    r.duration("STORE_TIMEOUT", 30*time.Second),

		CatalogPath:    r.str("CATALOG_PATH", ""),
		LLMIntent:      r.boolean("LLM_INTENT", true),
		IntentAttempts: r.integer("INTENT_ATTEMPTS", 2),

		SearchLimit:    r.integer("SEARCH_LIMIT", 10),
		Overfetch:      r.integer("SEARCH_OVERFETCH", 2),
		ScoreThreshold: r.float("SCORE_THRESHOLD", 0),
		Rerank:         r.boolean("RERANK", false),
		Synthesize:     r.boolean("SYNTHESIZE", true),
		ContextBudget:  r.integer("CONTEXT_BUDGET", 3000),
		TokenizerModel: r.str("TOKENIZER_MODEL", "gpt-3.5-turbo"),

		SourceDir:       r.str("LOADER_SOURCE_DIR", "data/incoming"),
		ArchiveDir:      r.str("LOADER_ARCHIVE_DIR", "data/archive"),
		BadDir:          r.str("LOADER_BAD_DIR", "data/bad"),
		MonitoringTime:  r.duration("LOADER_MONITORING_TIME", 5*time.Second),
		UpsertBatchSize: r.integer("UPSERT_BATCH_SIZE", 100),
		RowErrors:       strings.ToLower(r.str("ROW_ERRORS", RowErrorsSkip)),
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return &ConfigError{Key: "DATABASE_URL", Reason: "required for postgres store"}
		}
	case StoreQdrant:
		if c.QdrantURL == "" {
			return &ConfigError{Key: "QDRANT_URL", Reason: "required for qdrant store"}
		}
	default:
		return &ConfigError{Key: "STORE", Value: c.Store, Reason: "must be memory, postgres or qdrant"}
	}
	if c.EmbeddingDim <= 0 {
		return &ConfigError{Key: "EMBEDDING_DIM", Value: strconv.Itoa(c.EmbeddingDim), Reason: "must be positive"}
	}
	if c.EmbedParallelism <= 0 {
		return &ConfigError{Key: "EMBED_PARALLELISM", Value: strconv.Itoa(c.EmbedParallelism), Reason: "must be positive"}
	}
	if c.SearchLimit <= 0 {
		return &ConfigError{Key: "SEARCH_LIMIT", Value: strconv.Itoa(c.SearchLimit), Reason: "must be positive"}
	}
	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"HTTP_TIMEOUT", c.HTTPTimeout},
		{"LLM_TIMEOUT", c.LLMTimeout},
		{"STORE_TIMEOUT", c.StoreTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return &ConfigError{Key: t.key, Value: t.d.String(), Reason: "must be positive"}
		}
	}
	if c.RowErrors != RowErrorsSkip && c.RowErrors != RowErrorsAbort {
		return &ConfigError{Key: "ROW_ERRORS", Value: c.RowErrors, Reason: "must be skip or abort"}
	}
	return nil
}

// HasGenerator reports whether any generative model is configured.
func (c *Config) HasGenerator() bool {
	return c.GeminiAPIKey != "" || (c.LLMURL != "" && c.LLMModel != "")
}

// pgConnString keeps the PG_* variables working when DATABASE_URL is unset.
func pgConnString(getenv func(string) string) string {
	host := getenv("PG_HOST")
	if host == "" {
		return ""
	}
	port := getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, getenv("PG_USER"), getenv("PG_PASS"), getenv("PG_DB_NAME"))
}

// reader keeps the first parse error.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "not an integer")
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, "not a number")
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "not a boolean")
		return def
	}
	return b
}

// duration accepts Go durations ("30s") or bare seconds ("30").
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, "not a duration")
		return def
	}
	return d
}

func (r *reader) fail(key, value, reason string) {
	if r.err == nil {
		r.err = &ConfigError{Key: key, Value: value, Reason: reason}
	}
}
