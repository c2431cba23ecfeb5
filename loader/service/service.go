package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"fapchat/config"
	"fapchat/loader/internal"
	ltypes "fapchat/loader/types"
	"fapchat/logger"
	"fapchat/model"
	"fapchat/store"
	"fapchat/types"
)

type Options struct {
	EmbedBatchSize   int
	EmbedParallelism int
	RowErrors        ltypes.RowErrorPolicy
	// FilterFields get a payload index after every successful ingestion.
	FilterFields []string
}

func DefaultOptions() Options {
	return Options{
		EmbedBatchSize:   32,
		EmbedParallelism: 4,
		RowErrors:        ltypes.SkipRowErrors,
		FilterFields:     types.FilterFields,
	}
}

// OptionsFromConfig maps the loader settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.EmbedBatchSize = cfg.EmbedBatchSize
	opts.EmbedParallelism = cfg.EmbedParallelism
	opts.RowErrors = ltypes.RowErrorPolicy(cfg.RowErrors)
	return opts
}

// Service runs CSV rows through chunking, hashing, embedding and upsert.
type Service struct {
	index    *store.Index
	embedder model.Embedder
	chunker  *internal.Chunker
	opts     Options
	log      *logger.Logger
}

func New(index *store.Index, emb model.Embedder, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if opts.RowErrors == "" {
		opts.RowErrors = ltypes.SkipRowErrors
	}
	return &Service{
		index:    index,
		embedder: emb,
		chunker:  internal.NewChunker(),
		opts:     opts,
		log:      log,
	}
}

// InputError marks an upload rejected before anything was embedded.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "invalid input: " + e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// Ingest reads one CSV export of kind.
func (s *Service) Ingest(ctx context.Context, kind ltypes.Kind, r io.Reader, opts ltypes.Options) (*types.IngestResponse, error) {
	rows, err := internal.ReadCSV(r)
	if err != nil {
		return nil, &InputError{Err: err}
	}
	records, rowErrs, err := s.chunker.ChunkAll(kind, rows, opts, s.opts.RowErrors)
	if err != nil {
		return nil, &InputError{Err: err}
	}

	resp, err := s.IngestRecords(ctx, records)
	if resp != nil {
		resp.Kind = string(kind)
		resp.Rows = len(rows)
		for _, re := range rowErrs {
			resp.RowErrors = append(resp.RowErrors, re.Error())
		}
	}
	if len(rowErrs) > 0 {
		s.log.Warn("rows skipped", "kind", kind, "count", len(rowErrs))
	}
	return resp, err
}

// IngestRecords embeds only documents whose hash the owner does not already
// have, then upserts them.
func (s *Service) IngestRecords(ctx context.Context, records []types.Record) (*types.IngestResponse, error) {
	start := time.Now()
	resp := &types.IngestResponse{}

	docs := make([]types.Document, 0, len(records))
	for _, rec := range records {
		doc, err := types.NewDocument(rec)
		if err != nil {
			resp.RowErrors = append(resp.RowErrors, err.Error())
			continue
		}
		docs = append(docs, doc)
	}
	resp.Submitted = len(docs)

	fresh, err := s.filterExisting(ctx, docs)
	if err != nil {
		return resp, err
	}
	resp.Skipped = len(docs) - len(fresh)
	if len(fresh) == 0 {
		s.log.Info("nothing new to ingest", "submitted", resp.Submitted)
		return resp, nil
	}

	texts := make([]string, len(fresh))
	for i, d := range fresh {
		texts[i] = d.Text
	}
	vecs, err := model.EmbedBatched(ctx, s.embedder, texts, s.opts.EmbedBatchSize, s.opts.EmbedParallelism)
	if err != nil {
		return resp, fmt.Errorf("embed documents: %w", err)
	}
	for i := range fresh {
		fresh[i].Vector = model.Normalize(vecs[i])
	}

	report, err := s.index.Upsert(ctx, fresh)
	resp.Skipped += report.Skipped
	resp.Written = report.Written
	resp.Failed = report.FailedDocs()
	if err != nil {
		return resp, err
	}

	if len(s.opts.FilterFields) > 0 {
		for _, ierr := range s.index.CreateFilterIndexes(ctx, s.opts.FilterFields) {
			s.log.Warn("filter index", "err", ierr)
		}
	}

	s.log.Info("ingestion done",
		"submitted", resp.Submitted,
		"skipped", resp.Skipped,
		"written", resp.Written,
		"failed", resp.Failed,
		"took", time.Since(start))
	return resp, nil
}

// filterExisting drops documents already stored for their owner and
// repeats within docs.
func (s *Service) filterExisting(ctx context.Context, docs []types.Document) ([]types.Document, error) {
	known := make(map[string]map[string]struct{})
	seen := make(map[string]struct{}, len(docs))
	out := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		hashes, ok := known[d.OwnerID]
		if !ok {
			var err error
			hashes, err = s.index.ExistingHashes(ctx, store.Owner(d.OwnerID))
			if err != nil {
				return nil, fmt.Errorf("existing hashes for %q: %w", d.OwnerID, err)
			}
			known[d.OwnerID] = hashes
		}
		if _, dup := hashes[d.ContentHash]; dup {
			continue
		}
		if _, dup := seen[d.ID.String()]; dup {
			continue
		}
		seen[d.ID.String()] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// IngestFile ingests a drop-folder file named "<owner>__<kind>.csv".
func (s *Service) IngestFile(ctx context.Context, path string, displayName string) (*types.IngestResponse, error) {
	owner, kind, err := internal.ParseDropName(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Ingest(ctx, kind, f, ltypes.Options{OwnerID: owner, DisplayName: displayName})
}

// Run watches the drop folder until ctx is done. Handled files go to the
// archive; files that fail go to the bad folder.
func (s *Service) Run(ctx context.Context, w *internal.Watcher) {
	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		w.Watch(ctx, fileChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range fileChan {
			s.processFile(ctx, w, path)
		}
	}()

	wg.Wait()
	s.log.Info("loader service stopped")
}

func (s *Service) processFile(ctx context.Context, w *internal.Watcher, path string) {
	log := s.log.With("path", path)
	resp, err := s.IngestFile(ctx, path, "")
	if errors.Is(err, context.Canceled) {
		// Left in place for the next start.
		w.Done(path)
		return
	}
	failed := err != nil || (resp != nil && resp.Failed > 0)
	if err != nil {
		log.Error("ingest file failed", "err", err)
	} else {
		log.Info("file ingested", "written", resp.Written, "skipped", resp.Skipped, "failed", resp.Failed)
	}
	dest, merr := w.MoveToArchive(path, failed)
	if merr != nil {
		log.Error("move file", "err", merr)
	} else {
		log.Debug("file moved", "dest", dest)
	}
	w.Done(path)
}
