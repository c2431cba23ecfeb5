package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fapchat/loader/internal"
	ltypes "fapchat/loader/types"
	"fapchat/logger"
	"fapchat/model"
	"fapchat/model/modeltest"
	"fapchat/retry"
	"fapchat/store"
	"fapchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gradeCSV = "student_id,full_name,course_code,course_name,term,item,category,weight,value\n" +
	"HE1,Nguyen Van A,MAD101,Discrete Math,Fall2024,Final Exam,Final,40%,7.5\n" +
	"HE1,Nguyen Van A,MAD101,Discrete Math,Fall2024,Progress Test 1,Test,10%,8\n" +
	"HE1,Nguyen Van A,MAD101,Discrete Math,Fall2024,Final Exam,Final,40%,7.5\n" +
	"HE1,Nguyen Van A,MAD101\n"

func newService(t *testing.T, emb model.Embedder) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	idx := store.NewIndex(mem, logger.Nop(), store.WithRetryPolicy(retry.NoDelay(3)))
	require.NoError(t, idx.EnsureCollection(testContext(t), modeltest.Dim, store.Cosine))
	return New(idx, emb, DefaultOptions(), logger.Nop()), mem
}

func TestIngestIsIdempotent(t *testing.T) {
	emb := &modeltest.HashEmbedder{}
	svc, mem := newService(t, model.NewPrefixedEmbedder(emb))

	resp, err := svc.Ingest(testContext(t), ltypes.KindGrade, strings.NewReader(gradeCSV), ltypes.Options{})
	require.NoError(t, err)
	assert.Equal(t, "grade", resp.Kind)
	assert.Equal(t, 4, resp.Rows)
	assert.Len(t, resp.RowErrors, 1)
	assert.Equal(t, 3, resp.Submitted)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 2, resp.Written)
	assert.Zero(t, resp.Failed)
	assert.Equal(t, 2, mem.Len())
	calls := emb.Calls

	again, err := svc.Ingest(testContext(t), ltypes.KindGrade, strings.NewReader(gradeCSV), ltypes.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Submitted)
	assert.Equal(t, 3, again.Skipped)
	assert.Zero(t, again.Written)
	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, calls, emb.Calls, "stored hashes are not embedded again")
}

func TestIngestedRecordsAreSearchable(t *testing.T) {
	svc, _ := newService(t, model.NewPrefixedEmbedder(&modeltest.HashEmbedder{}))
	_, err := svc.Ingest(testContext(t), ltypes.KindGrade, strings.NewReader(gradeCSV), ltypes.Options{})
	require.NoError(t, err)

	vec, err := model.EmbedOne(testContext(t), model.NewPrefixedEmbedder(&modeltest.HashEmbedder{}), "Progress Test 1 MAD101")
	require.NoError(t, err)
	hits, err := svc.index.Search(testContext(t), store.SearchRequest{
		Vector: vec,
		Filter: types.Filter{Owner: &types.OwnerScope{OwnerID: "HE1"}},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Document.Text, "Progress Test 1")
	assert.Equal(t, types.RecordGradeDetail, hits[0].Document.RecordType)
	assert.Equal(t, "MAD101", hits[0].Document.SubjectCode)
}

func TestAbortPolicyStopsBeforeWriting(t *testing.T) {
	svc, mem := newService(t, model.NewPrefixedEmbedder(&modeltest.HashEmbedder{}))
	svc.opts.RowErrors = ltypes.AbortRowErrors

	_, err := svc.Ingest(testContext(t), ltypes.KindGrade, strings.NewReader(gradeCSV), ltypes.Options{})
	var rerr *internal.RowError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 5, rerr.Line)
	assert.Zero(t, mem.Len())
}

func TestEmbeddingFailure(t *testing.T) {
	svc, mem := newService(t, &modeltest.HashEmbedder{Err: errors.New("ollama down")})
	_, err := svc.Ingest(testContext(t), ltypes.KindGrade, strings.NewReader(gradeCSV), ltypes.Options{})
	assert.Error(t, err)
	assert.Zero(t, mem.Len())
}

func TestIngestFileUsesOwnerFromName(t *testing.T) {
	svc, _ := newService(t, model.NewPrefixedEmbedder(&modeltest.HashEmbedder{}))
	path := filepath.Join(t.TempDir(), "shared__course_summaries.csv")
	csv := "course_code,course_name,term,avg_score,status,summary\nMAD101,Discrete Math,Fall2024,7.8,Passed,ok\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	resp, err := svc.IngestFile(testContext(t), path, "")
	require.NoError(t, err)
	assert.Equal(t, "course-summary", resp.Kind)
	assert.Equal(t, 1, resp.Written)

	hashes, err := svc.index.ExistingHashes(testContext(t), store.Owner(""))
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
}

func TestRunArchivesProcessedFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := ltypes.Config{
		SourceDir:  filepath.Join(dir, "in"),
		ArchiveDir: filepath.Join(dir, "archive"),
		BadDir:     filepath.Join(dir, "bad"),
	}
	w, err := internal.NewWatcher(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "HE1__grade.csv"), []byte(gradeCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "HE1__timetable.csv"), []byte("a\n1\n"), 0o644))

	svc, mem := newService(t, model.NewPrefixedEmbedder(&modeltest.HashEmbedder{}))
	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan struct{})
	go func() {
		svc.Run(ctx, w)
		close(done)
	}()

	require.Eventually(t, func() bool {
		archived, _ := filepath.Glob(filepath.Join(cfg.ArchiveDir, "*", "HE1__grade.csv"))
		bad, _ := filepath.Glob(filepath.Join(cfg.BadDir, "*", "HE1__timetable.csv"))
		return len(archived) == 1 && len(bad) == 1
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, 2, mem.Len())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}
