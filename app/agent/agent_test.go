package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fapchat/intent"
	"fapchat/logger"
	"fapchat/model"
	"fapchat/model/modeltest"
	"fapchat/retry"
	"fapchat/store"
	"fapchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anchor = time.Date(2025, 1, 15, 10, 30, 0, 0, time.Local)

const nextWeekQuery = "điểm danh môn CPV301 tuần sau"

type fixture struct {
	catalog  *intent.Catalog
	resolver *intent.Resolver
	embedder model.Embedder
	index    *store.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	emb := model.NewPrefixedEmbedder(&modeltest.HashEmbedder{})
	c, err := intent.BuildCatalog(testContext(t), emb, intent.DefaultCatalogSpec())
	require.NoError(t, err)

	tr := &modeltest.Translator{Table: map[string]string{nextWeekQuery: "attendance for CPV301 next week"}}
	local := intent.NewLocalStrategy(c, emb, tr, intent.DefaultLocalOptions(), logger.Nop())
	idx := store.NewIndex(store.NewMemoryStore(), logger.Nop(), store.WithRetryPolicy(retry.NoDelay(3)))
	require.NoError(t, idx.EnsureCollection(testContext(t), modeltest.Dim, store.Cosine))

	return &fixture{
		catalog:  c,
		resolver: intent.NewResolver(c, logger.Nop(), local),
		embedder: emb,
		index:    idx,
	}
}

func (f *fixture) add(t *testing.T, recs ...types.Record) {
	t.Helper()
	docs := make([]types.Document, 0, len(recs))
	for _, r := range recs {
		doc, err := types.NewDocument(r)
		require.NoError(t, err)
		doc.Vector = model.Normalize(modeltest.Vector(doc.Text))
		docs = append(docs, doc)
	}
	_, err := f.index.Upsert(testContext(t), docs)
	require.NoError(t, err)
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	opts = append([]Option{WithClock(func() time.Time { return anchor })}, opts...)
	return NewOrchestrator(f.resolver, f.embedder, f.index, DefaultOptions(), logger.Nop(), opts...)
}

func attendance(owner, date string, session int) types.AttendanceRecord {
	return types.AttendanceRecord{
		OwnerID:    owner,
		FullName:   "Nguyen Van A",
		StudentID:  owner,
		CourseCode: "CPV301",
		CourseName: "Computer Vision",
		Term:       "Spring2025",
		SessionNo:  session,
		Date:       date,
		Slot:       "2",
		Room:       "BE-401",
		Lecturer:   "HoaDNT",
		Group:      "SE1801",
		Status:     "Future",
		Comment:    types.Unknown,
	}
}

func TestNextWeekAttendanceIsScopedToOwnerAndRange(t *testing.T) {
	f := newFixture(t)
	f.add(t,
		attendance("HE1", "23/01/2025", 5),
		attendance("HE1", "10/01/2025", 3),
		attendance("HE2", "23/01/2025", 5),
	)

	res, err := f.orchestrator().Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, types.RecordAttendance, res.Intent.RecordType)
	require.Len(t, res.Results, 1)

	got := res.Results[0]
	assert.Equal(t, 1, got.Rank)
	assert.Equal(t, "HE1", got.Document.OwnerID)
	assert.Equal(t, "23/01/2025", got.Document.Date)
	assert.Empty(t, res.Summary)
}

func TestOtherOwnersNeverLeak(t *testing.T) {
	f := newFixture(t)
	f.add(t, attendance("HE2", "23/01/2025", 5))

	res, err := f.orchestrator().Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusNoResults, res.Status)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestSharedRecordsAreVisible(t *testing.T) {
	f := newFixture(t)
	f.add(t, attendance("", "22/01/2025", 4))

	res, err := f.orchestrator().Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Empty(t, res.Results[0].Document.OwnerID)
}

func TestBlankQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().Handle(testContext(t), Request{Query: "  \t"})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

type stubResolver struct {
	in      types.Intent
	catalog *intent.Catalog
}

func (s stubResolver) Resolve(context.Context, intent.Query) types.Intent { return s.in }
func (s stubResolver) Catalog() *intent.Catalog                           { return s.catalog }

type recordingEmbedder struct {
	texts []string
	err   error
}

func (r *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	r.texts = append(r.texts, texts...)
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = model.Normalize(modeltest.Vector(t))
	}
	return out, nil
}

type failingSearcher struct{ calls int }

func (s *failingSearcher) Search(context.Context, store.SearchRequest) ([]types.ScoredDocument, error) {
	s.calls++
	return nil, store.ErrSearchFailed
}

func TestUnresolvedIntentSkipsSearch(t *testing.T) {
	f := newFixture(t)
	in := types.NewIntent("grades for XYZ999", types.SourceLLM)
	in.Invalid = []types.InvalidField{{Field: types.FieldSubjectCode, Value: "XYZ999"}}
	emb := &recordingEmbedder{}
	search := &failingSearcher{}

	o := NewOrchestrator(stubResolver{in: in, catalog: f.catalog}, emb, search, DefaultOptions(), logger.Nop())
	res, err := o.Handle(testContext(t), Request{Query: "điểm môn XYZ999"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnresolved, res.Status)
	assert.Empty(t, res.Results)
	assert.Empty(t, emb.texts)
	assert.Zero(t, search.calls)
}

func TestSearchFailureIsReported(t *testing.T) {
	f := newFixture(t)
	search := &failingSearcher{}
	o := NewOrchestrator(f.resolver, f.embedder, search, DefaultOptions(), logger.Nop())

	res, err := o.Handle(testContext(t), Request{Query: "CPV301"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSearchFailed, res.Status)
	assert.NotNil(t, res.Results)
	assert.Equal(t, 1, search.calls)
}

func TestEmbedFailureIsReportedAsSearchFailure(t *testing.T) {
	f := newFixture(t)
	emb := &recordingEmbedder{err: errors.New("ollama down")}
	o := NewOrchestrator(stubResolver{in: types.NewIntent("CPV301", types.SourceDefault), catalog: f.catalog}, emb, f.index, DefaultOptions(), logger.Nop())

	res, err := o.Handle(testContext(t), Request{Query: "CPV301"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSearchFailed, res.Status)
}

func TestStudentListEmbedsOriginalQuery(t *testing.T) {
	f := newFixture(t)
	in := types.NewIntent("list of students in class SE1801", types.SourceLLM)
	in.RecordType = types.RecordStudentList
	emb := &recordingEmbedder{}

	o := NewOrchestrator(stubResolver{in: in, catalog: f.catalog}, emb, f.index, DefaultOptions(), logger.Nop())
	_, err := o.Handle(testContext(t), Request{Query: "danh sách sinh viên lớp SE1801"})
	require.NoError(t, err)
	require.Len(t, emb.texts, 1)
	assert.Equal(t, "danh sách sinh viên lớp SE1801", emb.texts[0])
}

func TestTranslatedQueryIsEmbeddedByDefault(t *testing.T) {
	f := newFixture(t)
	in := types.NewIntent("grades for CPV301", types.SourceLLM)
	in.RecordType = types.RecordGradeDetail
	emb := &recordingEmbedder{}

	o := NewOrchestrator(stubResolver{in: in, catalog: f.catalog}, emb, f.index, DefaultOptions(), logger.Nop())
	_, err := o.Handle(testContext(t), Request{Query: "điểm môn CPV301"})
	require.NoError(t, err)
	require.Len(t, emb.texts, 1)
	assert.Equal(t, "grades for CPV301", emb.texts[0])
}

func TestRerankReordersAndFallsBack(t *testing.T) {
	f := newFixture(t)
	f.add(t,
		attendance("HE1", "22/01/2025", 4),
		attendance("HE1", "23/01/2025", 5),
	)
	base, err := f.orchestrator().Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	require.Len(t, base.Results, 2)

	gen := &modeltest.Generator{Rules: []modeltest.Rule{{Contains: "Passages:", Answer: "2, 1, 2, 9"}}}
	res, err := f.orchestrator(WithReranker(NewReranker(gen))).Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, base.Results[1].Document.ID, res.Results[0].Document.ID)
	assert.Equal(t, base.Results[0].Document.ID, res.Results[1].Document.ID)
	assert.Equal(t, 1, res.Results[0].Rank)

	broken := &modeltest.Generator{Err: errors.New("timeout")}
	res, err = f.orchestrator(WithReranker(NewReranker(broken))).Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, res.Status)
	require.Len(t, res.Results, 2)
	assert.Equal(t, base.Results[0].Document.ID, res.Results[0].Document.ID)
}

func TestSynthesis(t *testing.T) {
	f := newFixture(t)
	f.add(t, attendance("HE1", "23/01/2025", 5))

	gen := &modeltest.Generator{Rules: []modeltest.Rule{{Contains: "Answer:", Answer: " Bạn có 1 buổi học CPV301 tuần sau. "}}}
	res, err := f.orchestrator(WithSynthesizer(NewSynthesizer(gen, 0, nil, nil))).Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	assert.Equal(t, "Bạn có 1 buổi học CPV301 tuần sau.", res.Summary)
	assert.False(t, res.SynthesisFailed)
	require.Len(t, gen.Prompts, 1)
	assert.Contains(t, gen.Prompts[0], "[1] (attendance)")

	failing := &modeltest.Generator{Err: errors.New("quota")}
	res, err = f.orchestrator(WithSynthesizer(NewSynthesizer(failing, 0, nil, nil))).Handle(testContext(t), Request{Query: nextWeekQuery, OwnerID: "HE1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.True(t, res.SynthesisFailed)
	assert.Equal(t, SynthesisFallback, res.Summary)
	assert.Len(t, res.Results, 1)
}

func TestBuildFilter(t *testing.T) {
	in := types.NewIntent("q", types.SourceLocal)
	in.RecordType = types.RecordAttendance
	in.SubjectCodes = []string{"CPV301", "MAD101"}
	in.Term = "Spring2025"
	in.TimeRange = &types.DateRange{
		Start: time.Date(2025, 1, 22, 0, 0, 0, 0, time.Local),
		End:   time.Date(2025, 1, 28, 0, 0, 0, 0, time.Local),
	}

	f := BuildFilter(in, "HE1")
	require.NotNil(t, f.Owner)
	assert.Equal(t, types.OwnerScope{OwnerID: "HE1", IncludeShared: true}, *f.Owner)
	assert.Equal(t, []types.Condition{
		types.Match(types.FieldRecordType, "attendance"),
		types.Between(types.FieldDateKey, 20250122, 20250128),
	}, f.Must)
	assert.Equal(t, []types.Condition{
		types.Match(types.FieldSubjectCode, "CPV301"),
		types.Match(types.FieldSubjectCode, "MAD101"),
		types.Match(types.FieldTerm, "Spring2025"),
	}, f.Should)

	empty := BuildFilter(types.NewIntent("q", types.SourceDefault), "")
	assert.Empty(t, empty.Must)
	assert.Empty(t, empty.Should)
}

func TestDedupeKeepsFirstPerOwnerAndHash(t *testing.T) {
	doc := func(owner, hash string) types.ScoredDocument {
		return types.ScoredDocument{Document: types.Document{ContentHash: hash, Base: types.Base{OwnerID: owner}}}
	}
	got := dedupe([]types.ScoredDocument{doc("HE1", "a"), doc("HE1", "a"), doc("", "a"), doc("HE1", "b")})
	assert.Len(t, got, 3)
}

func TestParseRanking(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want []int
	}{
		{"3, 1, 2", 3, []int{2, 0, 1}},
		{"[2] then [2] then [7]", 3, []int{1}},
		{"0, 1", 2, []int{0}},
		{"none", 3, nil},
		{"1. [3]\n2. [1]", 3, []int{2, 0}},
		{"Ranking: [3, 1]. Passage [2] is off topic.", 3, []int{2, 0}},
		{"[]", 3, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRanking(tt.in, tt.n), tt.in)
	}
}

func TestRerankWithoutIndicesErrors(t *testing.T) {
	gen := &modeltest.Generator{Default: "they are all relevant"}
	hits := []types.ScoredDocument{{Document: types.Document{Text: "a"}}}
	_, err := NewReranker(gen).Rerank(testContext(t), "q", hits, 5)
	assert.ErrorIs(t, err, ErrNoRanking)
}

func TestBuildContextRespectsBudget(t *testing.T) {
	s := NewSynthesizer(&modeltest.Generator{}, 10, func(s string) int { return len(strings.Fields(s)) }, nil)
	results := []types.RankedResult{
		{Rank: 1, Document: types.Document{Text: "one two three four five six seven eight nine ten eleven"}},
		{Rank: 2, Document: types.Document{Text: "short"}},
	}
	text, used := s.BuildContext(results)
	assert.Equal(t, 1, used)
	assert.Contains(t, text, "[1]")
	assert.NotContains(t, text, "[2]")

	roomy := NewSynthesizer(&modeltest.Generator{}, 100, nil, nil)
	_, used = roomy.BuildContext(results)
	assert.Equal(t, 2, used)
}

func TestFallbackCounter(t *testing.T) {
	assert.Equal(t, 0, FallbackCounter(""))
	assert.Equal(t, 4, FallbackCounter("a b c"))
}
