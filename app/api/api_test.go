package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fapchat/app/agent"
	"fapchat/intent"
	"fapchat/loader/service"
	ltypes "fapchat/loader/types"
	"fapchat/logger"
	"fapchat/model/modeltest"
	"fapchat/types"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	calls int
	last  agent.Request
	res   *types.QueryResult
	err   error
}

func (s *stubOrchestrator) Handle(ctx context.Context, req agent.Request) (*types.QueryResult, error) {
	s.calls++
	s.last = req
	return s.res, s.err
}

type stubIngester struct {
	kind ltypes.Kind
	opts ltypes.Options
	body string
	err  error
}

func (s *stubIngester) Ingest(ctx context.Context, kind ltypes.Kind, r io.Reader, opts ltypes.Options) (*types.IngestResponse, error) {
	data, _ := io.ReadAll(r)
	s.kind, s.opts, s.body = kind, opts, string(data)
	if s.err != nil {
		return nil, s.err
	}
	return &types.IngestResponse{Kind: string(kind), Rows: 1, Submitted: 1, Written: 1}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type catalogSource struct{ c *intent.Catalog }

func (s catalogSource) Catalog() *intent.Catalog { return s.c }

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger.Nop())})
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestSearchReturnsResponse(t *testing.T) {
	orch := &stubOrchestrator{res: &types.QueryResult{
		Intent: types.Intent{
			TranslatedQuery: "grades for MAD101",
			RecordType:      types.RecordGradeDetail,
			SubjectCodes:    []string{"MAD101"},
			Term:            "Fall2024",
			Source:          types.SourceLocal,
		},
		Results: []types.RankedResult{{
			Rank:  1,
			Score: 0.9,
			Document: types.Document{
				Base: types.Base{RecordType: types.RecordGradeDetail, SubjectCode: "MAD101"},
				Text: "Final Exam 7.5",
			},
		}},
		Summary: "You scored 7.5.",
		Status:  types.StatusOK,
	}}
	h := NewSearchHandler(orch)
	h.now = func() time.Time { return time.Date(2024, 11, 20, 8, 0, 0, 0, time.UTC) }
	app := newApp()
	app.Post("/search", h.HandleSearch)

	code, body := postJSON(t, app, "/search", `{"query":"điểm MAD101","owner_id":"HE1"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "grades for MAD101", body["translated_query"])
	assert.Equal(t, "grade-detail", body["detected_type"])
	assert.Equal(t, "Fall2024", body["detected_semester"])
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "You scored 7.5.", body["summary"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "Final Exam 7.5", results[0].(map[string]any)["content"])

	assert.Equal(t, "HE1", orch.last.OwnerID)
	assert.Equal(t, "điểm MAD101", orch.last.Query)
}

func TestSearchRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"malformed", `{"query":`, http.StatusBadRequest, "invalid JSON request"},
		{"missing query", `{}`, http.StatusBadRequest, "missing query"},
		{"blank query", `{"query":"   "}`, http.StatusBadRequest, "missing query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &stubOrchestrator{}
			app := newApp()
			app.Post("/search", NewSearchHandler(orch).HandleSearch)

			code, body := postJSON(t, app, "/search", tt.body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.msg, body["error"])
			assert.Zero(t, orch.calls)
		})
	}
}

func TestSearchValidatesHistory(t *testing.T) {
	orch := &stubOrchestrator{}
	app := newApp()
	app.Post("/search", NewSearchHandler(orch).HandleSearch)

	code, body := postJSON(t, app, "/search", `{"query":"hi","history":[{"role":"system","content":"x"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["errors"], "Role")
	assert.Zero(t, orch.calls)
}

func TestSearchInternalError(t *testing.T) {
	app := newApp()
	app.Post("/search", NewSearchHandler(&stubOrchestrator{err: errors.New("boom")}).HandleSearch)

	code, body := postJSON(t, app, "/search", `{"query":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestChecks(t *testing.T) {
	app := newApp()
	app.Get("/healthy", NewCheckHandler(nil).HandleHealthy)
	app.Get("/ready", NewCheckHandler(pinger{}).HandleReady)
	app.Get("/down", NewCheckHandler(pinger{err: errors.New("refused")}).HandleReady)

	for path, want := range map[string]int{
		"/healthy": http.StatusOK,
		"/ready":   http.StatusOK,
		"/down":    http.StatusServiceUnavailable,
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestCatalog(t *testing.T) {
	cat, err := intent.BuildCatalog(testContext(t), &modeltest.HashEmbedder{}, intent.DefaultCatalogSpec())
	require.NoError(t, err)
	app := newApp()
	app.Get("/catalog", NewCatalogHandler(catalogSource{cat}).HandleCatalog)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/catalog", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var spec intent.CatalogSpec
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&spec))
	assert.Equal(t, intent.DefaultCatalogSpec(), spec)
}

func upload(t *testing.T, app *fiber.App, path string, fields map[string]string, file string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != "" {
		fw, err := mw.CreateFormFile("file", "export.csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte(file))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestIngestUpload(t *testing.T) {
	ing := &stubIngester{}
	app := newApp()
	app.Post("/ingest/:kind", NewIngestHandler(ing).HandleIngest)

	resp := upload(t, app, "/ingest/grades", map[string]string{"owner_id": "HE1", "display_name": "An"}, "a,b\n1,2\n")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, ltypes.KindGrade, ing.kind)
	assert.Equal(t, ltypes.Options{OwnerID: "HE1", DisplayName: "An"}, ing.opts)
	assert.Equal(t, "a,b\n1,2\n", ing.body)
}

func TestIngestRejects(t *testing.T) {
	app := newApp()
	app.Post("/ingest/:kind", NewIngestHandler(&stubIngester{}).HandleIngest)
	app.Post("/broken/:kind", NewIngestHandler(&stubIngester{
		err: &service.InputError{Err: errors.New("missing header row")},
	}).HandleIngest)

	assert.Equal(t, http.StatusBadRequest, upload(t, app, "/ingest/timetable", nil, "a\n").StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, app, "/ingest/grade", nil, "").StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity,
		upload(t, app, "/ingest/grade", map[string]string{"owner_id": strings.Repeat("x", 65)}, "a\n").StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, upload(t, app, "/broken/grade", nil, "a\n").StatusCode)
}
