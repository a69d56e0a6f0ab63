package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/mdplan/internal/config"
	"github.com/dgallion1/mdplan/internal/pipeline"
	"github.com/dgallion1/mdplan/internal/plan"
	"github.com/dgallion1/mdplan/internal/planstore"
	"github.com/dgallion1/mdplan/internal/stats"
	"github.com/dgallion1/mdplan/internal/tokens"
)

const testKey = "secret"

func words(n int, w string) string {
	return strings.TrimSpace(strings.Repeat(w+" ", n))
}

var testDoc = "# Report\n\n" + words(100, "alpha") + "\n\n## Details\n\n" + words(100, "beta")

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := planstore.NewMemory(16)
	require.NoError(t, err)

	orch := pipeline.NewOrchestrator(pipeline.Options{WorkerCount: 2, MaxQueueSize: 10},
		plan.New(tokens.NewWords(1)), store, stats.New(time.Hour), log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	params := plan.DefaultParams()
	params.Mode = plan.ModeForce
	params.TargetTokens = 120
	params.HardCeiling = 300
	params.OverlapTokens = 0

	cfg := config.Config{APIKey: testKey, MaxUploadBytes: 1 << 20}
	return NewServer(orch, log, cfg, params)
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/plans", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// planDocument uploads content and waits for the job to finish, returning
// the content hash.
func planDocument(t *testing.T, s *Server, filename, content string) (string, string) {
	t.Helper()
	rec := do(t, s, uploadRequest(t, filename, content, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	pollURL := decode(t, rec)["poll_url"].(string)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec = do(t, s, httptest.NewRequest(http.MethodGet, pollURL, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		status := decode(t, rec)
		if pipeline.JobStatus(status["status"].(string)).Done() {
			hash, _ := status["content_hash"].(string)
			return status["status"].(string), hash
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return "", ""
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/planning", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/planning", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlanLifecycle(t *testing.T) {
	s := newTestServer(t)
	status, hash := planDocument(t, s, "report.md", testDoc)
	require.Equal(t, string(pipeline.StatusCompleted), status)
	require.NotEmpty(t, hash)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/plans/"+hash, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var p plan.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, plan.AppliedChunked, p.Applied)
	require.Len(t, p.Chunks, 2)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/plans/"+hash+"/map", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# Chunk map: report.md")
	assert.Contains(t, rec.Body.String(), "| chunk_02 |")

	// Same upload again reuses the stored plan.
	status, _ = planDocument(t, s, "report.md", testDoc)
	assert.Equal(t, string(pipeline.StatusCached), status)

	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/plans/"+hash, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/plans/"+hash, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, httptest.NewRequest(http.MethodDelete, "/api/plans/"+hash, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMergeEndpoint(t *testing.T) {
	s := newTestServer(t)
	_, hash := planDocument(t, s, "report.md", testDoc)

	body := `{"results":[{"chunk_id":"chunk_02","text":"second"},{"chunk_id":"chunk_01","text":"first"}],"boundary_markers":false}`
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/plans/"+hash+"/merge", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp mergeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "first\n\nsecond", resp.Merged)
	assert.True(t, resp.Report.OK())

	body = `{"results":[{"chunk_id":"chunk_01","text":"first"},{"chunk_id":"chunk_02","text":"second"}]}`
	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/plans/"+hash+"/merge", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Merged, "<!-- chunk_01 start (1/2) -->\nfirst\n"), resp.Merged)

	body = `{"results":[{"chunk_id":"chunk_01","text":"first"}],"strict":true}`
	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/plans/"+hash+"/merge", strings.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	out := decode(t, rec)
	report := out["report"].(map[string]any)
	assert.Equal(t, []any{"chunk_02"}, report["missing"])

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/plans/"+hash+"/merge", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlan_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, uploadRequest(t, "sheet.xlsx", "data", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, uploadRequest(t, "a.md", "x", map[string]string{"target_tokens": "ten"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, uploadRequest(t, "a.md", "x", map[string]string{"overlap_tokens": "500"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid configuration")

	rec = do(t, s, uploadRequest(t, "a.md", "x", map[string]string{"mode": "sometimes"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlan_Overrides(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, uploadRequest(t, "notes.txt", testDoc, map[string]string{"mode": "off"}))
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode(t, rec)["job_id"].(string)

	deadline := time.Now().Add(5 * time.Second)
	job := s.orchestrator.GetJob(jobID)
	for !job.Snapshot().Status.Done() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p := job.Plan()
	require.NotNil(t, p)
	assert.Equal(t, plan.AppliedSingle, p.Applied)
	assert.Len(t, p.Chunks, 1)
}

func TestJobStatus_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/plans/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanningStats(t *testing.T) {
	s := newTestServer(t)
	planDocument(t, s, "report.md", testDoc)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/stats/planning", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Contains(t, out["tokenizer"], "words")
	st := out["stats"].(map[string]any)
	assert.Contains(t, st, "plan")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
	assert.Equal(t, "a_b.md", sanitizeFilename("a..b.md"))
}
