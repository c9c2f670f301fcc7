package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/storage"
)

var pdfData = []byte("%PDF-1.4\n% dummy pdf content\n%%EOF\n")

type stubJobService struct {
	submitted  []jobs.SubmitRequest
	submitErr  error
	progress   map[string]jobs.Progress
	result     *jobs.Result
	resultErr  error
	cleaned    []string
	cleanupErr error
}

func (s *stubJobService) Submit(ctx context.Context, req jobs.SubmitRequest) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, req)
	return "job-123", nil
}

func (s *stubJobService) Progress(ctx context.Context, id string) (jobs.Progress, error) {
	if p, ok := s.progress[id]; ok {
		return p, nil
	}
	return jobs.UnknownProgress(), nil
}

func (s *stubJobService) FinalizeAndFetch(ctx context.Context, id string) (*jobs.Result, error) {
	return s.result, s.resultErr
}

func (s *stubJobService) Cleanup(ctx context.Context, id string) error {
	s.cleaned = append(s.cleaned, id)
	return nil
}

func (s *stubJobService) CleanupAll(ctx context.Context) error {
	return s.cleanupErr
}

type stubPageCounter struct {
	pages int
	err   error
}

func (s stubPageCounter) PageCount(string) (int, error) { return s.pages, s.err }

type stubTool struct{ err error }

func (s stubTool) Available(context.Context) error { return s.err }

func newTestRouter(t *testing.T, svc JobService, maxPages int, pages PageCounter) (*gin.Engine, *storage.Local) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	uploads, err := storage.NewLocal(filepath.Join(root, "uploads"), filepath.Join(root, "compressed"), 1024)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte("test-secret"))))
	NewHandlers(HandlerOptions{
		Jobs:     svc,
		Uploads:  uploads,
		Pages:    pages,
		Tool:     stubTool{},
		MaxPages: maxPages,
		Logger:   zerolog.Nop(),
	}).Register(router)
	return router, uploads
}

func multipartBody(t *testing.T, field, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if field != "" {
		fw, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func postCompress(router http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/compress", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	return len(entries)
}

func TestCompressAcceptsPDF(t *testing.T) {
	svc := &stubJobService{}
	router, uploads := newTestRouter(t, svc, 0, nil)

	body, ct := multipartBody(t, "pdf_file", "My Report.pdf", pdfData, map[string]string{"profile": "screen"})
	rec := postCompress(router, body, ct)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["jobId"]; got != "job-123" {
		t.Fatalf("unexpected jobId: %v", got)
	}
	if len(svc.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(svc.submitted))
	}
	req := svc.submitted[0]
	if req.Profile != "screen" {
		t.Fatalf("unexpected profile: %q", req.Profile)
	}
	if req.InputName != "My_Report.pdf" {
		t.Fatalf("unexpected input name: %q", req.InputName)
	}
	if filepath.Dir(req.InputPath) != uploads.InputDir() {
		t.Fatalf("upload stored outside input dir: %s", req.InputPath)
	}
	if rec.Header().Get("Set-Cookie") == "" {
		t.Fatal("expected session cookie to be set")
	}
}

func TestCompressRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		data     []byte
		fields   map[string]string
		status   int
		code     string
	}{
		{"missing file", "", "", nil, nil, http.StatusBadRequest, codeInvalidInput},
		{"not a pdf extension", "file", "notes.txt", []byte("hello"), nil, http.StatusBadRequest, codeInvalidInput},
		{"pdf extension but not pdf content", "file", "fake.pdf", []byte("hello world"), nil, http.StatusBadRequest, codeInvalidInput},
		{"unknown profile", "file", "doc.pdf", pdfData, map[string]string{"profile": "ultra"}, http.StatusBadRequest, codeInvalidProfile},
		{"too large", "file", "big.pdf", append(append([]byte{}, pdfData...), make([]byte, 2048)...), nil, http.StatusRequestEntityTooLarge, codeLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubJobService{}
			router, uploads := newTestRouter(t, svc, 0, nil)

			body, ct := multipartBody(t, tt.field, tt.filename, tt.data, tt.fields)
			rec := postCompress(router, body, ct)

			if rec.Code != tt.status {
				t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
			}
			if code := decodeBody(t, rec)["code"]; code != tt.code {
				t.Fatalf("unexpected code: %v", code)
			}
			if len(svc.submitted) != 0 {
				t.Fatal("job must not be submitted")
			}
			if n := countFiles(t, uploads.InputDir()); n != 0 {
				t.Fatalf("expected no stored uploads, found %d", n)
			}
		})
	}
}

func TestCompressPageLimit(t *testing.T) {
	svc := &stubJobService{}
	router, uploads := newTestRouter(t, svc, 5, stubPageCounter{pages: 6})

	body, ct := multipartBody(t, "file", "doc.pdf", pdfData, nil)
	rec := postCompress(router, body, ct)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if n := countFiles(t, uploads.InputDir()); n != 0 {
		t.Fatalf("rejected upload was not removed, found %d files", n)
	}
}

func TestCompressQueueFullRemovesUpload(t *testing.T) {
	svc := &stubJobService{submitErr: jobs.ErrQueueFull}
	router, uploads := newTestRouter(t, svc, 0, nil)

	body, ct := multipartBody(t, "file", "doc.pdf", pdfData, nil)
	rec := postCompress(router, body, ct)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if n := countFiles(t, uploads.InputDir()); n != 0 {
		t.Fatalf("upload was not removed, found %d files", n)
	}
}

func TestProgressUnknownID(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobService{}, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress/nope", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["stage"] != "unknown" || payload["complete"] != true || payload["error"] != "invalid session id" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["percentage"] != float64(0) {
		t.Fatalf("unexpected percentage: %v", payload["percentage"])
	}
}

func TestSessionProgressFollowsLastJob(t *testing.T) {
	svc := &stubJobService{progress: map[string]jobs.Progress{
		"job-123": {Stage: jobs.StageProcessing, Percentage: 30, Message: "圧縮中"},
	}}
	router, _ := newTestRouter(t, svc, 0, nil)

	body, ct := multipartBody(t, "file", "doc.pdf", pdfData, nil)
	rec := postCompress(router, body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	progressRec := httptest.NewRecorder()
	router.ServeHTTP(progressRec, req)

	payload := decodeBody(t, progressRec)
	if payload["stage"] != "processing" || payload["percentage"] != float64(30) {
		t.Fatalf("unexpected payload: %v", payload)
	}

	// クッキーなしなら unknown
	anon := httptest.NewRecorder()
	router.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/api/progress", nil))
	if decodeBody(t, anon)["stage"] != "unknown" {
		t.Fatalf("expected unknown stage without session: %s", anon.Body.String())
	}
}

func TestResultStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", jobs.ErrNotFound, http.StatusNotFound},
		{"not ready", jobs.ErrNotReady, http.StatusConflict},
		{"failed", &jobs.JobError{JobID: "job-123", Kind: jobs.KindExecution, Message: "gs failed", Diagnostics: "bad xref"}, http.StatusUnprocessableEntity},
		{"store failure", errors.New("redis down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubJobService{resultErr: tt.err}, 0, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-123/result", nil))

			if rec.Code != tt.status {
				t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("failed carries kind and diagnostics", func(t *testing.T) {
		router, _ := newTestRouter(t, &stubJobService{resultErr: &jobs.JobError{
			JobID: "job-123", Kind: jobs.KindTimeout, Message: "slow", Diagnostics: "",
		}}, 0, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-123/result", nil))

		payload := decodeBody(t, rec)
		if payload["kind"] != string(jobs.KindTimeout) || payload["message"] != "slow" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	})
}

func TestResultSuccess(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobService{result: &jobs.Result{
		OriginalSize:   1000,
		CompressedSize: 400,
		Reduction:      60,
		Pages:          2,
		Profile:        "ebook",
		InputName:      "doc.pdf",
		OutputName:     "doc_compressed.pdf",
	}}, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-123/result", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["outputFileName"] != "doc_compressed.pdf" || payload["reduction"] != float64(60) {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["downloadUrl"] != "/api/jobs/job-123/download" {
		t.Fatalf("unexpected downloadUrl: %v", payload["downloadUrl"])
	}
}

func TestDownloadStreamsResult(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "job-123_doc_compressed.pdf")
	if err := os.WriteFile(outputPath, pdfData, 0o640); err != nil {
		t.Fatalf("failed to create output file: %v", err)
	}
	router, _ := newTestRouter(t, &stubJobService{result: &jobs.Result{
		OutputPath: outputPath,
		OutputName: "doc_compressed.pdf",
	}}, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-123/download", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd == "" {
		t.Fatal("expected Content-Disposition header")
	}
	if rec.Header().Get("X-Job-Id") != "job-123" {
		t.Fatalf("unexpected X-Job-Id header: %s", rec.Header().Get("X-Job-Id"))
	}
	if !bytes.Equal(rec.Body.Bytes(), pdfData) {
		t.Fatalf("unexpected response body: %q", rec.Body.Bytes())
	}
}

func TestDownloadMissingFile(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobService{result: &jobs.Result{
		OutputPath: filepath.Join(t.TempDir(), "gone.pdf"),
		OutputName: "gone.pdf",
	}}, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-123/download", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if payload := decodeBody(t, rec); payload["code"] != codeJobNotFound {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestDownloadJapaneseFilename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pdf")
	if err := os.WriteFile(path, pdfData, 0o644); err != nil {
		t.Fatal(err)
	}
	router, _ := newTestRouter(t, &stubJobService{result: &jobs.Result{
		OutputPath: path,
		OutputName: "報告書_compressed.pdf",
	}}, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-123/download", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	want := `attachment; filename="compressed.pdf"; filename*=UTF-8''%E5%A0%B1%E5%91%8A%E6%9B%B8_compressed.pdf`
	if cd := rec.Header().Get("Content-Disposition"); cd != want {
		t.Fatalf("unexpected Content-Disposition: %s", cd)
	}
}

func TestRespondWithErrorCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		code   string
		status int
	}{
		{codeInvalidInput, http.StatusBadRequest},
		{codeInvalidProfile, http.StatusBadRequest},
		{codeLimitExceeded, http.StatusRequestEntityTooLarge},
		{codeJobNotFound, http.StatusNotFound},
		{codeJobNotReady, http.StatusConflict},
		{codeQueueFull, http.StatusServiceUnavailable},
		{codeCanceled, http.StatusRequestTimeout},
		{codeCleanupFailed, http.StatusInternalServerError},
		{codeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			respondWithError(c, newError(tt.code, "message", nil))

			if rec.Code != tt.status {
				t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
			}
			if payload := decodeBody(t, rec); payload["code"] != tt.code {
				t.Fatalf("unexpected payload: %v", payload)
			}
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc := &stubJobService{}
	router, _ := newTestRouter(t, svc, 0, nil)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/jobs/job-123", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	}
	if len(svc.cleaned) != 2 {
		t.Fatalf("expected two cleanup calls, got %d", len(svc.cleaned))
	}
}

func TestCleanupAll(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobService{}, 0, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cleanup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	router, _ = newTestRouter(t, &stubJobService{cleanupErr: errors.New("permission denied")}, 0, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cleanup", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeBody(t, rec)["code"]; code != codeCleanupFailed {
		t.Fatalf("unexpected code: %v", code)
	}
}

func TestProfilesAndHealth(t *testing.T) {
	router, _ := newTestRouter(t, &stubJobService{}, 0, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profiles", nil))
	payload := decodeBody(t, rec)
	profiles, ok := payload["profiles"].([]any)
	if !ok || len(profiles) != 3 {
		t.Fatalf("unexpected profiles: %v", payload["profiles"])
	}
	if payload["default"] != "ebook" {
		t.Fatalf("unexpected default: %v", payload["default"])
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	payload = decodeBody(t, rec)
	if payload["status"] != "ok" || payload["ghostscript"] != true {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}
