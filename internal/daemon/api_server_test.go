package daemon_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"retrievald/internal/api"
	"retrievald/internal/config"
	"retrievald/internal/retrieval"
)

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set(api.TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, h http.Handler, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	return do(t, h, method, target, body, testToken)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong token", header: api.TokenHeader, value: "nope", want: http.StatusUnauthorized},
		{name: "token header", header: api.TokenHeader, value: testToken, want: http.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer " + testToken, want: http.StatusOK},
		{name: "bearer wrong", header: "Authorization", value: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, api.PathState, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"unauthorized"}` {
					t.Fatalf("body = %q", got)
				}
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Fatalf("content type = %q", ct)
				}
			}
		})
	}
}

func TestHealthIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	rec := do(t, f.daemon.Handler(), http.MethodGet, api.PathHealth, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	health := decodeBody[api.HealthResponse](t, rec)
	if health.Status != "ok" {
		t.Fatalf("health = %+v", health)
	}
	if rec.Header().Get(api.RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, api.PathHealth, nil)
	req.Header.Set(api.RequestIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	f.daemon.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(api.RequestIDHeader); got != "trace-42" {
		t.Fatalf("request id = %q", got)
	}
}

func TestRetrievalRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	rec := doJSON(t, h, http.MethodPost, api.PathSuggest, retrieval.SuggestRequest{Query: "notes", Limit: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("suggest status = %d: %s", rec.Code, rec.Body.String())
	}
	suggestions := decodeBody[api.SuggestResponse](t, rec)
	if len(suggestions.Suggestions) != 1 || suggestions.Suggestions[0].ItemID != "item-1" {
		t.Fatalf("suggestions = %+v", suggestions)
	}
	if f.service.suggest.Limit != 5 {
		t.Fatalf("limit not forwarded: %+v", f.service.suggest)
	}

	rec = doJSON(t, h, http.MethodPost, api.PathContextPack, retrieval.ContextPackRequest{Query: "notes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("context pack status = %d", rec.Code)
	}
	if pack := decodeBody[retrieval.ContextPack](t, rec); pack.ID != "pack-1" {
		t.Fatalf("pack = %+v", pack)
	}

	rec = doJSON(t, h, http.MethodPost, api.PathPreview, api.PreviewRequest{ItemID: "item-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d", rec.Code)
	}
	if preview := decodeBody[retrieval.Preview](t, rec); preview.Text != "hello" {
		t.Fatalf("preview = %+v", preview)
	}

	for _, path := range []string{api.PathState, api.PathProgress, api.PathIndexStats} {
		if rec := doJSON(t, h, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}

	rec = doJSON(t, h, http.MethodGet, api.PathActivity, nil)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"entries":[]}` {
		t.Fatalf("activity body = %s", got)
	}
	rec = doJSON(t, h, http.MethodGet, api.PathBackfillJobs, nil)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"jobs":[]}` {
		t.Fatalf("jobs body = %s", got)
	}
}

func TestBackfillJobActions(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	rec := doJSON(t, h, http.MethodPost, api.PathBackfillPause, api.JobRequest{JobID: "job-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	if f.service.jobAction != "pause:job-1" {
		t.Fatalf("job action = %q", f.service.jobAction)
	}
	rec = doJSON(t, h, http.MethodPost, api.PathBackfillResume, api.JobRequest{JobID: "job-1"})
	if rec.Code != http.StatusOK || f.service.jobAction != "resume:job-1" {
		t.Fatalf("resume status = %d action = %q", rec.Code, f.service.jobAction)
	}
	rec = doJSON(t, h, http.MethodPost, api.PathBackfillPause, api.JobRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty job id status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, api.PathBackfillTrigger, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger status = %d", rec.Code)
	}
}

func TestScopesAllowlist(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()
	allowed := filepath.Join(f.cfg.Paths.DataDir, "docs")

	rec := doJSON(t, h, http.MethodPost, api.PathScopes, api.ScopesRequest{
		Scopes: []retrieval.Scope{{Root: allowed, Enabled: true}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("scopes status = %d: %s", rec.Code, rec.Body.String())
	}
	realData, err := filepath.EvalSymlinks(f.cfg.Paths.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.service.scopes) != 1 || f.service.scopes[0].Root != filepath.Join(realData, "docs") {
		t.Fatalf("scopes = %+v", f.service.scopes)
	}

	rec = doJSON(t, h, http.MethodPost, api.PathScopes, api.ScopesRequest{
		Scopes: []retrieval.Scope{{Root: "/etc", Enabled: true}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outside allowlist status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, api.PathScopes, api.ScopesRequest{
		Scopes: []retrieval.Scope{{Root: "relative/dir", Enabled: true}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("relative root status = %d", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: fmt.Errorf("item x: %w", retrieval.ErrNotFound), want: http.StatusNotFound},
		{name: "invalid", err: fmt.Errorf("%w: query is required", retrieval.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "allowlist", err: config.ErrOutsideAllowlist, want: http.StatusForbidden},
		{name: "opaque", err: errors.New("index corrupted"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.service.err = tt.err
			rec := doJSON(t, f.daemon.Handler(), http.MethodPost, api.PathSuggest, retrieval.SuggestRequest{Query: "q"})
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			body := decodeBody[api.ErrorResponse](t, rec)
			if body.Error != tt.err.Error() {
				t.Fatalf("error = %q, want %q", body.Error, tt.err.Error())
			}
		})
	}
}

func TestMalformedBodies(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty", body: "", want: http.StatusBadRequest},
		{name: "syntax", body: "{", want: http.StatusBadRequest},
		{name: "unknown field", body: `{"query":"x","bogus":1}`, want: http.StatusBadRequest},
		{name: "trailing", body: `{"query":"x"}{"query":"y"}`, want: http.StatusBadRequest},
		{name: "too large", body: `{"query":"` + strings.Repeat("a", 2048) + `"}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, api.PathSuggest, strings.NewReader(tt.body), testToken)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestUploadBodyTooLarge(t *testing.T) {
	f := newFixture(t)
	body := bytes.Repeat([]byte("x"), 4096)
	rec := do(t, f.daemon.Handler(), http.MethodPost, "/api/v1/tasks/abc123/uploads?name=big.bin", bytes.NewReader(body), testToken)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody[api.ErrorResponse](t, rec); body.Error != "request body too large" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestTaskFileLifecycle(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/tasks/abc123/uploads?name=report.pdf", strings.NewReader("%PDF-1.7"), testToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	uploaded := decodeBody[api.UploadResponse](t, rec)
	if !strings.HasSuffix(uploaded.Path, filepath.Join("Uploads", "abc123", "report.pdf")) {
		t.Fatalf("upload path = %q", uploaded.Path)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/abc123/uploads/paths", nil)
	paths := decodeBody[api.PathsResponse](t, rec)
	if len(paths.Paths) != 1 || !strings.HasSuffix(paths.Paths[0], filepath.Join("Uploads", "abc123", "report.pdf")) {
		t.Fatalf("paths = %+v", paths)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/tasks/abc123/uploads", nil)
	files := decodeBody[api.FilesResponse](t, rec)
	if len(files.Files) != 1 || files.Files[0].MimeType != "application/pdf" || files.Files[0].UploadedAt == nil {
		t.Fatalf("files = %+v", files)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/tasks/abc123/files/input/report.pdf", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("file data status = %d", rec.Code)
	}
	if rec.Body.String() != "%PDF-1.7" {
		t.Fatalf("file data = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
		t.Fatalf("content disposition = %q", cd)
	}

	outbox := filepath.Join(f.cfg.Paths.DataDir, "outbox")
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outbox, "summary.txt"), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/tasks/abc123/outputs/collect", api.CollectRequest{Outbox: outbox})
	if rec.Code != http.StatusOK {
		t.Fatalf("collect status = %d: %s", rec.Code, rec.Body.String())
	}
	collected := decodeBody[api.CollectResponse](t, rec)
	if collected.Copied != 1 || len(collected.Files) != 1 || collected.Files[0].CreatedAt == nil {
		t.Fatalf("collected = %+v", collected)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/tasks/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	for _, target := range []string{"/api/v1/tasks/abc123/uploads", "/api/v1/tasks/abc123/outputs"} {
		rec = doJSON(t, h, http.MethodGet, target, nil)
		if got := strings.TrimSpace(rec.Body.String()); got != `{"files":[]}` {
			t.Fatalf("%s after delete = %s", target, got)
		}
	}
}

func TestTaskFileErrors(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	tests := []struct {
		name   string
		method string
		target string
		body   io.Reader
		want   int
	}{
		{name: "missing name", method: http.MethodPost, target: "/api/v1/tasks/abc123/uploads", body: strings.NewReader("x"), want: http.StatusBadRequest},
		{name: "invalid task", method: http.MethodPost, target: "/api/v1/tasks/bad.id/uploads?name=a.txt", body: strings.NewReader("x"), want: http.StatusBadRequest},
		{name: "unknown direction", method: http.MethodGet, target: "/api/v1/tasks/abc123/files/sideways/a.txt", want: http.StatusBadRequest},
		{name: "missing file", method: http.MethodGet, target: "/api/v1/tasks/abc123/files/output/a.txt", want: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPut, target: "/api/v1/tasks/abc123/uploads", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body, testToken)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCollectOutsideAllowlist(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.daemon.Handler(), http.MethodPost, "/api/v1/tasks/abc123/outputs/collect", api.CollectRequest{Outbox: "/etc"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	files, err := f.files.ListOutputs(t.Context(), "abc123")
	if err != nil {
		t.Fatalf("ListOutputs: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("outputs = %+v", files)
	}
}

// linkOutside creates <DataDir>/<name> pointing at a fresh directory outside
// the allowlist that holds secret.txt.
func linkOutside(t *testing.T, f *fixture, name string) string {
	t.Helper()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("TOPSECRET"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(f.cfg.Paths.DataDir, name)
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	return link
}

func TestCollectThroughSymlinkOutsideAllowlist(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()
	link := linkOutside(t, f, "outbox-link")

	for _, outbox := range []string{link, filepath.Join(link, "nested")} {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks/abc123/outputs/collect", api.CollectRequest{Outbox: outbox})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("collect %s status = %d: %s", outbox, rec.Code, rec.Body.String())
		}
	}
	rec := do(t, h, http.MethodGet, "/api/v1/tasks/abc123/files/output/secret.txt", nil, testToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("secret readable: status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestScopeThroughSymlinkOutsideAllowlist(t *testing.T) {
	f := newFixture(t)
	link := linkOutside(t, f, "scope-link")

	rec := doJSON(t, f.daemon.Handler(), http.MethodPost, api.PathScopes, api.ScopesRequest{
		Scopes: []retrieval.Scope{{Root: link, Enabled: true}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.service.scopes) != 0 {
		t.Fatalf("scopes configured: %+v", f.service.scopes)
	}
}

func TestUploadNameRoundTripsVerbatim(t *testing.T) {
	f := newFixture(t)
	h := f.daemon.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/tasks/t1/uploads?name=%20.notes.txt", strings.NewReader("hello"), testToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/api/v1/tasks/t1/files/input/%20.notes.txt", nil, testToken)
	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("read back status = %d body = %q", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/v1/tasks/t1/uploads?name=", strings.NewReader("x"), testToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name status = %d", rec.Code)
	}
}
