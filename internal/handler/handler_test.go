package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"

	"github.com/pavelanni/trilma/internal/blob"
	"github.com/pavelanni/trilma/internal/exam"
	appI18n "github.com/pavelanni/trilma/internal/i18n"
	"github.com/pavelanni/trilma/internal/model"
	"github.com/pavelanni/trilma/internal/render"
	"github.com/pavelanni/trilma/internal/store"
)

var testSecret = []byte("test-secret")

type fakeExams struct {
	created  *exam.Created
	err      error
	requests []exam.Request
	ctxErr   error
	archived []*exam.Created
	// repliedBeforeArchive records whether the body was written when Archive ran.
	repliedBeforeArchive bool
	rec                  *httptest.ResponseRecorder
}

func (f *fakeExams) Create(ctx context.Context, owner int64, req exam.Request) (*exam.Created, error) {
	f.requests = append(f.requests, req)
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	c := *f.created
	c.Owner = owner
	return &c, nil
}

func (f *fakeExams) Archive(c *exam.Created) error {
	if f.rec != nil && f.rec.Body.Len() > 0 {
		f.repliedBeforeArchive = true
	}
	f.archived = append(f.archived, c)
	return nil
}

type testEnv struct {
	router http.Handler
	exams  *fakeExams
	store  *store.Store
	blobs  *blob.FS
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	loc, _ := url.Parse("https://render.example/out/exam-1.pdf")
	env := &testEnv{
		exams: &fakeExams{created: &exam.Created{FileName: "exam-1.pdf", Locator: loc}},
		store: s,
		blobs: blob.NewMemFS(),
	}
	h := New(env.exams, s, env.blobs, Config{Env: "test", JWTSecret: testSecret})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	env.router = r
	return env
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func (e *testEnv) do(t *testing.T, method, target, body string, user int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user > 0 {
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"id": user}))
	}
	rec := httptest.NewRecorder()
	e.exams.rec = rec
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

const validBody = `{
	"exercises": {"choiceSet": [{"description": "fractions", "quantity": 2}]},
	"subject": "mathematics",
	"contextSchool": "public school",
	"includeAnswers": true
}`

func TestCreateExam(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/exam", validBody, 42)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	out := decodeEnvelope(t, rec)
	if out["success"] != true {
		t.Errorf("success = %v", out["success"])
	}
	if errs, ok := out["errors"].([]any); !ok || len(errs) != 0 {
		t.Errorf("errors = %v, want empty list", out["errors"])
	}
	if data := out["data"].(map[string]any); data["fileName"] != "exam-1.pdf" {
		t.Errorf("fileName = %v", data["fileName"])
	}

	req := env.exams.requests[0]
	if req.Subject != "mathematics" || !req.IncludeAnswers || req.SchoolContext != "public school" {
		t.Errorf("unexpected request %+v", req)
	}
	if len(env.exams.archived) != 1 || env.exams.archived[0].Owner != 42 {
		t.Fatalf("expected one archive for owner 42, got %+v", env.exams.archived)
	}
	if !env.exams.repliedBeforeArchive {
		t.Error("archive must be queued after the reply is written")
	}
}

func TestCreateExamSurvivesClientDisconnect(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/exam", strings.NewReader(validBody)).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"id": 3}))
	rec := httptest.NewRecorder()
	env.exams.rec = rec
	env.router.ServeHTTP(rec, req)

	if len(env.exams.requests) != 1 {
		t.Fatalf("expected the pipeline to run once, got %d", len(env.exams.requests))
	}
	if env.exams.ctxErr != nil {
		t.Errorf("pipeline context error = %v, want nil", env.exams.ctxErr)
	}
}

func TestCreateExamContextLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := strings.Repeat("x", 200)
	body := `{"exercises": {"openEnded": [{"description": "d", "quantity": 1}]}, "subject": "physics", "contextSchool": "` + ctx + `", "contextStudent": "` + ctx + `"}`
	if rec := env.do(t, http.MethodPost, "/exam", body, 1); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateExamInvalidBody(t *testing.T) {
	long := strings.Repeat("x", 201)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown subject", `{"exercises": {"openEnded": [{"description": "d", "quantity": 1}]}, "subject": "astrology"}`},
		{"quantity too high", `{"exercises": {"openEnded": [{"description": "d", "quantity": 11}]}, "subject": "physics"}`},
		{"quantity zero", `{"exercises": {"openEnded": [{"description": "d", "quantity": 0}]}, "subject": "physics"}`},
		{"description too long", `{"exercises": {"openEnded": [{"description": "` + long + `", "quantity": 1}]}, "subject": "physics"}`},
		{"school context too long", `{"exercises": {"openEnded": [{"description": "d", "quantity": 1}]}, "subject": "physics", "contextSchool": "` + long + `"}`},
		{"student context too long", `{"exercises": {"openEnded": [{"description": "d", "quantity": 1}]}, "subject": "physics", "contextStudent": "` + long + `"}`},
		{"empty description", `{"exercises": {"openEnded": [{"description": "", "quantity": 1}]}, "subject": "physics"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/exam", tt.body, 1)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			out := decodeEnvelope(t, rec)
			if errs := out["errors"].([]any); errs[0] != codeInvalidBody {
				t.Errorf("errors = %v", errs)
			}
			if len(env.exams.requests) != 0 {
				t.Error("pipeline must not run for an invalid body")
			}
		})
	}
}

func TestCreateExamPipelineErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		fileName string
	}{
		{"bad render", &render.BadSourceError{Locator: "https://render.example/render_failed.html"}, http.StatusInternalServerError, codeBadLatex, "https://render.example/render_failed.html"},
		{"empty", model.ErrEmptyRequest, http.StatusBadRequest, codeEmptyRequest, ""},
		{"unavailable", model.ErrGenerationUnavailable, http.StatusServiceUnavailable, codeGenerationUnavailable, ""},
		{"malformed", model.ErrMalformedGeneration, http.StatusBadGateway, codeMalformedGeneration, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.exams.err = tt.err
			rec := env.do(t, http.MethodPost, "/exam", validBody, 1)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			out := decodeEnvelope(t, rec)
			if out["success"] != false {
				t.Error("success should be false")
			}
			if errs := out["errors"].([]any); errs[0] != tt.code {
				t.Errorf("errors = %v, want [%s]", errs, tt.code)
			}
			if tt.fileName != "" {
				if data := out["data"].(map[string]any); data["fileName"] != tt.fileName {
					t.Errorf("fileName = %v, want %s", data["fileName"], tt.fileName)
				}
			}
			if len(env.exams.archived) != 0 {
				t.Error("failed exams must not be archived")
			}
		})
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  int
	}{
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"wrong secret", func(r *http.Request) {
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": 1}).SignedString([]byte("other"))
			r.Header.Set("Authorization", "Bearer "+tok)
		}, http.StatusUnauthorized},
		{"expired", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"id": 1, "exp": time.Now().Add(-time.Hour).Unix()}))
		}, http.StatusUnauthorized},
		{"missing id", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "x"}))
		}, http.StatusUnauthorized},
		{"cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: signToken(t, jwt.MapClaims{"id": "7"})})
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/exams", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListAndFetchExams(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.blobs.Upload(ctx, blob.Namespace("test", 5), []byte("%PDF-1.4 stored"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := env.store.RecordExam(ctx, model.ExamArtifact{ID: id, OwnerID: 5, FileName: "exam-5.pdf", Pages: 1}); err != nil {
		t.Fatalf("RecordExam: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/exams", "", 5)
	out := decodeEnvelope(t, rec)
	data := out["data"].(map[string]any)
	if data["count"] != float64(1) || data["summary"] != "1 exam" {
		t.Errorf("unexpected list %v", data)
	}

	for _, target := range []string{"/file/pdf/" + id, "/file/pdf/exam-5.pdf"} {
		rec := env.do(t, http.MethodGet, target, "", 5)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", target, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("Content-Type = %q", ct)
		}
		if rec.Body.String() != "%PDF-1.4 stored" {
			t.Errorf("body = %q", rec.Body.String())
		}
	}

	// Another user cannot read the exam.
	if rec := env.do(t, http.MethodGet, "/file/pdf/"+id, "", 6); rec.Code != http.StatusNotFound {
		t.Errorf("foreign owner status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/file/pdf/missing.pdf", "", 5)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
	if msg := decodeEnvelope(t, rec)["message"]; msg != "Exam missing.pdf was not found." {
		t.Errorf("message = %v", msg)
	}
}

func TestExamFileQuotedName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.blobs.Upload(ctx, blob.Namespace("test", 8), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	name := `say "hi".pdf`
	if err := env.store.RecordExam(ctx, model.ExamArtifact{ID: id, OwnerID: 8, FileName: name, Pages: 1}); err != nil {
		t.Fatalf("RecordExam: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/file/pdf/"+id, "", 8)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("parse Content-Disposition %q: %v", rec.Header().Get("Content-Disposition"), err)
	}
	if disposition != "inline" || params["filename"] != name {
		t.Errorf("disposition = %q, filename = %q", disposition, params["filename"])
	}
}
