package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/trilma/internal/blob"
	"github.com/pavelanni/trilma/internal/exam"
	appI18n "github.com/pavelanni/trilma/internal/i18n"
	"github.com/pavelanni/trilma/internal/model"
	"github.com/pavelanni/trilma/internal/render"
)

// Error codes returned in the response envelope.
const (
	codeBadLatex              = "badLatex"
	codeGenerationUnavailable = "generationUnavailable"
	codeMalformedGeneration   = "malformedGeneration"
	codeEmptyRequest          = "emptyRequest"
	codeInvalidBody           = "invalidBody"
	codeUnauthorized          = "unauthorized"
	codeNotFound              = "notFound"
	codeInternal              = "internal"
)

const maxBodySize = 1 << 20

// ExamCreator runs the exam pipeline.
type ExamCreator interface {
	Create(ctx context.Context, owner int64, req exam.Request) (*exam.Created, error)
	Archive(c *exam.Created) error
}

// ExamStore reads exam records.
type ExamStore interface {
	ListExams(ctx context.Context, owner int64) ([]model.ExamArtifact, error)
	GetExam(ctx context.Context, owner int64, id string) (*model.ExamArtifact, error)
	FindExamByFileName(ctx context.Context, owner int64, fileName string) (*model.ExamArtifact, error)
}

// Config holds handler settings.
type Config struct {
	Env       string
	JWTSecret []byte
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	exams    ExamCreator
	store    ExamStore
	blobs    blob.Store
	validate *validator.Validate
	config   Config
}

// New creates a new Handler.
func New(exams ExamCreator, s ExamStore, blobs blob.Store, cfg Config) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("subject", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.Subjects, fl.Field().String())
	})
	return &Handler{exams: exams, store: s, blobs: blobs, validate: v, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/exam", h.handleCreateExam)
		r.Get("/exams", h.handleListExams)
		r.Get("/file/pdf/{fileID}", h.handleExamFile)
	})
}

type envelope struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	if env.Errors == nil {
		env.Errors = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msgID string, data any) {
	writeJSON(w, status, envelope{
		Errors:  []string{code},
		Message: appI18n.T(r.Context(), msgID),
		Data:    data,
	})
}

type createExamBody struct {
	Exercises      model.ExercisesRequest `json:"exercises"`
	Subject        string                 `json:"subject" validate:"required,subject"`
	SchoolContext  string                 `json:"contextSchool" validate:"max=200"`
	StudentContext string                 `json:"contextStudent" validate:"max=200"`
	IncludeAnswers bool                   `json:"includeAnswers"`
}

type fileNameData struct {
	FileName string `json:"fileName"`
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	owner, _ := model.UserFromContext(r.Context())

	var body createExamBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&body); err != nil {
		slog.Warn("invalid exam request", "owner", owner, "error", err)
		writeError(w, r, http.StatusBadRequest, codeInvalidBody, "ErrInvalidBody", nil)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		slog.Warn("invalid exam request", "owner", owner, "error", err)
		writeError(w, r, http.StatusBadRequest, codeInvalidBody, "ErrInvalidBody", nil)
		return
	}

	// Generation and rendering outlive a client that hangs up.
	created, err := h.exams.Create(context.WithoutCancel(r.Context()), owner, exam.Request{
		Exercises:      body.Exercises,
		Subject:        body.Subject,
		SchoolContext:  body.SchoolContext,
		StudentContext: body.StudentContext,
		IncludeAnswers: body.IncludeAnswers,
	})
	if err != nil {
		h.writeCreateError(w, r, owner, err)
		return
	}

	writeOK(w, fileNameData{FileName: created.FileName})

	// The reply is written; archiving failures are only logged from here on.
	_ = h.exams.Archive(created)
}

func (h *Handler) writeCreateError(w http.ResponseWriter, r *http.Request, owner int64, err error) {
	var bad *render.BadSourceError
	switch {
	case errors.As(err, &bad):
		slog.Error("render produced no PDF", "owner", owner, "locator", bad.Locator)
		writeError(w, r, http.StatusInternalServerError, codeBadLatex, "ErrBadLatex", fileNameData{FileName: bad.Locator})
	case errors.Is(err, model.ErrEmptyRequest):
		writeError(w, r, http.StatusBadRequest, codeEmptyRequest, "ErrEmptyRequest", nil)
	case errors.Is(err, model.ErrGenerationUnavailable):
		slog.Error("generation unavailable", "owner", owner, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, codeGenerationUnavailable, "ErrGenerationUnavailable", nil)
	case errors.Is(err, model.ErrMalformedGeneration):
		slog.Error("malformed generation", "owner", owner, "error", err)
		writeError(w, r, http.StatusBadGateway, codeMalformedGeneration, "ErrMalformedGeneration", nil)
	default:
		slog.Error("exam creation failed", "owner", owner, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "ErrInternal", nil)
	}
}

type examList struct {
	Count   int                  `json:"count"`
	Summary string               `json:"summary"`
	Exams   []model.ExamArtifact `json:"exams"`
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	owner, _ := model.UserFromContext(r.Context())
	exams, err := h.store.ListExams(r.Context(), owner)
	if err != nil {
		slog.Error("failed to list exams", "owner", owner, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "ErrInternal", nil)
		return
	}
	if exams == nil {
		exams = []model.ExamArtifact{}
	}
	writeOK(w, examList{
		Count:   len(exams),
		Summary: appI18n.Tp(r.Context(), "ExamsFound", len(exams)),
		Exams:   exams,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}
