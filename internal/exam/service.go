// Package exam runs the exam pipeline from a teacher request to a rendered
// document, and hands the rendered document over for archiving.
package exam

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/trilma/internal/archive"
	"github.com/pavelanni/trilma/internal/latex"
	"github.com/pavelanni/trilma/internal/model"
	"github.com/pavelanni/trilma/internal/parse"
	"github.com/pavelanni/trilma/internal/prompts"
	"github.com/pavelanni/trilma/internal/render"
	"github.com/pavelanni/trilma/internal/tasks"
)

// Generator produces the full reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Renderer turns LaTeX source into a document locator.
type Renderer interface {
	Render(ctx context.Context, source string) (*url.URL, error)
}

// Archiver persists a rendered document for its owner.
type Archiver interface {
	Archive(ctx context.Context, job archive.Job) (*model.ExamArtifact, error)
}

// Dispatcher runs work after the caller got its reply.
type Dispatcher interface {
	Submit(name string, fn tasks.Task) error
}

// Request is a validated exam request.
type Request struct {
	Exercises      model.ExercisesRequest
	Subject        string
	SchoolContext  string
	StudentContext string
	IncludeAnswers bool
}

// Created describes a rendered exam that has not been archived yet.
type Created struct {
	Owner    int64
	FileName string
	Locator  *url.URL
}

// Service wires the pipeline stages together.
type Service struct {
	gen        Generator
	renderer   Renderer
	archiver   Archiver
	dispatcher Dispatcher
	doc        *latex.Renderer
	cfg        model.ExamConfig
	debugFS    afero.Fs
	tracer     trace.Tracer
}

// NewService creates the pipeline. A nil doc renderer uses fresh randomness
// and English labels.
func NewService(gen Generator, renderer Renderer, archiver Archiver, dispatcher Dispatcher, doc *latex.Renderer, cfg model.ExamConfig) *Service {
	if doc == nil {
		doc = latex.NewRenderer(nil, latex.DefaultLabels)
	}
	return &Service{
		gen:        gen,
		renderer:   renderer,
		archiver:   archiver,
		dispatcher: dispatcher,
		doc:        doc,
		cfg:        cfg,
		debugFS:    afero.NewOsFs(),
		tracer:     otel.Tracer("github.com/pavelanni/trilma/internal/exam"),
	}
}

// Create generates, renders and returns the exam. Nothing is persisted.
func (s *Service) Create(ctx context.Context, owner int64, req Request) (created *Created, err error) {
	ctx, span := s.tracer.Start(ctx, "exam.Create", trace.WithAttributes(
		attribute.Int64("exam.owner", owner),
		attribute.String("exam.subject", req.Subject),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	kinds := req.Exercises.Sections()
	if len(kinds) == 0 {
		return nil, model.ErrEmptyRequest
	}

	prompt, err := prompts.Build(prompts.Input{
		Exercises:      req.Exercises,
		Subject:        req.Subject,
		SchoolContext:  req.SchoolContext,
		StudentContext: req.StudentContext,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	start := time.Now()
	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	slog.Info("exam generated", "owner", owner, "sections", len(kinds), "duration", time.Since(start).String())

	generated, err := parse.Exercises(reply, kinds)
	if err != nil {
		s.dump(owner, "payload.txt", reply)
		return nil, err
	}

	sections, err := s.doc.Render(generated)
	if err != nil {
		return nil, fmt.Errorf("render sections: %w", err)
	}
	source := latex.Assemble(sections, req.IncludeAnswers, s.doc.Labels())
	s.dump(owner, "payload.yaml", parse.ExtractPayload(reply))
	s.dump(owner, "exam.tex", source)

	locator, err := s.renderer.Render(ctx, source)
	if err != nil {
		return nil, err
	}

	created = &Created{Owner: owner, FileName: render.FileName(locator), Locator: locator}
	span.SetAttributes(attribute.String("exam.file_name", created.FileName))
	slog.Info("exam rendered", "owner", owner, "file_name", created.FileName)
	return created, nil
}

// Archive queues persistence of a created exam. It must be called after the
// caller has been answered.
func (s *Service) Archive(c *Created) error {
	job := archive.Job{Owner: c.Owner, Locator: c.Locator, FileName: c.FileName}
	err := s.dispatcher.Submit("archive "+c.FileName, func(ctx context.Context) error {
		_, err := s.archiver.Archive(ctx, job)
		return err
	})
	if err != nil {
		slog.Error("failed to queue exam archiving", "owner", c.Owner, "file_name", c.FileName, "error", err)
	}
	return err
}

// dump writes pipeline intermediates to the debug directory in development.
func (s *Service) dump(owner int64, name, content string) {
	if !s.cfg.IncludeDebug || s.cfg.DebugDir == "" {
		return
	}
	dir := filepath.Join(s.cfg.DebugDir, fmt.Sprintf("%d", owner))
	if err := s.debugFS.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("debug dump failed", "dir", dir, "error", err)
		return
	}
	p := filepath.Join(dir, time.Now().Format("20060102-150405")+"-"+name)
	if err := afero.WriteFile(s.debugFS, p, []byte(content), 0o644); err != nil {
		slog.Warn("debug dump failed", "path", p, "error", err)
		return
	}
	slog.Debug("debug dump written", "path", p)
}
