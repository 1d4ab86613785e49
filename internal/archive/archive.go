// Package archive links rendered exams to their owners in durable storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/trilma/internal/blob"
	"github.com/pavelanni/trilma/internal/model"
)

// maxDocumentSize caps the bytes fetched from a render locator.
const maxDocumentSize = 50 << 20

// Recorder stores the exam record in one transaction.
type Recorder interface {
	RecordExam(ctx context.Context, a model.ExamArtifact) error
}

// Inspector checks fetched bytes and reports the page count.
type Inspector interface {
	Inspect(data []byte) (pages int, err error)
}

// Job is one rendered exam waiting to be archived.
type Job struct {
	Owner    int64
	Locator  *url.URL
	FileName string
}

// Archiver fetches a rendered document, uploads it and records it.
type Archiver struct {
	http      *http.Client
	inspector Inspector
	blobs     blob.Store
	recorder  Recorder
	env       string
}

// New creates an archiver. A nil inspector selects PDFInspector.
func New(blobs blob.Store, recorder Recorder, inspector Inspector, env string) *Archiver {
	if inspector == nil {
		inspector = PDFInspector{}
	}
	return &Archiver{
		http: &http.Client{
			Timeout: time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
			),
		},
		inspector: inspector,
		blobs:     blobs,
		recorder:  recorder,
		env:       env,
	}
}

// Archive stores the document behind job.Locator under the owner's namespace
// and records it. A record exists only if the upload succeeded; when the
// record fails the upload is removed again.
func (a *Archiver) Archive(ctx context.Context, job Job) (*model.ExamArtifact, error) {
	logCtx := slog.With("owner", job.Owner, "file_name", job.FileName)
	namespace := blob.Namespace(a.env, job.Owner)

	data, err := a.fetch(ctx, job.Locator)
	if err != nil {
		logCtx.Error("failed to fetch rendered exam", "error", err)
		return nil, fmt.Errorf("%w: fetch: %v", model.ErrPersistence, err)
	}

	pages, err := a.inspector.Inspect(data)
	if err != nil {
		logCtx.Error("rendered exam is not a valid PDF", "error", err)
		return nil, fmt.Errorf("%w: inspect: %v", model.ErrPersistence, err)
	}

	id, err := a.blobs.Upload(ctx, namespace, data)
	if err != nil {
		logCtx.Error("failed to upload exam", "error", err)
		return nil, fmt.Errorf("%w: upload: %v", model.ErrPersistence, err)
	}
	logCtx = logCtx.With("id", id)

	artifact := model.ExamArtifact{
		ID:        id,
		OwnerID:   job.Owner,
		FileName:  job.FileName,
		Pages:     pages,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.recorder.RecordExam(ctx, artifact); err != nil {
		logCtx.Error("failed to record exam, removing upload", "error", err)
		if derr := a.blobs.Delete(context.WithoutCancel(ctx), namespace, id); derr != nil {
			logCtx.Error("failed to remove orphaned upload", "namespace", namespace, "error", derr)
		}
		return nil, fmt.Errorf("%w: record: %v", model.ErrPersistence, err)
	}

	logCtx.Info("exam archived", "pages", pages, "bytes", len(data))
	return &artifact, nil
}

func (a *Archiver) fetch(ctx context.Context, locator *url.URL) ([]byte, error) {
	if locator == nil {
		return nil, fmt.Errorf("no locator")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if n > maxDocumentSize {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
	}
	return buf.Bytes(), nil
}
