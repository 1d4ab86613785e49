package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/pavelanni/trilma/internal/blob"
	"github.com/pavelanni/trilma/internal/llm"
	"github.com/pavelanni/trilma/internal/model"
	"github.com/pavelanni/trilma/internal/store"
)

// examStore is what the server needs from an exam record backend.
type examStore interface {
	RecordExam(ctx context.Context, a model.ExamArtifact) error
	ListExams(ctx context.Context, owner int64) ([]model.ExamArtifact, error)
	GetExam(ctx context.Context, owner int64, id string) (*model.ExamArtifact, error)
	FindExamByFileName(ctx context.Context, owner int64, fileName string) (*model.ExamArtifact, error)
	Close() error
}

func openStore(ctx context.Context, v *viper.Viper) (examStore, error) {
	switch kind := v.GetString("store"); kind {
	case "sqlite":
		db, err := store.New(v.GetString("db"))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		slog.Info("using sqlite exam store", "path", v.GetString("db"))
		return db, nil
	case "firestore":
		fs, err := store.NewFirestore(ctx, v.GetString("gcp-project"), v.GetString("firestore-collection"))
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		slog.Info("using firestore exam store", "project", v.GetString("gcp-project"))
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or firestore)", kind)
	}
}

func openBlobs(ctx context.Context, v *viper.Viper) (blob.Store, func(), error) {
	switch kind := v.GetString("blob"); kind {
	case "local":
		s, err := blob.NewFS(v.GetString("blob-dir"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "gcs":
		bucket := v.GetString("gcs-bucket")
		if bucket == "" {
			return nil, nil, fmt.Errorf("--gcs-bucket is required for the gcs document storage")
		}
		s, err := blob.NewGCS(ctx, bucket)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q (want local or gcs)", kind)
	}
}

func openGenerator(ctx context.Context, v *viper.Viper) (llm.Generator, func(), error) {
	opts := llm.Options{
		MaxOutputTokens: v.GetInt("max-output-tokens"),
		MaxAttempts:     v.GetInt("generation-attempts"),
	}
	switch kind := v.GetString("llm-provider"); kind {
	case "openai":
		c := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), opts)
		if err := c.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		return c, func() {}, nil
	case "vertex":
		c, err := llm.NewVertex(ctx, v.GetString("gcp-project"), v.GetString("vertex-region"), v.GetString("llm-model"), opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create Vertex AI client: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q (want openai or vertex)", kind)
	}
}
