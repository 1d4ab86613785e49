package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/trilma/internal/model"
)

// ExamLister is implemented by every exam record backend.
type ExamLister interface {
	ListExams(ctx context.Context, owner int64) ([]model.ExamArtifact, error)
}

// ExportExams builds an export-ready view of an owner's exams.
func ExportExams(ctx context.Context, l ExamLister, owner int64, env string) (*model.ExamExport, error) {
	exams, err := l.ListExams(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	if exams == nil {
		exams = []model.ExamArtifact{}
	}
	return &model.ExamExport{
		OwnerID:    owner,
		Env:        env,
		ExportedAt: time.Now().UTC(),
		Count:      len(exams),
		Exams:      exams,
	}, nil
}
