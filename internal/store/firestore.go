package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pavelanni/trilma/internal/model"
)

// DefaultCollection holds exam records when no collection is configured.
const DefaultCollection = "exams"

// FirestoreStore keeps exam records in a Firestore collection keyed by storage id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore opens a Firestore client for projectID.
func NewFirestore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

// RecordExam creates the record inside a transaction. Create fails if the id
// is already taken.
func (f *FirestoreStore) RecordExam(ctx context.Context, a model.ExamArtifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	ref := f.client.Collection(f.collection).Doc(a.ID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return tx.Create(ref, a)
	})
	if err != nil {
		return fmt.Errorf("create exam %s: %w", a.ID, err)
	}
	slog.Info("recorded exam", "id", a.ID, "owner", a.OwnerID, "file_name", a.FileName)
	return nil
}

// ListExams returns the exams of an owner, newest first.
func (f *FirestoreStore) ListExams(ctx context.Context, owner int64) ([]model.ExamArtifact, error) {
	docs, err := f.client.Collection(f.collection).
		Where("ownerId", "==", owner).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	exams := make([]model.ExamArtifact, 0, len(docs))
	for _, d := range docs {
		var a model.ExamArtifact
		if err := d.DataTo(&a); err != nil {
			return nil, fmt.Errorf("decode exam %s: %w", d.Ref.ID, err)
		}
		exams = append(exams, a)
	}
	return exams, nil
}

// GetExam returns an owner's exam by storage id.
func (f *FirestoreStore) GetExam(ctx context.Context, owner int64, id string) (*model.ExamArtifact, error) {
	snap, err := f.client.Collection(f.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam %s: %w", id, err)
	}
	var a model.ExamArtifact
	if err := snap.DataTo(&a); err != nil {
		return nil, fmt.Errorf("decode exam %s: %w", id, err)
	}
	if a.OwnerID != owner {
		return nil, model.ErrNotFound
	}
	return &a, nil
}

// FindExamByFileName returns an owner's exam by the name the renderer gave it.
func (f *FirestoreStore) FindExamByFileName(ctx context.Context, owner int64, fileName string) (*model.ExamArtifact, error) {
	docs, err := f.client.Collection(f.collection).
		Where("ownerId", "==", owner).
		Where("fileName", "==", fileName).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query exam %s: %w", fileName, err)
	}
	if len(docs) == 0 {
		return nil, model.ErrNotFound
	}
	var a model.ExamArtifact
	if err := docs[0].DataTo(&a); err != nil {
		return nil, fmt.Errorf("decode exam %s: %w", docs[0].Ref.ID, err)
	}
	return &a, nil
}
