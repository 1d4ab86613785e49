package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/trilma/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		owner_id INTEGER NOT NULL,
		file_name TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exams_owner ON exams(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_exams_file_name ON exams(owner_id, file_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordExam links a stored document to its owner. The insert runs in its
// own transaction; a duplicate id fails the whole record.
func (s *Store) RecordExam(ctx context.Context, a model.ExamArtifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams WHERE id = ?`, a.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("exam %s already recorded", a.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (id, owner_id, file_name, pages, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.FileName, a.Pages, a.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("recorded exam", "id", a.ID, "owner", a.OwnerID, "file_name", a.FileName)
	return nil
}

// ListExams returns the exams of an owner, newest first.
func (s *Store) ListExams(ctx context.Context, owner int64) ([]model.ExamArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, file_name, pages, created_at FROM exams
		 WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`, owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.ExamArtifact
	for rows.Next() {
		var a model.ExamArtifact
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.FileName, &a.Pages, &a.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, a)
	}
	return exams, rows.Err()
}

// GetExam returns an owner's exam by storage id.
func (s *Store) GetExam(ctx context.Context, owner int64, id string) (*model.ExamArtifact, error) {
	return s.getExam(ctx, `SELECT id, owner_id, file_name, pages, created_at FROM exams
		 WHERE owner_id = ? AND id = ?`, owner, id)
}

// FindExamByFileName returns an owner's exam by the name the renderer gave it.
func (s *Store) FindExamByFileName(ctx context.Context, owner int64, fileName string) (*model.ExamArtifact, error) {
	return s.getExam(ctx, `SELECT id, owner_id, file_name, pages, created_at FROM exams
		 WHERE owner_id = ? AND file_name = ? ORDER BY created_at DESC LIMIT 1`, owner, fileName)
}

func (s *Store) getExam(ctx context.Context, query string, args ...any) (*model.ExamArtifact, error) {
	var a model.ExamArtifact
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&a.ID, &a.OwnerID, &a.FileName, &a.Pages, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ExamCount returns the number of recorded exams.
func (s *Store) ExamCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams`).Scan(&count)
	return count, err
}
