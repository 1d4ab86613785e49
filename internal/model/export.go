package model

import "time"

// ExamExport is the top-level JSON structure for an owner's exam export.
type ExamExport struct {
	OwnerID    int64          `json:"owner_id"`
	Env        string         `json:"env"`
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Exams      []ExamArtifact `json:"exams"`
}
