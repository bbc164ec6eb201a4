package models

import (
	"time"
)

// AnswerSheet is one uploaded response artifact for an exam. The student is
// unknown until grading extracts the identifier from the sheet itself.
type AnswerSheet struct {
	ID        uint    `json:"id" gorm:"primaryKey"`
	ExamID    uint    `json:"exam_id" gorm:"not null;index"`
	StudentID *string `json:"student_id" gorm:"size:50;index"`

	// Storage reference, opaque to the pipeline.
	FilePath string `json:"file_path" gorm:"not null;size:500"`
	FileName string `json:"file_name" gorm:"not null;size:255"`

	// Processed flips to true exactly once, when a worker finishes the
	// sheet. ClaimedAt marks an in-flight claim; the supervisor clears
	// stale claims so crashed workers do not strand sheets.
	Processed bool       `json:"processed" gorm:"not null;default:false;index"`
	ClaimedAt *time.Time `json:"claimed_at" gorm:"index"`

	UploadedAt time.Time `json:"uploaded_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at"`

	Exam Exam `json:"-" gorm:"foreignKey:ExamID"`
}

func (AnswerSheet) TableName() string {
	return "answer_sheets"
}
