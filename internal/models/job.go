package models

import (
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transition.
// A new job instance is required to retry a terminal job.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// EvaluationJob is one batch-grading run over an exam's unprocessed sheets.
// TotalSheets is fixed at creation; ProcessedSheets only ever increases and
// never exceeds TotalSheets. At most one job per exam may be pending or
// in_progress at any time.
type EvaluationJob struct {
	ID     uint      `json:"id" gorm:"primaryKey"`
	ExamID uint      `json:"exam_id" gorm:"not null;index"`
	Status JobStatus `json:"status" gorm:"default:pending;index"`

	TotalSheets     int `json:"total_sheets" gorm:"not null"`
	ProcessedSheets int `json:"processed_sheets" gorm:"not null;default:0"`

	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `json:"error_message" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Exam Exam `json:"-" gorm:"foreignKey:ExamID"`
}

func (EvaluationJob) TableName() string {
	return "evaluation_jobs"
}
