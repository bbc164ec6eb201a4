package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event topics
const (
	TopicEvaluation = "evaluation-events"
	TopicResults    = "result-events"
)

// Event types
const (
	EventExamCreated         = "exam.created"
	EventExamStatusChanged   = "exam.status_changed"
	EventEvaluationStarted   = "evaluation.started"
	EventSheetProcessed      = "evaluation.sheet_processed"
	EventEvaluationCompleted = "evaluation.completed"
	EventEvaluationFailed    = "evaluation.failed"
	EventResultFlagged       = "result.flagged"
	EventFlagResolved        = "result.flag_resolved"
)

// Event is the envelope every published message carries.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an envelope with the service identity filled in.
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "evaluation-service",
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
	Close() error
}

// ===== EVENT PAYLOADS =====

type ExamCreatedEvent struct {
	ExamID    uint   `json:"exam_id"`
	ExamRef   string `json:"exam_ref"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

type ExamStatusChangedEvent struct {
	ExamID    uint   `json:"exam_id"`
	ExamRef   string `json:"exam_ref"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ChangedBy string `json:"changed_by"`
}

type EvaluationStartedEvent struct {
	JobID       uint   `json:"job_id"`
	ExamID      uint   `json:"exam_id"`
	TotalSheets int    `json:"total_sheets"`
	StartedBy   string `json:"started_by"`
}

type SheetProcessedEvent struct {
	JobID     uint    `json:"job_id"`
	ExamID    uint    `json:"exam_id"`
	SheetID   uint    `json:"sheet_id"`
	StudentID *string `json:"student_id"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
}

type EvaluationCompletedEvent struct {
	JobID       uint `json:"job_id"`
	ExamID      uint `json:"exam_id"`
	TotalSheets int  `json:"total_sheets"`
}

type EvaluationFailedEvent struct {
	JobID  uint   `json:"job_id"`
	ExamID uint   `json:"exam_id"`
	Reason string `json:"reason"`
}

type ResultFlaggedEvent struct {
	ExamID     uint   `json:"exam_id"`
	StudentID  string `json:"student_id"`
	QuestionID string `json:"question_id"`
	FlagID     uint   `json:"flag_id"`
}

type FlagResolvedEvent struct {
	FlagID     uint    `json:"flag_id"`
	ExamID     uint    `json:"exam_id"`
	StudentID  string  `json:"student_id"`
	QuestionID string  `json:"question_id"`
	Marks      float64 `json:"marks"`
	ResolvedBy string  `json:"resolved_by"`
}
