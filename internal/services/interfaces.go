package services

import (
	"context"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateExamRequest = validator.ExamCreateRequest
type UpdateExamRequest = validator.ExamUpdateRequest
type UpdateExamStatusRequest = validator.ExamStatusUpdateRequest
type UpsertAnswerKeyRequest = validator.AnswerKeyCreateRequest
type RegisterSheetRequest = validator.SheetUploadRequest
type ResolveFlagRequest = validator.ResolveFlagRequest
type OverrideResultRequest = validator.OverrideResultRequest
type UpdateRoleRequest = validator.UpdateRoleRequest

type ExamResponse struct {
	*models.Exam
	HasAnswerKey bool  `json:"has_answer_key"`
	SheetCount   int64 `json:"sheet_count"`
	CanEdit      bool  `json:"can_edit"`
	CanDelete    bool  `json:"can_delete"`
}

type ExamListResponse struct {
	Exams []*ExamResponse `json:"exams"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

type SheetResponse struct {
	*models.AnswerSheet
	DownloadURL string `json:"download_url,omitempty"`
}

type SheetListResponse struct {
	Sheets []*SheetResponse `json:"sheets"`
	Total  int64            `json:"total"`
}

// JobStatusResponse is the operator-facing view of an evaluation run.
type JobStatusResponse struct {
	JobID           uint             `json:"job_id"`
	ExamID          uint             `json:"exam_id"`
	Status          models.JobStatus `json:"status"`
	TotalSheets     int              `json:"total_sheets"`
	ProcessedSheets int              `json:"processed_sheets"`
	StartedAt       *time.Time       `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
}

type ResultResponse struct {
	*models.Result
	Breakdown models.Breakdown `json:"breakdown"`
}

type FlagListResponse struct {
	Flags []*models.IllegibleFlag `json:"flags"`
	Total int64                   `json:"total"`
}

// SheetOutcome is one worker's grading output for a claimed sheet.
type SheetOutcome struct {
	SheetID   uint
	StudentID string
	Breakdown models.Breakdown
}

// ===== SERVICE INTERFACES =====

type ExamService interface {
	Create(ctx context.Context, req *CreateExamRequest, actor *models.Actor) (*ExamResponse, error)
	GetByID(ctx context.Context, id uint, actor *models.Actor) (*ExamResponse, error)
	List(ctx context.Context, filters repositories.ExamFilters, actor *models.Actor) (*ExamListResponse, error)
	Update(ctx context.Context, id uint, req *UpdateExamRequest, actor *models.Actor) (*ExamResponse, error)
	UpdateStatus(ctx context.Context, id uint, req *UpdateExamStatusRequest, actor *models.Actor) error
	Delete(ctx context.Context, id uint, actor *models.Actor) error

	// Answer key management. The key locks once a job has started.
	UpsertAnswerKey(ctx context.Context, examID uint, req *UpsertAnswerKeyRequest, actor *models.Actor) (*models.AnswerKey, error)
	GetAnswerKey(ctx context.Context, examID uint, actor *models.Actor) (*models.AnswerKey, error)
	DeleteAnswerKey(ctx context.Context, examID uint, actor *models.Actor) error
}

type SheetService interface {
	Register(ctx context.Context, examID uint, req *RegisterSheetRequest, actor *models.Actor) (*SheetResponse, error)
	Upload(ctx context.Context, examID uint, fileName string, content []byte, actor *models.Actor) (*SheetResponse, error)
	GetByID(ctx context.Context, id uint, actor *models.Actor) (*SheetResponse, error)
	List(ctx context.Context, examID uint, filters repositories.SheetFilters, actor *models.Actor) (*SheetListResponse, error)
	Delete(ctx context.Context, id uint, actor *models.Actor) error
}

// EvaluationService drives an evaluation job through its state machine.
type EvaluationService interface {
	// StartJob creates the job, moves the exam to evaluating and fixes
	// total_sheets. A zero-sheet exam completes immediately.
	StartJob(ctx context.Context, examID uint, actor *models.Actor) (*JobStatusResponse, error)

	// ClaimNextSheet hands one unprocessed sheet to a worker, moving the
	// job to in_progress on the first claim. Returns nil when no sheet
	// remains.
	ClaimNextSheet(ctx context.Context, jobID uint) (*models.AnswerSheet, error)

	// ReportSheetProcessed is called exactly once per claimed sheet. The
	// final report completes the job and the exam.
	ReportSheetProcessed(ctx context.Context, jobID uint, outcome *SheetOutcome) error

	// FailJob terminates the job after unrecoverable errors. The exam
	// stays in evaluating for an operator to sort out.
	FailJob(ctx context.Context, jobID uint, message string) error

	GetJobStatus(ctx context.Context, examID uint, actor *models.Actor) (*JobStatusResponse, error)

	// ReleaseStaleClaims requeues sheets whose worker disappeared.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ResultService is the reconciler plus the read/review surface over results.
type ResultService interface {
	// Upsert writes the authoritative result for one (exam, student)
	// pair. Idempotent: the last breakdown wins.
	Upsert(ctx context.Context, examID uint, studentID string, breakdown models.Breakdown, originalAnswerPath *string) (*models.Result, error)

	GetResult(ctx context.Context, examID uint, studentID string, actor *models.Actor) (*ResultResponse, error)
	ListResults(ctx context.Context, examID uint, actor *models.Actor) ([]*ResultResponse, error)
	GetSummary(ctx context.Context, examID uint, actor *models.Actor) (*repositories.ResultSummary, error)

	ListFlags(ctx context.Context, examID uint, resolved *bool, actor *models.Actor) (*FlagListResponse, error)

	// ResolveFlag adjudicates one illegible answer and folds the marks
	// back into the parent result.
	ResolveFlag(ctx context.Context, flagID uint, req *ResolveFlagRequest, actor *models.Actor) (*ResultResponse, error)

	// OverrideQuestion lets staff replace the marks for one question of
	// one student's result.
	OverrideQuestion(ctx context.Context, examID uint, studentID string, req *OverrideResultRequest, actor *models.Actor) (*ResultResponse, error)
}

type ProfileListResponse struct {
	Profiles []*models.Actor `json:"profiles"`
	Total    int64           `json:"total"`
}

// ProfileService is the admin surface over stored user profiles. Profiles
// themselves are created by the authentication hook, never here.
type ProfileService interface {
	List(ctx context.Context, filters repositories.ActorFilters, actor *models.Actor) (*ProfileListResponse, error)

	// Get returns a profile. Non-admins may only read their own.
	Get(ctx context.Context, id string, actor *models.Actor) (*models.Actor, error)

	// UpdateRole changes a profile's role. Only administrators may do this.
	UpdateRole(ctx context.Context, id string, req *UpdateRoleRequest, actor *models.Actor) (*models.Actor, error)
}

// ReportService exports grading outcomes for offline use.
type ReportService interface {
	// ExportResults renders all results of an exam to an xlsx workbook.
	ExportResults(ctx context.Context, examID uint, actor *models.Actor) ([]byte, string, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Exam() ExamService
	Sheet() SheetService
	Evaluation() EvaluationService
	Result() ResultService
	Report() ReportService
	Profile() ProfileService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
