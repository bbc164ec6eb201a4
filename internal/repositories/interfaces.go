package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/scriptgrade/evaluation-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	Status    *models.ExamStatus `json:"status"`
	CreatedBy *string            `json:"created_by"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	SortBy    string             `json:"sort_by"`    // "created_at", "name", "status"
	SortOrder string             `json:"sort_order"` // "asc", "desc"
}

type SheetFilters struct {
	Processed *bool   `json:"processed"`
	StudentID *string `json:"student_id"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
}

type FlagFilters struct {
	Resolved  *bool   `json:"resolved"`
	StudentID *string `json:"student_id"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
}

type ActorFilters struct {
	Role   *models.ActorRole `json:"role"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ===== SHARED STATISTICS STRUCTS =====

type ResultSummary struct {
	TotalResults   int64    `json:"total_results"`
	FlaggedResults int64    `json:"flagged_results"`
	AverageMarks   float64  `json:"average_marks"`
	HighestMarks   *float64 `json:"highest_marks"`
	LowestMarks    *float64 `json:"lowest_marks"`
	MaxMarks       float64  `json:"max_marks"`
}

// ===== ENTITY REPOSITORY INTERFACES =====

type ExamRepository interface {
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByExamID(ctx context.Context, tx *gorm.DB, examID string) (*models.Exam, error)
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ExamStatus) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
}

type AnswerKeyRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error
	GetByExamID(ctx context.Context, tx *gorm.DB, examID uint) (*models.AnswerKey, error)
	DeleteByExamID(ctx context.Context, tx *gorm.DB, examID uint) error
}

type SheetRepository interface {
	Create(ctx context.Context, tx *gorm.DB, sheet *models.AnswerSheet) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerSheet, error)
	Update(ctx context.Context, tx *gorm.DB, sheet *models.AnswerSheet) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters SheetFilters) ([]*models.AnswerSheet, int64, error)
	CountUnprocessed(ctx context.Context, tx *gorm.DB, examID uint) (int64, error)

	// ClaimNext atomically claims one unprocessed, unclaimed sheet for a
	// worker. Returns ErrNoClaimableSheet when nothing is available.
	ClaimNext(ctx context.Context, tx *gorm.DB, examID uint) (*models.AnswerSheet, error)

	// MarkProcessed finalizes a claimed sheet and records the student it
	// was attributed to.
	MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, studentID *string) error

	// ReleaseClaim returns a claimed sheet to the pool after a failed
	// grading attempt.
	ReleaseClaim(ctx context.Context, tx *gorm.DB, id uint) error

	// ReleaseStale frees claims older than the cutoff so crashed workers
	// do not strand sheets. Returns the number released.
	ReleaseStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type JobRepository interface {
	Create(ctx context.Context, tx *gorm.DB, job *models.EvaluationJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.EvaluationJob, error)
	GetLatestByExam(ctx context.Context, tx *gorm.DB, examID uint) (*models.EvaluationJob, error)
	GetActiveByExam(ctx context.Context, tx *gorm.DB, examID uint) (*models.EvaluationJob, error)
	ListActive(ctx context.Context, tx *gorm.DB) ([]*models.EvaluationJob, error)

	// MarkInProgress moves a pending job to in_progress. The status guard
	// keeps a stale caller from touching any other column, so counters a
	// concurrent worker already bumped survive. Reports whether this call
	// won the transition.
	MarkInProgress(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	// IncrementProcessed bumps processed_sheets by one, bounded by
	// total_sheets and restricted to in-progress jobs. Returns the
	// post-increment count and whether a row actually changed.
	IncrementProcessed(ctx context.Context, tx *gorm.DB, id uint) (int, bool, error)

	// CompleteIfDone marks the job completed when every sheet is
	// processed. At most one caller observes true per job.
	CompleteIfDone(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	// MarkFailed transitions an in-progress job to failed exactly once.
	MarkFailed(ctx context.Context, tx *gorm.DB, id uint, message string) (bool, error)
}

type ResultRepository interface {
	// Upsert inserts or replaces the result for the (exam, student) pair.
	Upsert(ctx context.Context, tx *gorm.DB, result *models.Result) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Result, error)
	GetByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.Result, error)
	Update(ctx context.Context, tx *gorm.DB, result *models.Result) error
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Result, error)
	Summary(ctx context.Context, tx *gorm.DB, examID uint) (*ResultSummary, error)
}

type FlagRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, flags []*models.IllegibleFlag) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.IllegibleFlag, error)
	Update(ctx context.Context, tx *gorm.DB, flag *models.IllegibleFlag) error
	ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters FlagFilters) ([]*models.IllegibleFlag, int64, error)

	// DeleteUnresolvedByResult clears pending flags when a resubmitted
	// sheet replaces the result they pointed at.
	DeleteUnresolvedByResult(ctx context.Context, tx *gorm.DB, resultID uint) error
}

type ActorRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Actor, error)
	Update(ctx context.Context, tx *gorm.DB, actor *models.Actor) error
	List(ctx context.Context, tx *gorm.DB, filters ActorFilters) ([]*models.Actor, int64, error)

	// EnsureExists creates the profile on first sight of an authenticated
	// subject and returns the stored row either way.
	EnsureExists(ctx context.Context, tx *gorm.DB, actor *models.Actor) (*models.Actor, error)
}
