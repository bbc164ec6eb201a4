package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

type JobPostgreSQL struct {
	db *gorm.DB
}

func NewJobPostgreSQL(db *gorm.DB) repositories.JobRepository {
	return &JobPostgreSQL{db: db}
}

func (j *JobPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return j.db
}

func (j *JobPostgreSQL) Create(ctx context.Context, tx *gorm.DB, job *models.EvaluationJob) error {
	db := j.getDB(tx)
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create evaluation job: %w", err)
	}
	return nil
}

func (j *JobPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.EvaluationJob, error) {
	db := j.getDB(tx)
	var job models.EvaluationJob
	if err := db.WithContext(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get evaluation job: %w", err)
	}
	return &job, nil
}

func (j *JobPostgreSQL) GetLatestByExam(ctx context.Context, tx *gorm.DB, examID uint) (*models.EvaluationJob, error) {
	db := j.getDB(tx)
	var job models.EvaluationJob
	err := db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	return &job, nil
}

func (j *JobPostgreSQL) GetActiveByExam(ctx context.Context, tx *gorm.DB, examID uint) (*models.EvaluationJob, error) {
	db := j.getDB(tx)
	var job models.EvaluationJob
	err := db.WithContext(ctx).
		Where("exam_id = ? AND status IN ?", examID,
			[]models.JobStatus{models.JobPending, models.JobInProgress}).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return &job, nil
}

func (j *JobPostgreSQL) ListActive(ctx context.Context, tx *gorm.DB) ([]*models.EvaluationJob, error) {
	db := j.getDB(tx)
	var jobs []*models.EvaluationJob
	err := db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobPending, models.JobInProgress}).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	return jobs, nil
}

// MarkInProgress is a guarded single-column update. A worker holding a stale
// snapshot cannot clobber processed_sheets the way a full Save would.
func (j *JobPostgreSQL) MarkInProgress(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := j.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.EvaluationJob{}).
		Where("id = ? AND status = ?", id, models.JobPending).
		Update("status", models.JobInProgress)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark job in progress: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IncrementProcessed is a conditional single-statement update so the counter
// never exceeds total_sheets and never moves on a terminal job. RETURNING
// hands back the post-increment count for progress reporting.
func (j *JobPostgreSQL) IncrementProcessed(ctx context.Context, tx *gorm.DB, id uint) (int, bool, error) {
	db := j.getDB(tx)
	var job models.EvaluationJob
	result := db.WithContext(ctx).
		Model(&job).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "processed_sheets"}}}).
		Where("id = ? AND status = ? AND processed_sheets < total_sheets", id, models.JobInProgress).
		Update("processed_sheets", gorm.Expr("processed_sheets + 1"))
	if result.Error != nil {
		return 0, false, fmt.Errorf("failed to increment processed count: %w", result.Error)
	}
	return job.ProcessedSheets, result.RowsAffected > 0, nil
}

// CompleteIfDone flips the job to completed when the counter has reached the
// total. The status guard makes at most one caller win the transition.
func (j *JobPostgreSQL) CompleteIfDone(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := j.getDB(tx)
	now := time.Now()
	result := db.WithContext(ctx).
		Model(&models.EvaluationJob{}).
		Where("id = ? AND status = ? AND processed_sheets >= total_sheets", id, models.JobInProgress).
		Updates(map[string]interface{}{
			"status":       models.JobCompleted,
			"completed_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete job: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (j *JobPostgreSQL) MarkFailed(ctx context.Context, tx *gorm.DB, id uint, message string) (bool, error) {
	db := j.getDB(tx)
	now := time.Now()
	result := db.WithContext(ctx).
		Model(&models.EvaluationJob{}).
		Where("id = ? AND status IN ?", id,
			[]models.JobStatus{models.JobPending, models.JobInProgress}).
		Updates(map[string]interface{}{
			"status":        models.JobFailed,
			"error_message": message,
			"completed_at":  now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
