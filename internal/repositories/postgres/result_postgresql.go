package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scriptgrade/evaluation-service/internal/cache"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

type ResultPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewResultPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ResultRepository {
	return &ResultPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *ResultPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Upsert keeps one row per (exam, student). A resubmitted sheet overwrites
// the previous outcome in place.
func (r *ResultPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, result *models.Result) error {
	db := r.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "exam_id"}, {Name: "student_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_marks", "max_marks", "breakdown", "has_illegible", "reviewed", "updated_at",
			}),
		}).
		Create(result).Error
	if err != nil {
		return fmt.Errorf("failed to upsert result: %w", err)
	}
	_ = r.cacheManager.InvalidateResult(ctx, result.ExamID)
	return nil
}

func (r *ResultPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Result, error) {
	db := r.getDB(tx)
	var result models.Result
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &result, nil
}

func (r *ResultPostgreSQL) GetByExamAndStudent(ctx context.Context, tx *gorm.DB, examID uint, studentID string) (*models.Result, error) {
	db := r.getDB(tx)
	var result models.Result
	err := db.WithContext(ctx).
		Where("exam_id = ? AND student_id = ?", examID, studentID).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &result, nil
}

func (r *ResultPostgreSQL) Update(ctx context.Context, tx *gorm.DB, result *models.Result) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Save(result).Error; err != nil {
		return fmt.Errorf("failed to update result: %w", err)
	}
	_ = r.cacheManager.InvalidateResult(ctx, result.ExamID)
	return nil
}

func (r *ResultPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.Result, error) {
	db := r.getDB(tx)
	var results []*models.Result
	err := db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Order("student_id ASC").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}

func (r *ResultPostgreSQL) Summary(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.ResultSummary, error) {
	db := r.getDB(tx)
	cacheKey := fmt.Sprintf("summary:%d", examID)
	var summary repositories.ResultSummary

	err := r.cacheManager.Result.CacheOrExecute(ctx, cacheKey, &summary, cache.ResultCacheConfig.TTL, func() (interface{}, error) {
		var row struct {
			TotalResults   int64
			FlaggedResults int64
			AverageMarks   *float64
			HighestMarks   *float64
			LowestMarks    *float64
			MaxMarks       *float64
		}
		err := db.WithContext(ctx).
			Model(&models.Result{}).
			Select(`COUNT(*) AS total_results,
				COUNT(*) FILTER (WHERE has_illegible) AS flagged_results,
				AVG(total_marks) AS average_marks,
				MAX(total_marks) AS highest_marks,
				MIN(total_marks) AS lowest_marks,
				MAX(max_marks) AS max_marks`).
			Where("exam_id = ?", examID).
			Scan(&row).Error
		if err != nil {
			return nil, fmt.Errorf("failed to compute result summary: %w", err)
		}

		s := repositories.ResultSummary{
			TotalResults:   row.TotalResults,
			FlaggedResults: row.FlaggedResults,
			HighestMarks:   row.HighestMarks,
			LowestMarks:    row.LowestMarks,
		}
		if row.AverageMarks != nil {
			s.AverageMarks = *row.AverageMarks
		}
		if row.MaxMarks != nil {
			s.MaxMarks = *row.MaxMarks
		}
		return &s, nil
	})
	if err != nil {
		return nil, err
	}

	return &summary, nil
}
