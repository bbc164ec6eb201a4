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

type SheetPostgreSQL struct {
	db *gorm.DB
}

func NewSheetPostgreSQL(db *gorm.DB) repositories.SheetRepository {
	return &SheetPostgreSQL{db: db}
}

func (s *SheetPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *SheetPostgreSQL) Create(ctx context.Context, tx *gorm.DB, sheet *models.AnswerSheet) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(sheet).Error; err != nil {
		return fmt.Errorf("failed to create answer sheet: %w", err)
	}
	return nil
}

func (s *SheetPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AnswerSheet, error) {
	db := s.getDB(tx)
	var sheet models.AnswerSheet
	if err := db.WithContext(ctx).First(&sheet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrSheetNotFound
		}
		return nil, fmt.Errorf("failed to get answer sheet: %w", err)
	}
	return &sheet, nil
}

func (s *SheetPostgreSQL) Update(ctx context.Context, tx *gorm.DB, sheet *models.AnswerSheet) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Save(sheet).Error; err != nil {
		return fmt.Errorf("failed to update answer sheet: %w", err)
	}
	return nil
}

func (s *SheetPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := s.getDB(tx)
	result := db.WithContext(ctx).Delete(&models.AnswerSheet{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete answer sheet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrSheetNotFound
	}
	return nil
}

func (s *SheetPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.SheetFilters) ([]*models.AnswerSheet, int64, error) {
	db := s.getDB(tx)
	var sheets []*models.AnswerSheet
	var total int64

	query := db.WithContext(ctx).Model(&models.AnswerSheet{}).Where("exam_id = ?", examID)
	if filters.Processed != nil {
		query = query.Where("processed = ?", *filters.Processed)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("uploaded_at ASC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&sheets).Error; err != nil {
		return nil, 0, err
	}

	return sheets, total, nil
}

func (s *SheetPostgreSQL) CountUnprocessed(ctx context.Context, tx *gorm.DB, examID uint) (int64, error) {
	db := s.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.AnswerSheet{}).
		Where("exam_id = ? AND processed = ?", examID, false).
		Count(&count).Error
	return count, err
}

// ClaimNext locks one unprocessed, unclaimed sheet with SKIP LOCKED so
// concurrent workers never pick the same row, then stamps the claim.
func (s *SheetPostgreSQL) ClaimNext(ctx context.Context, tx *gorm.DB, examID uint) (*models.AnswerSheet, error) {
	db := s.getDB(tx)
	var sheet models.AnswerSheet

	err := db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		err := inner.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("exam_id = ? AND processed = ? AND claimed_at IS NULL", examID, false).
			Order("uploaded_at ASC").
			First(&sheet).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repositories.ErrNoClaimableSheet
			}
			return fmt.Errorf("failed to lock sheet: %w", err)
		}

		now := time.Now()
		sheet.ClaimedAt = &now
		return inner.Model(&models.AnswerSheet{}).
			Where("id = ?", sheet.ID).
			Update("claimed_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	return &sheet, nil
}

func (s *SheetPostgreSQL) MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, studentID *string) error {
	db := s.getDB(tx)
	updates := map[string]interface{}{
		"processed":  true,
		"claimed_at": nil,
	}
	if studentID != nil {
		updates["student_id"] = *studentID
	}
	result := db.WithContext(ctx).
		Model(&models.AnswerSheet{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark sheet processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrSheetNotFound
	}
	return nil
}

func (s *SheetPostgreSQL) ReleaseClaim(ctx context.Context, tx *gorm.DB, id uint) error {
	db := s.getDB(tx)
	return db.WithContext(ctx).
		Model(&models.AnswerSheet{}).
		Where("id = ? AND processed = ?", id, false).
		Update("claimed_at", nil).Error
}

func (s *SheetPostgreSQL) ReleaseStale(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	db := s.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.AnswerSheet{}).
		Where("processed = ? AND claimed_at IS NOT NULL AND claimed_at < ?", false, cutoff).
		Update("claimed_at", nil)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", result.Error)
	}
	return result.RowsAffected, nil
}
