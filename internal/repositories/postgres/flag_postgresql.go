package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

type FlagPostgreSQL struct {
	db *gorm.DB
}

func NewFlagPostgreSQL(db *gorm.DB) repositories.FlagRepository {
	return &FlagPostgreSQL{db: db}
}

func (f *FlagPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return f.db
}

func (f *FlagPostgreSQL) CreateBatch(ctx context.Context, tx *gorm.DB, flags []*models.IllegibleFlag) error {
	if len(flags) == 0 {
		return nil
	}
	db := f.getDB(tx)
	if err := db.WithContext(ctx).Create(&flags).Error; err != nil {
		return fmt.Errorf("failed to create flags: %w", err)
	}
	return nil
}

func (f *FlagPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.IllegibleFlag, error) {
	db := f.getDB(tx)
	var flag models.IllegibleFlag
	if err := db.WithContext(ctx).First(&flag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrFlagNotFound
		}
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}
	return &flag, nil
}

func (f *FlagPostgreSQL) Update(ctx context.Context, tx *gorm.DB, flag *models.IllegibleFlag) error {
	db := f.getDB(tx)
	if err := db.WithContext(ctx).Save(flag).Error; err != nil {
		return fmt.Errorf("failed to update flag: %w", err)
	}
	return nil
}

func (f *FlagPostgreSQL) ListByExam(ctx context.Context, tx *gorm.DB, examID uint, filters repositories.FlagFilters) ([]*models.IllegibleFlag, int64, error) {
	db := f.getDB(tx)
	var flags []*models.IllegibleFlag
	var total int64

	query := db.WithContext(ctx).Model(&models.IllegibleFlag{}).Where("exam_id = ?", examID)
	if filters.Resolved != nil {
		query = query.Where("resolved = ?", *filters.Resolved)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at ASC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&flags).Error; err != nil {
		return nil, 0, err
	}

	return flags, total, nil
}

func (f *FlagPostgreSQL) DeleteUnresolvedByResult(ctx context.Context, tx *gorm.DB, resultID uint) error {
	db := f.getDB(tx)
	err := db.WithContext(ctx).
		Where("result_id = ? AND resolved = ?", resultID, false).
		Delete(&models.IllegibleFlag{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete unresolved flags: %w", err)
	}
	return nil
}
