package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

type AnswerKeyPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerKeyPostgreSQL(db *gorm.DB) repositories.AnswerKeyRepository {
	return &AnswerKeyPostgreSQL{db: db}
}

func (a *AnswerKeyPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

// Upsert replaces the exam's answer key in place. One key per exam.
func (a *AnswerKeyPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, key *models.AnswerKey) error {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "exam_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"questions", "updated_at"}),
		}).
		Create(key).Error
	if err != nil {
		return fmt.Errorf("failed to upsert answer key: %w", err)
	}
	return nil
}

func (a *AnswerKeyPostgreSQL) GetByExamID(ctx context.Context, tx *gorm.DB, examID uint) (*models.AnswerKey, error) {
	db := a.getDB(tx)
	var key models.AnswerKey
	if err := db.WithContext(ctx).Where("exam_id = ?", examID).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}
	return &key, nil
}

func (a *AnswerKeyPostgreSQL) DeleteByExamID(ctx context.Context, tx *gorm.DB, examID uint) error {
	db := a.getDB(tx)
	result := db.WithContext(ctx).Where("exam_id = ?", examID).Delete(&models.AnswerKey{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete answer key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.ErrAnswerKeyNotFound
	}
	return nil
}
