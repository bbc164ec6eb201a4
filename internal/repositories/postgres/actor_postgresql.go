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

type ActorPostgreSQL struct {
	db *gorm.DB
}

func NewActorPostgreSQL(db *gorm.DB) repositories.ActorRepository {
	return &ActorPostgreSQL{db: db}
}

func (a *ActorPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *ActorPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.Actor, error) {
	db := a.getDB(tx)
	var actor models.Actor
	if err := db.WithContext(ctx).Where("id = ?", id).First(&actor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrActorNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &actor, nil
}

func (a *ActorPostgreSQL) Update(ctx context.Context, tx *gorm.DB, actor *models.Actor) error {
	db := a.getDB(tx)
	if err := db.WithContext(ctx).Save(actor).Error; err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

func (a *ActorPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ActorFilters) ([]*models.Actor, int64, error) {
	db := a.getDB(tx)
	var actors []*models.Actor
	var total int64

	query := db.WithContext(ctx).Model(&models.Actor{})
	if filters.Role != nil {
		query = query.Where("role = ?", *filters.Role)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	query = query.Order("created_at ASC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Find(&actors).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	return actors, total, nil
}

// EnsureExists inserts the profile the first time a subject authenticates.
// An existing row wins; the caller gets whatever is stored.
func (a *ActorPostgreSQL) EnsureExists(ctx context.Context, tx *gorm.DB, actor *models.Actor) (*models.Actor, error) {
	db := a.getDB(tx)
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(actor).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return a.GetByID(ctx, tx, actor.ID)
}
