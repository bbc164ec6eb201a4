package services

import (
	"context"
	"log/slog"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

type profileService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
}

func NewProfileService(repo repositories.Repository, logger *slog.Logger, v *validator.Validator) ProfileService {
	return &profileService{
		repo:      repo,
		logger:    logger,
		validator: v,
	}
}

func (s *profileService) List(ctx context.Context, filters repositories.ActorFilters, actor *models.Actor) (*ProfileListResponse, error) {
	if !actor.IsService() && actor.Role != models.RoleAdmin {
		return nil, NewPermissionError(actor.ID, 0, "profile", "list", "administrator role required")
	}

	profiles, total, err := s.repo.Actor().List(ctx, nil, filters)
	if err != nil {
		return nil, err
	}
	return &ProfileListResponse{Profiles: profiles, Total: total}, nil
}

func (s *profileService) Get(ctx context.Context, id string, actor *models.Actor) (*models.Actor, error) {
	if !actor.IsService() && actor.Role != models.RoleAdmin && actor.ID != id {
		return nil, NewPermissionError(actor.ID, 0, "profile", "read", "profiles are private to their owner")
	}
	return s.repo.Actor().GetByID(ctx, nil, id)
}

// UpdateRole is the only path that changes a stored role. The registration
// hook always defaults new profiles to student.
func (s *profileService) UpdateRole(ctx context.Context, id string, req *UpdateRoleRequest, actor *models.Actor) (*models.Actor, error) {
	if !actor.IsService() && actor.Role != models.RoleAdmin {
		return nil, NewPermissionError(actor.ID, 0, "profile", "update_role", "administrator role required")
	}
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	profile, err := s.repo.Actor().GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	oldRole := profile.Role
	profile.Role = models.ActorRole(req.Role)
	if err := s.repo.Actor().Update(ctx, nil, profile); err != nil {
		return nil, err
	}

	s.logger.Info("profile role changed",
		"profile_id", id,
		"old_role", oldRole,
		"new_role", profile.Role,
		"changed_by", actor.ID)

	return profile, nil
}
