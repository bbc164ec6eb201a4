package services

import (
	"context"
	"log/slog"

	"github.com/scriptgrade/evaluation-service/internal/authz"
	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

type examService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
}

func NewExamService(repo repositories.Repository, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) ExamService {
	return &examService{
		repo:      repo,
		logger:    logger,
		validator: v,
		publisher: publisher,
	}
}

func (s *examService) Create(ctx context.Context, req *CreateExamRequest, actor *models.Actor) (*ExamResponse, error) {
	if !authz.CanAccess(authz.Request{Actor: actor, Resource: authz.ResourceExam, Operation: authz.OpCreate}) {
		return nil, NewPermissionError(actor.ID, 0, "exam", "create", "insufficient role permissions")
	}

	if errs := s.validator.ValidateExamCreate(req); len(errs) > 0 {
		return nil, errs
	}

	exam := &models.Exam{
		ExamID:      req.ExamID,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.ExamDraft,
		CreatedBy:   actor.ID,
	}

	if err := s.repo.Exam().Create(ctx, nil, exam); err != nil {
		return nil, err
	}

	s.logger.Info("exam created",
		"exam_id", exam.ID,
		"exam_ref", exam.ExamID,
		"created_by", actor.ID)

	event := events.NewEvent(events.EventExamCreated, events.ExamCreatedEvent{
		ExamID:    exam.ID,
		ExamRef:   exam.ExamID,
		Name:      exam.Name,
		CreatedBy: actor.ID,
	})
	if err := s.publisher.Publish(ctx, events.TopicEvaluation, event); err != nil {
		s.logger.Warn("failed to publish exam created event", "error", err, "exam_id", exam.ID)
	}

	return s.buildResponse(ctx, exam, actor)
}

func (s *examService) GetByID(ctx context.Context, id uint, actor *models.Actor) (*ExamResponse, error) {
	if !authz.CanAccess(authz.Request{Actor: actor, Resource: authz.ResourceExam, Operation: authz.OpRead}) {
		return nil, NewPermissionError(actor.ID, id, "exam", "read", "insufficient role permissions")
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	return s.buildResponse(ctx, exam, actor)
}

func (s *examService) List(ctx context.Context, filters repositories.ExamFilters, actor *models.Actor) (*ExamListResponse, error) {
	if !authz.CanAccess(authz.Request{Actor: actor, Resource: authz.ResourceExam, Operation: authz.OpRead}) {
		return nil, NewPermissionError(actor.ID, 0, "exam", "list", "insufficient role permissions")
	}

	exams, total, err := s.repo.Exam().List(ctx, nil, filters)
	if err != nil {
		return nil, err
	}

	responses := make([]*ExamResponse, 0, len(exams))
	for _, exam := range exams {
		resp, err := s.buildResponse(ctx, exam, actor)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &ExamListResponse{
		Exams: responses,
		Total: total,
		Page:  page,
		Size:  len(responses),
	}, nil
}

func (s *examService) Update(ctx context.Context, id uint, req *UpdateExamRequest, actor *models.Actor) (*ExamResponse, error) {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	if !s.canManage(exam, actor) {
		return nil, NewPermissionError(actor.ID, id, "exam", "update", "not owner or insufficient permissions")
	}

	// Metadata freezes once the pipeline owns the exam.
	if exam.Status == models.ExamEvaluating {
		return nil, NewStateError("exam", id, string(exam.Status), "update")
	}

	if req.Name != nil {
		exam.Name = *req.Name
	}
	if req.Description != nil {
		exam.Description = req.Description
	}

	if err := s.repo.Exam().Update(ctx, nil, exam); err != nil {
		return nil, err
	}

	return s.buildResponse(ctx, exam, actor)
}

func (s *examService) UpdateStatus(ctx context.Context, id uint, req *UpdateExamStatusRequest, actor *models.Actor) error {
	if errs := s.validator.Validate(req); len(errs) > 0 {
		return errs
	}

	next := models.ExamStatus(req.Status)

	return s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		exam, err := txRepo.Exam().GetByID(ctx, nil, id)
		if err != nil {
			return err
		}

		if !s.canManage(exam, actor) {
			return NewPermissionError(actor.ID, id, "exam", "update_status", "not owner or insufficient permissions")
		}

		adminOverride := actor.Role == models.RoleAdmin
		if errs := s.validator.ValidateStatusTransition(exam.Status, next, adminOverride); len(errs) > 0 {
			return NewStateError("exam", id, string(exam.Status), "transition to "+string(next))
		}

		// Publishing requires a complete answer key.
		if exam.Status == models.ExamDraft && next == models.ExamReady {
			if _, err := txRepo.AnswerKey().GetByExamID(ctx, nil, id); err != nil {
				if IsNotFoundError(err) {
					return NewStateError("exam", id, string(exam.Status), "publish without answer key")
				}
				return err
			}
		}

		// An admin rollback to ready must not race an active job.
		if adminOverride && next == models.ExamReady {
			if _, err := txRepo.Job().GetActiveByExam(ctx, nil, id); err == nil {
				return ErrJobActive
			} else if !IsNotFoundError(err) {
				return err
			}
		}

		oldStatus := exam.Status
		if err := txRepo.Exam().UpdateStatus(ctx, nil, id, next); err != nil {
			return err
		}

		s.logger.Info("exam status changed",
			"exam_id", id,
			"old_status", oldStatus,
			"new_status", next,
			"changed_by", actor.ID)

		event := events.NewEvent(events.EventExamStatusChanged, events.ExamStatusChangedEvent{
			ExamID:    id,
			ExamRef:   exam.ExamID,
			OldStatus: string(oldStatus),
			NewStatus: string(next),
			ChangedBy: actor.ID,
		})
		if err := s.publisher.Publish(ctx, events.TopicEvaluation, event); err != nil {
			s.logger.Warn("failed to publish status change event", "error", err, "exam_id", id)
		}

		return nil
	})
}

func (s *examService) Delete(ctx context.Context, id uint, actor *models.Actor) error {
	exam, err := s.repo.Exam().GetByID(ctx, nil, id)
	if err != nil {
		return err
	}

	if !s.canManage(exam, actor) {
		return NewPermissionError(actor.ID, id, "exam", "delete", "not owner or insufficient permissions")
	}

	if exam.Status == models.ExamEvaluating {
		return NewStateError("exam", id, string(exam.Status), "delete")
	}

	// Cascades take the answer key, sheets, jobs, results and flags along.
	return s.repo.Exam().Delete(ctx, nil, id)
}

func (s *examService) UpsertAnswerKey(ctx context.Context, examID uint, req *UpsertAnswerKeyRequest, actor *models.Actor) (*models.AnswerKey, error) {
	if errs := s.validator.ValidateAnswerKeyCreate(req); len(errs) > 0 {
		return nil, errs
	}

	var key *models.AnswerKey
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		exam, err := txRepo.Exam().GetByID(ctx, nil, examID)
		if err != nil {
			return err
		}

		if !s.canManage(exam, actor) {
			return NewPermissionError(actor.ID, examID, "answer_key", "upsert", "not owner or insufficient permissions")
		}

		// The key freezes once any evaluation job has started.
		if _, err := txRepo.Job().GetLatestByExam(ctx, nil, examID); err == nil {
			return ErrKeyLocked
		} else if !IsNotFoundError(err) {
			return err
		}

		specs := make([]models.QuestionSpec, 0, len(req.Questions))
		for _, q := range req.Questions {
			spec := models.QuestionSpec{
				QID:      q.QID,
				MaxMarks: q.MaxMarks,
				Keywords: q.Keywords,
			}
			for _, item := range q.Rubric {
				spec.Rubric = append(spec.Rubric, models.RubricItem{
					Criterion: item.Criterion,
					Weight:    item.Weight,
				})
			}
			specs = append(specs, spec)
		}

		key = &models.AnswerKey{ExamID: examID}
		if err := key.SetQuestionSpecs(specs); err != nil {
			return err
		}

		if err := txRepo.AnswerKey().Upsert(ctx, nil, key); err != nil {
			return err
		}

		// A drafted exam becomes ready the moment it has a key.
		if exam.Status == models.ExamDraft {
			return txRepo.Exam().UpdateStatus(ctx, nil, examID, models.ExamReady)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("answer key upserted", "exam_id", examID, "questions", len(req.Questions))

	return key, nil
}

// DeleteAnswerKey removes the key before any job has run. A ready exam loses
// its publish precondition, so it drops back to draft in the same transaction.
func (s *examService) DeleteAnswerKey(ctx context.Context, examID uint, actor *models.Actor) error {
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		exam, err := txRepo.Exam().GetByID(ctx, nil, examID)
		if err != nil {
			return err
		}

		if !s.canManage(exam, actor) {
			return NewPermissionError(actor.ID, examID, "answer_key", "delete", "not owner or insufficient permissions")
		}

		// Same lock as Upsert: once a job exists the key is immutable.
		if _, err := txRepo.Job().GetLatestByExam(ctx, nil, examID); err == nil {
			return ErrKeyLocked
		} else if !IsNotFoundError(err) {
			return err
		}

		if _, err := txRepo.AnswerKey().GetByExamID(ctx, nil, examID); err != nil {
			return err
		}

		if err := txRepo.AnswerKey().DeleteByExamID(ctx, nil, examID); err != nil {
			return err
		}

		if exam.Status == models.ExamReady {
			return txRepo.Exam().UpdateStatus(ctx, nil, examID, models.ExamDraft)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("answer key deleted", "exam_id", examID, "deleted_by", actor.ID)
	return nil
}

func (s *examService) GetAnswerKey(ctx context.Context, examID uint, actor *models.Actor) (*models.AnswerKey, error) {
	// Expected answers are staff-only.
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "answer_key", "read", "insufficient role permissions")
	}

	return s.repo.AnswerKey().GetByExamID(ctx, nil, examID)
}

func (s *examService) canManage(exam *models.Exam, actor *models.Actor) bool {
	if actor.IsService() || actor.Role == models.RoleAdmin {
		return true
	}
	return actor.Role == models.RoleInstructor && exam.CreatedBy == actor.ID
}

func (s *examService) buildResponse(ctx context.Context, exam *models.Exam, actor *models.Actor) (*ExamResponse, error) {
	resp := &ExamResponse{
		Exam:      exam,
		CanEdit:   s.canManage(exam, actor) && exam.Status != models.ExamEvaluating,
		CanDelete: s.canManage(exam, actor) && exam.Status != models.ExamEvaluating,
	}

	if _, err := s.repo.AnswerKey().GetByExamID(ctx, nil, exam.ID); err == nil {
		resp.HasAnswerKey = true
	} else if !IsNotFoundError(err) {
		return nil, err
	}

	_, total, err := s.repo.Sheet().ListByExam(ctx, nil, exam.ID, repositories.SheetFilters{Limit: 1})
	if err != nil && !IsNotFoundError(err) {
		return nil, err
	}
	resp.SheetCount = total

	return resp, nil
}
