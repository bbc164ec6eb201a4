package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/authz"
	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

type resultService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
}

func NewResultService(repo repositories.Repository, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) ResultService {
	return &resultService{
		repo:      repo,
		logger:    logger,
		validator: v,
		publisher: publisher,
	}
}

// Upsert reconciles one grading outcome into the authoritative result row.
// Re-grading the same student replaces the breakdown wholesale: pending
// flags from the previous grading round are dropped and re-created from the
// new breakdown, while already resolved flags stay as an audit trail.
func (s *resultService) Upsert(ctx context.Context, examID uint, studentID string, breakdown models.Breakdown, originalAnswerPath *string) (*models.Result, error) {
	var result *models.Result
	var newFlags []*models.IllegibleFlag

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		row := &models.Result{ExamID: examID, StudentID: studentID}
		if err := row.SetBreakdown(breakdown); err != nil {
			return fmt.Errorf("failed to encode breakdown: %w", err)
		}
		if err := txRepo.Result().Upsert(ctx, nil, row); err != nil {
			return err
		}

		// Re-read to get the canonical row ID after a conflict update.
		var err error
		result, err = txRepo.Result().GetByExamAndStudent(ctx, nil, examID, studentID)
		if err != nil {
			return err
		}

		if err := txRepo.Flag().DeleteUnresolvedByResult(ctx, nil, result.ID); err != nil {
			return err
		}

		newFlags = newFlags[:0]
		for _, qid := range sortedQuestionIDs(breakdown) {
			qb := breakdown[qid]
			if !qb.Illegible {
				continue
			}
			newFlags = append(newFlags, &models.IllegibleFlag{
				ResultID:           result.ID,
				ExamID:             examID,
				StudentID:          studentID,
				QuestionID:         qid,
				OriginalAnswerPath: originalAnswerPath,
			})
		}
		if len(newFlags) == 0 {
			return nil
		}
		return txRepo.Flag().CreateBatch(ctx, nil, newFlags)
	})
	if err != nil {
		return nil, err
	}

	for _, flag := range newFlags {
		event := events.NewEvent(events.EventResultFlagged, events.ResultFlaggedEvent{
			ExamID:     examID,
			StudentID:  studentID,
			QuestionID: flag.QuestionID,
			FlagID:     flag.ID,
		})
		if err := s.publisher.Publish(ctx, events.TopicResults, event); err != nil {
			s.logger.Warn("failed to publish result flagged event", "error", err, "flag_id", flag.ID)
		}
	}

	return result, nil
}

func (s *resultService) GetResult(ctx context.Context, examID uint, studentID string, actor *models.Actor) (*ResultResponse, error) {
	result, err := s.repo.Result().GetByExamAndStudent(ctx, nil, examID, studentID)
	if err != nil {
		return nil, err
	}

	allowed := authz.CanAccess(authz.Request{
		Actor:          actor,
		Resource:       authz.ResourceResult,
		Operation:      authz.OpRead,
		OwnerStudentID: result.StudentID,
	})
	if !allowed {
		return nil, NewPermissionError(actor.ID, result.ID, "result", "read", "results are private to their owner")
	}

	return resultResponse(result)
}

func (s *resultService) ListResults(ctx context.Context, examID uint, actor *models.Actor) ([]*ResultResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "result", "list", "insufficient role permissions")
	}

	results, err := s.repo.Result().ListByExam(ctx, nil, examID)
	if err != nil {
		return nil, err
	}

	responses := make([]*ResultResponse, 0, len(results))
	for _, r := range results {
		resp, err := resultResponse(r)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

func (s *resultService) GetSummary(ctx context.Context, examID uint, actor *models.Actor) (*repositories.ResultSummary, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "result", "read", "insufficient role permissions")
	}
	return s.repo.Result().Summary(ctx, nil, examID)
}

func (s *resultService) ListFlags(ctx context.Context, examID uint, resolved *bool, actor *models.Actor) (*FlagListResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "flag", "list", "insufficient role permissions")
	}

	flags, total, err := s.repo.Flag().ListByExam(ctx, nil, examID, repositories.FlagFilters{Resolved: resolved})
	if err != nil {
		return nil, err
	}
	return &FlagListResponse{Flags: flags, Total: total}, nil
}

// ResolveFlag folds an adjudicated mark back into the parent result. The
// flag row survives as an audit record of who decided what.
func (s *resultService) ResolveFlag(ctx context.Context, flagID uint, req *ResolveFlagRequest, actor *models.Actor) (*ResultResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, flagID, "flag", "resolve", "insufficient role permissions")
	}

	var result *models.Result
	var flag *models.IllegibleFlag

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var err error
		flag, err = txRepo.Flag().GetByID(ctx, nil, flagID)
		if err != nil {
			return err
		}
		if flag.Resolved {
			return ErrAlreadyResolved
		}

		result, err = txRepo.Result().GetByID(ctx, nil, flag.ResultID)
		if err != nil {
			return err
		}

		maxMarks, err := s.questionMax(ctx, txRepo, flag.ExamID, flag.QuestionID, result)
		if err != nil {
			return err
		}
		if req.Marks < 0 || req.Marks > maxMarks {
			return fmt.Errorf("%w: marks %g outside [0, %g] for question %s", ErrOutOfRange, req.Marks, maxMarks, flag.QuestionID)
		}

		breakdown, err := result.Breakdown()
		if err != nil {
			return fmt.Errorf("failed to decode breakdown: %w", err)
		}
		marks := req.Marks
		entry := breakdown[flag.QuestionID]
		entry.Awarded = &marks
		entry.Max = maxMarks
		entry.Illegible = false
		entry.Confidence = 1
		entry.Justification = fmt.Sprintf("Manually reviewed and awarded %g marks", marks)
		breakdown[flag.QuestionID] = entry

		if err := result.SetBreakdown(breakdown); err != nil {
			return fmt.Errorf("failed to encode breakdown: %w", err)
		}
		result.Reviewed = true
		if err := txRepo.Result().Update(ctx, nil, result); err != nil {
			return err
		}

		now := time.Now()
		flag.Resolved = true
		flag.ResolvedBy = &actor.ID
		flag.ResolvedMarks = &marks
		flag.ResolvedAt = &now
		return txRepo.Flag().Update(ctx, nil, flag)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("illegible flag resolved",
		"flag_id", flagID,
		"exam_id", flag.ExamID,
		"student_id", flag.StudentID,
		"question_id", flag.QuestionID,
		"marks", req.Marks,
		"resolved_by", actor.ID)

	event := events.NewEvent(events.EventFlagResolved, events.FlagResolvedEvent{
		FlagID:     flagID,
		ExamID:     flag.ExamID,
		StudentID:  flag.StudentID,
		QuestionID: flag.QuestionID,
		Marks:      req.Marks,
		ResolvedBy: actor.ID,
	})
	if err := s.publisher.Publish(ctx, events.TopicResults, event); err != nil {
		s.logger.Warn("failed to publish flag resolved event", "error", err, "flag_id", flagID)
	}

	return resultResponse(result)
}

func (s *resultService) OverrideQuestion(ctx context.Context, examID uint, studentID string, req *OverrideResultRequest, actor *models.Actor) (*ResultResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "result", "update", "insufficient role permissions")
	}
	if errs := s.validator.Validate(req); errs != nil {
		return nil, errs
	}

	var result *models.Result
	var resolvedFlags []*models.IllegibleFlag
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var err error
		result, err = txRepo.Result().GetByExamAndStudent(ctx, nil, examID, studentID)
		if err != nil {
			return err
		}

		breakdown, err := result.Breakdown()
		if err != nil {
			return fmt.Errorf("failed to decode breakdown: %w", err)
		}
		if _, ok := breakdown[req.QuestionID]; !ok {
			return fmt.Errorf("%w: question %s not part of this result", ErrOutOfRange, req.QuestionID)
		}

		maxMarks, err := s.questionMax(ctx, txRepo, examID, req.QuestionID, result)
		if err != nil {
			return err
		}
		if req.Marks < 0 || req.Marks > maxMarks {
			return fmt.Errorf("%w: marks %g outside [0, %g] for question %s", ErrOutOfRange, req.Marks, maxMarks, req.QuestionID)
		}

		marks := req.Marks
		entry := breakdown[req.QuestionID]
		entry.Awarded = &marks
		entry.Max = maxMarks
		entry.Illegible = false
		entry.Confidence = 1
		if req.Justification != nil && *req.Justification != "" {
			entry.Justification = *req.Justification
		} else {
			entry.Justification = fmt.Sprintf("Marks overridden to %g by staff", marks)
		}
		breakdown[req.QuestionID] = entry

		if err := result.SetBreakdown(breakdown); err != nil {
			return fmt.Errorf("failed to encode breakdown: %w", err)
		}
		result.Reviewed = true
		if err := txRepo.Result().Update(ctx, nil, result); err != nil {
			return err
		}

		// An override adjudicates the question, so a pending flag on it
		// would leave the review queue pointing at settled marks. Close it
		// with the override's outcome.
		pending := false
		flags, _, err := txRepo.Flag().ListByExam(ctx, nil, examID, repositories.FlagFilters{
			Resolved:  &pending,
			StudentID: &studentID,
		})
		if err != nil {
			return err
		}
		now := time.Now()
		for _, flag := range flags {
			if flag.ResultID != result.ID || flag.QuestionID != req.QuestionID {
				continue
			}
			flag.Resolved = true
			flag.ResolvedBy = &actor.ID
			flag.ResolvedMarks = &marks
			flag.ResolvedAt = &now
			if err := txRepo.Flag().Update(ctx, nil, flag); err != nil {
				return err
			}
			resolvedFlags = append(resolvedFlags, flag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, flag := range resolvedFlags {
		event := events.NewEvent(events.EventFlagResolved, events.FlagResolvedEvent{
			FlagID:     flag.ID,
			ExamID:     examID,
			StudentID:  studentID,
			QuestionID: flag.QuestionID,
			Marks:      req.Marks,
			ResolvedBy: actor.ID,
		})
		if err := s.publisher.Publish(ctx, events.TopicResults, event); err != nil {
			s.logger.Warn("failed to publish flag resolved event", "error", err, "flag_id", flag.ID)
		}
	}

	s.logger.Info("result question overridden",
		"exam_id", examID,
		"student_id", studentID,
		"question_id", req.QuestionID,
		"marks", req.Marks,
		"overridden_by", actor.ID)

	return resultResponse(result)
}

// questionMax resolves the maximum marks for a question, preferring the
// answer key and falling back to the breakdown entry when the key is gone.
func (s *resultService) questionMax(ctx context.Context, txRepo repositories.Repository, examID uint, questionID string, result *models.Result) (float64, error) {
	key, err := txRepo.AnswerKey().GetByExamID(ctx, nil, examID)
	if err == nil {
		specs, err := key.QuestionSpecs()
		if err != nil {
			return 0, fmt.Errorf("failed to decode answer key: %w", err)
		}
		if q := models.FindQuestion(specs, questionID); q != nil {
			return q.MaxMarks, nil
		}
	} else if !IsNotFoundError(err) {
		return 0, err
	}

	breakdown, err := result.Breakdown()
	if err != nil {
		return 0, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	if entry, ok := breakdown[questionID]; ok {
		return entry.Max, nil
	}
	return 0, fmt.Errorf("%w: question %s has no known maximum", ErrOutOfRange, questionID)
}

func resultResponse(result *models.Result) (*ResultResponse, error) {
	breakdown, err := result.Breakdown()
	if err != nil {
		return nil, fmt.Errorf("failed to decode breakdown: %w", err)
	}
	return &ResultResponse{Result: result, Breakdown: breakdown}, nil
}

func sortedQuestionIDs(breakdown models.Breakdown) []string {
	ids := make([]string, 0, len(breakdown))
	for qid := range breakdown {
		ids = append(ids, qid)
	}
	sort.Strings(ids)
	return ids
}
