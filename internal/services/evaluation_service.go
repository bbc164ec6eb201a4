package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

type evaluationService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	publisher events.EventPublisher
}

func NewEvaluationService(repo repositories.Repository, logger *slog.Logger, publisher events.EventPublisher) EvaluationService {
	return &evaluationService{
		repo:      repo,
		logger:    logger,
		publisher: publisher,
	}
}

// StartJob runs the whole admission check inside one transaction so the
// one-active-job-per-exam invariant holds under concurrent starts.
func (s *evaluationService) StartJob(ctx context.Context, examID uint, actor *models.Actor) (*JobStatusResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "job", "start", "insufficient role permissions")
	}

	var job *models.EvaluationJob
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		exam, err := txRepo.Exam().GetByID(ctx, nil, examID)
		if err != nil {
			return err
		}

		if exam.Status != models.ExamReady {
			return NewStateError("exam", examID, string(exam.Status), "start evaluation")
		}

		if _, err := txRepo.Job().GetActiveByExam(ctx, nil, examID); err == nil {
			return ErrJobActive
		} else if !IsNotFoundError(err) {
			return err
		}

		if _, err := txRepo.AnswerKey().GetByExamID(ctx, nil, examID); err != nil {
			if IsNotFoundError(err) {
				return NewStateError("exam", examID, string(exam.Status), "start evaluation without answer key")
			}
			return err
		}

		total, err := txRepo.Sheet().CountUnprocessed(ctx, nil, examID)
		if err != nil {
			return err
		}

		now := time.Now()
		job = &models.EvaluationJob{
			ExamID:          examID,
			Status:          models.JobPending,
			TotalSheets:     int(total),
			ProcessedSheets: 0,
			StartedAt:       &now,
		}

		// Nothing to grade: the job and the exam both finish here.
		if total == 0 {
			job.Status = models.JobCompleted
			job.CompletedAt = &now
			if err := txRepo.Job().Create(ctx, nil, job); err != nil {
				return err
			}
			return txRepo.Exam().UpdateStatus(ctx, nil, examID, models.ExamCompleted)
		}

		if err := txRepo.Job().Create(ctx, nil, job); err != nil {
			return err
		}
		return txRepo.Exam().UpdateStatus(ctx, nil, examID, models.ExamEvaluating)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("evaluation job started",
		"job_id", job.ID,
		"exam_id", examID,
		"total_sheets", job.TotalSheets,
		"started_by", actor.ID)

	event := events.NewEvent(events.EventEvaluationStarted, events.EvaluationStartedEvent{
		JobID:       job.ID,
		ExamID:      examID,
		TotalSheets: job.TotalSheets,
		StartedBy:   actor.ID,
	})
	if err := s.publisher.Publish(ctx, events.TopicEvaluation, event); err != nil {
		s.logger.Warn("failed to publish evaluation started event", "error", err, "job_id", job.ID)
	}

	return jobStatusResponse(job), nil
}

// ClaimNextSheet moves the job to in_progress on the first successful claim
// and hands exactly one sheet to the caller. Nil means no work remains.
func (s *evaluationService) ClaimNextSheet(ctx context.Context, jobID uint) (*models.AnswerSheet, error) {
	job, err := s.repo.Job().GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, nil
	}

	sheet, err := s.repo.Sheet().ClaimNext(ctx, nil, job.ExamID)
	if err != nil {
		if errors.Is(err, repositories.ErrNoClaimableSheet) {
			return nil, nil
		}
		return nil, err
	}

	if job.Status == models.JobPending {
		// Guarded transition: a lost race means another worker already
		// moved the job, and a stale snapshot cannot touch the counters.
		if _, err := s.repo.Job().MarkInProgress(ctx, nil, job.ID); err != nil {
			// Undo the claim so the sheet is not stranded.
			_ = s.repo.Sheet().ReleaseClaim(ctx, nil, sheet.ID)
			return nil, err
		}
	}

	return sheet, nil
}

// ReportSheetProcessed finalizes one claimed sheet. The last report wins the
// completion transition exactly once; everything runs in one transaction so
// a crash mid-way leaves the sheet claimable again.
func (s *evaluationService) ReportSheetProcessed(ctx context.Context, jobID uint, outcome *SheetOutcome) error {
	var completed, incremented bool
	var processed int
	var job *models.EvaluationJob

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var err error
		job, err = txRepo.Job().GetByID(ctx, nil, jobID)
		if err != nil {
			return err
		}

		if outcome != nil {
			studentID := &outcome.StudentID
			if outcome.StudentID == "" {
				studentID = nil
			}
			if err := txRepo.Sheet().MarkProcessed(ctx, nil, outcome.SheetID, studentID); err != nil {
				return err
			}
		}

		processed, incremented, err = txRepo.Job().IncrementProcessed(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if !incremented {
			// Terminal job or counter already at total. Nothing to do,
			// but the sheet stays processed so it is not re-graded.
			s.logger.Warn("sheet report ignored, job not accepting increments",
				"job_id", jobID, "job_status", job.Status)
			return nil
		}

		completed, err = txRepo.Job().CompleteIfDone(ctx, nil, jobID)
		if err != nil {
			return err
		}
		if completed {
			return txRepo.Exam().UpdateStatus(ctx, nil, job.ExamID, models.ExamCompleted)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if outcome != nil && incremented {
		sid := (*string)(nil)
		if outcome.StudentID != "" {
			sid = &outcome.StudentID
		}
		event := events.NewEvent(events.EventSheetProcessed, events.SheetProcessedEvent{
			JobID:     jobID,
			ExamID:    job.ExamID,
			SheetID:   outcome.SheetID,
			StudentID: sid,
			Processed: processed,
			Total:     job.TotalSheets,
		})
		if err := s.publisher.Publish(ctx, events.TopicEvaluation, event); err != nil {
			s.logger.Warn("failed to publish sheet processed event", "error", err, "job_id", jobID)
		}
	}

	if completed {
		s.logger.Info("evaluation job completed",
			"job_id", jobID,
			"exam_id", job.ExamID,
			"total_sheets", job.TotalSheets)

		event := events.NewEvent(events.EventEvaluationCompleted, events.EvaluationCompletedEvent{
			JobID:       jobID,
			ExamID:      job.ExamID,
			TotalSheets: job.TotalSheets,
		})
		if err := s.publisher.Publish(ctx, events.TopicEvaluation, event); err != nil {
			s.logger.Warn("failed to publish evaluation completed event", "error", err, "job_id", jobID)
		}
	}

	return nil
}

// FailJob is terminal for the job. The exam stays in evaluating so an
// operator can inspect and restart with an admin override.
func (s *evaluationService) FailJob(ctx context.Context, jobID uint, message string) error {
	job, err := s.repo.Job().GetByID(ctx, nil, jobID)
	if err != nil {
		return err
	}

	failed, err := s.repo.Job().MarkFailed(ctx, nil, jobID, message)
	if err != nil {
		return err
	}
	if !failed {
		return NewStateError("job", jobID, string(job.Status), "fail")
	}

	s.logger.Error("evaluation job failed",
		"job_id", jobID,
		"exam_id", job.ExamID,
		"reason", message)

	event := events.NewEvent(events.EventEvaluationFailed, events.EvaluationFailedEvent{
		JobID:  jobID,
		ExamID: job.ExamID,
		Reason: message,
	})
	if err := s.publisher.Publish(ctx, events.TopicEvaluation, event); err != nil {
		s.logger.Warn("failed to publish evaluation failed event", "error", err, "job_id", jobID)
	}

	return nil
}

func (s *evaluationService) GetJobStatus(ctx context.Context, examID uint, actor *models.Actor) (*JobStatusResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "job", "read", "insufficient role permissions")
	}

	job, err := s.repo.Job().GetLatestByExam(ctx, nil, examID)
	if err != nil {
		return nil, err
	}

	return jobStatusResponse(job), nil
}

func (s *evaluationService) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	released, err := s.repo.Sheet().ReleaseStale(ctx, nil, cutoff)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.logger.Warn("released stale sheet claims", "count", released, "cutoff", cutoff)
	}
	return released, nil
}

func jobStatusResponse(job *models.EvaluationJob) *JobStatusResponse {
	return &JobStatusResponse{
		JobID:           job.ID,
		ExamID:          job.ExamID,
		Status:          job.Status,
		TotalSheets:     job.TotalSheets,
		ProcessedSheets: job.ProcessedSheets,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		ErrorMessage:    job.ErrorMessage,
	}
}
