package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scriptgrade/evaluation-service/internal/authz"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/storage"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

type sheetService struct {
	repo         repositories.Repository
	store        storage.SheetStore
	logger       *slog.Logger
	validator    *validator.Validator
	signedURLTTL time.Duration
}

func NewSheetService(repo repositories.Repository, store storage.SheetStore, logger *slog.Logger, v *validator.Validator, signedURLTTL time.Duration) SheetService {
	if signedURLTTL <= 0 {
		signedURLTTL = time.Hour
	}
	return &sheetService{
		repo:         repo,
		store:        store,
		logger:       logger,
		validator:    v,
		signedURLTTL: signedURLTTL,
	}
}

// Register records an already-stored file as an unprocessed sheet.
func (s *sheetService) Register(ctx context.Context, examID uint, req *RegisterSheetRequest, actor *models.Actor) (*SheetResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "sheet", "register", "insufficient role permissions")
	}

	if errs := s.validator.Validate(req); len(errs) > 0 {
		return nil, errs
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamEvaluating {
		return nil, NewStateError("exam", examID, string(exam.Status), "register sheet")
	}

	sheet := &models.AnswerSheet{
		ExamID:    examID,
		StudentID: req.StudentID,
		FilePath:  req.FilePath,
		FileName:  req.FileName,
		Processed: false,
	}

	if err := s.repo.Sheet().Create(ctx, nil, sheet); err != nil {
		return nil, err
	}

	s.logger.Info("answer sheet registered",
		"sheet_id", sheet.ID,
		"exam_id", examID,
		"file_name", sheet.FileName)

	return &SheetResponse{AnswerSheet: sheet}, nil
}

// Upload stores the file under "<exam_ref>/<unique>_<name>" then registers it.
func (s *sheetService) Upload(ctx context.Context, examID uint, fileName string, content []byte, actor *models.Actor) (*SheetResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "sheet", "upload", "insufficient role permissions")
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamEvaluating {
		return nil, NewStateError("exam", examID, string(exam.Status), "upload sheet")
	}

	if fileName == "" {
		fileName = "answer_sheet.pdf"
	}
	uniqueName := fmt.Sprintf("%s_%s", uuid.New().String()[:8], fileName)
	filePath := fmt.Sprintf("%s/%s", exam.ExamID, uniqueName)

	if err := s.store.Upload(ctx, filePath, content, "application/pdf"); err != nil {
		return nil, fmt.Errorf("failed to store sheet: %w", err)
	}

	return s.Register(ctx, examID, &RegisterSheetRequest{
		FileName: fileName,
		FilePath: filePath,
	}, actor)
}

func (s *sheetService) GetByID(ctx context.Context, id uint, actor *models.Actor) (*SheetResponse, error) {
	sheet, err := s.repo.Sheet().GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	owner := ""
	if sheet.StudentID != nil {
		owner = *sheet.StudentID
	}
	if !authz.CanAccess(authz.Request{
		Actor:          actor,
		Resource:       authz.ResourceSheet,
		Operation:      authz.OpRead,
		OwnerStudentID: owner,
	}) {
		return nil, NewPermissionError(actor.ID, id, "sheet", "read", "not owner or insufficient permissions")
	}

	resp := &SheetResponse{AnswerSheet: sheet}
	if url, err := s.store.SignedURL(ctx, sheet.FilePath, s.signedURLTTL); err == nil {
		resp.DownloadURL = url
	} else {
		s.logger.Warn("failed to sign sheet URL", "error", err, "sheet_id", id)
	}

	return resp, nil
}

func (s *sheetService) List(ctx context.Context, examID uint, filters repositories.SheetFilters, actor *models.Actor) (*SheetListResponse, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, NewPermissionError(actor.ID, examID, "sheet", "list", "insufficient role permissions")
	}

	sheets, total, err := s.repo.Sheet().ListByExam(ctx, nil, examID, filters)
	if err != nil {
		return nil, err
	}

	responses := make([]*SheetResponse, 0, len(sheets))
	for _, sheet := range sheets {
		responses = append(responses, &SheetResponse{AnswerSheet: sheet})
	}

	return &SheetListResponse{Sheets: responses, Total: total}, nil
}

func (s *sheetService) Delete(ctx context.Context, id uint, actor *models.Actor) error {
	if !actor.IsService() && !actor.IsStaff() {
		return NewPermissionError(actor.ID, id, "sheet", "delete", "insufficient role permissions")
	}

	sheet, err := s.repo.Sheet().GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if sheet.Processed {
		return NewStateError("sheet", id, "processed", "delete")
	}

	if err := s.repo.Sheet().Delete(ctx, nil, id); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, sheet.FilePath); err != nil {
		s.logger.Warn("failed to delete stored sheet file", "error", err, "path", sheet.FilePath)
	}

	return nil
}
