package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

type reportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewReportService(repo repositories.Repository, logger *slog.Logger) ReportService {
	return &reportService{repo: repo, logger: logger}
}

// ExportResults renders every result of an exam into one xlsx worksheet.
// Question columns follow the answer key order so sheets from different
// exports line up. Returns the workbook bytes and a suggested file name.
func (s *reportService) ExportResults(ctx context.Context, examID uint, actor *models.Actor) ([]byte, string, error) {
	if !actor.IsService() && !actor.IsStaff() {
		return nil, "", NewPermissionError(actor.ID, examID, "result", "export", "insufficient role permissions")
	}

	exam, err := s.repo.Exam().GetByID(ctx, nil, examID)
	if err != nil {
		return nil, "", err
	}

	questionIDs, err := s.questionOrder(ctx, examID)
	if err != nil {
		return nil, "", err
	}

	results, err := s.repo.Result().ListByExam(ctx, nil, examID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Results"
	f.SetSheetName("Sheet1", sheetName)

	headers := []string{"Student ID"}
	for _, qid := range questionIDs {
		headers = append(headers, qid)
	}
	headers = append(headers, "Total", "Max", "Flagged", "Reviewed")
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, "", err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, "", err
		}
	}

	for i, result := range results {
		breakdown, err := result.Breakdown()
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode breakdown for student %s: %w", result.StudentID, err)
		}

		row := i + 2
		values := make([]interface{}, 0, len(headers))
		values = append(values, result.StudentID)
		for _, qid := range questionIDs {
			entry, ok := breakdown[qid]
			switch {
			case !ok:
				values = append(values, "")
			case entry.Illegible || entry.Awarded == nil:
				values = append(values, "ILLEGIBLE")
			default:
				values = append(values, *entry.Awarded)
			}
		}
		values = append(values, result.TotalMarks, result.MaxMarks, result.HasIllegible, result.Reviewed)

		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, "", err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, "", err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to render workbook: %w", err)
	}

	fileName := fmt.Sprintf("%s_results.xlsx", exam.ExamID)
	s.logger.Info("results exported",
		"exam_id", examID,
		"results", len(results),
		"file_name", fileName,
		"exported_by", actor.ID)

	return buf.Bytes(), fileName, nil
}

// questionOrder returns question IDs in answer key order, or the union of
// breakdown keys sorted lexically when the key is missing.
func (s *reportService) questionOrder(ctx context.Context, examID uint) ([]string, error) {
	key, err := s.repo.AnswerKey().GetByExamID(ctx, nil, examID)
	if err == nil {
		specs, err := key.QuestionSpecs()
		if err != nil {
			return nil, fmt.Errorf("failed to decode answer key: %w", err)
		}
		ids := make([]string, 0, len(specs))
		for _, q := range specs {
			ids = append(ids, q.QID)
		}
		return ids, nil
	}
	if !IsNotFoundError(err) {
		return nil, err
	}

	results, err := s.repo.Result().ListByExam(ctx, nil, examID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range results {
		breakdown, err := r.Breakdown()
		if err != nil {
			continue
		}
		for qid := range breakdown {
			if _, ok := seen[qid]; !ok {
				seen[qid] = struct{}{}
				ids = append(ids, qid)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
