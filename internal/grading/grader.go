package grading

import (
	"context"
	"fmt"

	"github.com/scriptgrade/evaluation-service/internal/models"
)

// TransientError marks grading failures worth retrying, such as rate limits
// or backend outages. Anything else is treated as a final outcome.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient grading error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Grader evaluates handwritten answer sheets against an answer key.
type Grader interface {
	// ExtractStudentID reads the student identifier off the sheet.
	// Returns "" when it cannot be determined.
	ExtractStudentID(ctx context.Context, sheet []byte) (string, error)

	// GradeQuestion grades one question. A breakdown with Illegible set
	// and a nil Awarded is a valid outcome, not an error.
	GradeQuestion(ctx context.Context, sheet []byte, question models.QuestionSpec) (models.QuestionBreakdown, error)

	// GradeSheet grades every question on the sheet and returns the
	// extracted student ID alongside the per-question breakdown.
	GradeSheet(ctx context.Context, sheet []byte, questions []models.QuestionSpec) (string, models.Breakdown, error)
}
