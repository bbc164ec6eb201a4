package validator

import (
	"fmt"
	"strings"

	"github.com/scriptgrade/evaluation-service/internal/models"
)

// ValidateExamCreate validates exam creation requests.
func (v *Validator) ValidateExamCreate(req *ExamCreateRequest) ValidationErrors {
	return v.Validate(req)
}

// ValidateAnswerKeyCreate validates answer key uploads beyond struct tags:
// question IDs must be unique and rubric weights must not exceed the
// question maximum.
func (v *Validator) ValidateAnswerKeyCreate(req *AnswerKeyCreateRequest) ValidationErrors {
	errors := v.Validate(req)

	seen := make(map[string]bool, len(req.Questions))
	for i, q := range req.Questions {
		qid := strings.TrimSpace(q.QID)
		if seen[qid] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].qid", i),
				Message: "duplicate question id",
				Value:   q.QID,
				Rule:    "unique_qid",
			})
		}
		seen[qid] = true

		var weightSum float64
		for _, item := range q.Rubric {
			weightSum += item.Weight
		}
		if len(q.Rubric) > 0 && weightSum > q.MaxMarks {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].rubric", i),
				Message: "rubric weights exceed the question maximum",
				Value:   weightSum,
				Rule:    "rubric_weight_sum",
			})
		}
	}

	return errors
}

// ValidateStatusTransition validates exam lifecycle moves.
func (v *Validator) ValidateStatusTransition(current, next models.ExamStatus, adminOverride bool) ValidationErrors {
	if !current.CanTransitionTo(next, adminOverride) {
		return ValidationErrors{{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition from %s to %s", current, next),
			Value:   next,
			Rule:    "status_transition",
		}}
	}
	return nil
}

// ValidateResolveMarks checks adjudicated marks against the question maximum.
func (v *Validator) ValidateResolveMarks(marks, maxMarks float64) ValidationErrors {
	if marks < 0 || marks > maxMarks {
		return ValidationErrors{{
			Field:   "marks",
			Message: fmt.Sprintf("must be between 0 and %g", maxMarks),
			Value:   marks,
			Rule:    "marks_range",
		}}
	}
	return nil
}
