package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// Validator wraps go-playground/validator with domain rules registered.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	validate := validator.New()

	v := &Validator{validate: validate}
	v.registerDomainRules()

	return v
}

// Validate runs struct tag validation and converts the result.
func (v *Validator) Validate(s interface{}) ValidationErrors {
	err := v.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ToValidationErrors converts a validator error into field errors.
func ToValidationErrors(err error) ValidationErrors {
	var errors ValidationErrors
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}
	for _, fe := range fieldErrs {
		errors = append(errors, ValidationError{
			Field:   fe.Field(),
			Message: errorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return errors
}

func (v *Validator) registerDomainRules() {
	// Exam identifiers are short, URL-safe and human assigned.
	v.validate.RegisterValidation("exam_identifier", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		if len(id) < 1 || len(id) > 50 {
			return false
		}
		for _, r := range id {
			ok := r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
		return true
	})

	// Exam name validation (1-200 characters)
	v.validate.RegisterValidation("exam_name", func(fl validator.FieldLevel) bool {
		name := strings.TrimSpace(fl.Field().String())
		return len(name) >= 1 && len(name) <= 200
	})

	// Description validation (max 1000 characters)
	v.validate.RegisterValidation("exam_description", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= 1000
	})

	// Question IDs within an answer key
	v.validate.RegisterValidation("question_identifier", func(fl validator.FieldLevel) bool {
		qid := strings.TrimSpace(fl.Field().String())
		return len(qid) >= 1 && len(qid) <= 50
	})

	// Marks are non-negative with a sanity ceiling
	v.validate.RegisterValidation("marks_range", func(fl validator.FieldLevel) bool {
		marks := fl.Field().Float()
		return marks >= 0 && marks <= 1000
	})
}

func errorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", err.Param())
	case "exam_identifier":
		return "must be 1-50 URL-safe characters"
	case "exam_name":
		return "must be between 1 and 200 characters"
	case "exam_description":
		return "must not exceed 1000 characters"
	case "question_identifier":
		return "must be between 1 and 50 characters"
	case "marks_range":
		return "must be between 0 and 1000"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
