package grading

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/scriptgrade/evaluation-service/internal/models"
)

var testQuestion = models.QuestionSpec{
	QID:      "Q1",
	MaxMarks: 10,
	Rubric:   []models.RubricItem{{Criterion: "Correct method", Weight: 10}},
	Keywords: []string{"integration"},
}

func TestParseBreakdown(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantAwarded   *float64
		wantIllegible bool
		wantConf      float64
	}{
		{
			name:        "plain json",
			text:        `{"awarded": 7.5, "max": 10, "justification": "Mostly correct", "confidence": 0.9, "illegible": false}`,
			wantAwarded: fptr(7.5),
			wantConf:    0.9,
		},
		{
			name:        "json fenced with language tag",
			text:        "```json\n{\"awarded\": 4, \"confidence\": 0.8, \"illegible\": false}\n```",
			wantAwarded: fptr(4),
			wantConf:    0.8,
		},
		{
			name:        "json fenced without language tag",
			text:        "```\n{\"awarded\": 4, \"confidence\": 0.8}\n```",
			wantAwarded: fptr(4),
			wantConf:    0.8,
		},
		{
			name:          "illegible answer",
			text:          `{"awarded": null, "justification": "Cannot read", "confidence": 0.2, "illegible": true}`,
			wantAwarded:   nil,
			wantIllegible: true,
			wantConf:      0.2,
		},
		{
			name:          "illegible forces awarded to null",
			text:          `{"awarded": 5, "illegible": true, "confidence": 0.3}`,
			wantAwarded:   nil,
			wantIllegible: true,
			wantConf:      0.3,
		},
		{
			name:        "awarded clamped to question maximum",
			text:        `{"awarded": 15, "confidence": 0.9}`,
			wantAwarded: fptr(10),
			wantConf:    0.9,
		},
		{
			name:        "negative awarded clamped to zero",
			text:        `{"awarded": -3, "confidence": 0.9}`,
			wantAwarded: fptr(0),
			wantConf:    0.9,
		},
		{
			name:        "confidence clamped",
			text:        `{"awarded": 5, "confidence": 1.7}`,
			wantAwarded: fptr(5),
			wantConf:    1,
		},
		{
			name:        "missing confidence defaults",
			text:        `{"awarded": 5}`,
			wantAwarded: fptr(5),
			wantConf:    0.5,
		},
		{
			name:          "unparseable response becomes illegible",
			text:          "The student clearly deserves full marks.",
			wantAwarded:   nil,
			wantIllegible: true,
			wantConf:      0,
		},
		{
			name:          "empty response becomes illegible",
			text:          "",
			wantAwarded:   nil,
			wantIllegible: true,
			wantConf:      0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBreakdown(tt.text, testQuestion)

			if got.Max != testQuestion.MaxMarks {
				t.Errorf("max = %g, want %g", got.Max, testQuestion.MaxMarks)
			}
			if got.Illegible != tt.wantIllegible {
				t.Errorf("illegible = %v, want %v", got.Illegible, tt.wantIllegible)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("confidence = %g, want %g", got.Confidence, tt.wantConf)
			}
			switch {
			case tt.wantAwarded == nil && got.Awarded != nil:
				t.Errorf("awarded = %g, want nil", *got.Awarded)
			case tt.wantAwarded != nil && got.Awarded == nil:
				t.Errorf("awarded = nil, want %g", *tt.wantAwarded)
			case tt.wantAwarded != nil && *got.Awarded != *tt.wantAwarded:
				t.Errorf("awarded = %g, want %g", *got.Awarded, *tt.wantAwarded)
			}
			if got.Justification == "" {
				t.Error("justification is empty")
			}
		})
	}
}

func TestBuildGradingPrompt(t *testing.T) {
	prompt := buildGradingPrompt(testQuestion)

	for _, want := range []string{"Question Q1", "Maximum Marks: 10", "Correct method: 10 marks", "integration"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	bare := buildGradingPrompt(models.QuestionSpec{QID: "Q2", MaxMarks: 5})
	if !strings.Contains(bare, "None specified") {
		t.Error("prompt for keyword-less question missing placeholder")
	}
}

func TestMapGeminiError(t *testing.T) {
	var transient *TransientError

	rateLimited := &genai.APIError{Code: 429, Message: "rate limited"}
	if err := mapGeminiError(rateLimited); !errors.As(err, &transient) {
		t.Errorf("429 not mapped to transient: %v", err)
	}

	serverErr := &genai.APIError{Code: 503, Message: "overloaded"}
	if err := mapGeminiError(serverErr); !errors.As(err, &transient) {
		t.Errorf("503 not mapped to transient: %v", err)
	}

	badRequest := &genai.APIError{Code: 400, Message: "invalid argument"}
	if err := mapGeminiError(badRequest); errors.As(err, &transient) {
		t.Error("400 mapped to transient")
	}

	plain := fmt.Errorf("connection reset")
	if err := mapGeminiError(plain); err != plain {
		t.Errorf("non-API error rewritten: %v", err)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("upstream busy")
	err := &TransientError{Err: cause}
	if !errors.Is(err, cause) {
		t.Error("TransientError does not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "upstream busy") {
		t.Errorf("message = %q", err.Error())
	}
}

func fptr(f float64) *float64 { return &f }
