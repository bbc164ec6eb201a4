package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/scriptgrade/evaluation-service/internal/models"
)

const maxStudentIDLength = 20

var whitespacePattern = regexp.MustCompile(`\s+`)

// GeminiGrader implements Grader using the Google Gemini SDK.
type GeminiGrader struct {
	client *genai.Client
	model  string
}

// GeminiConfig holds the grading backend settings.
type GeminiConfig struct {
	APIKey string
	Model  string
}

func NewGeminiGrader(ctx context.Context, cfg GeminiConfig) (*GeminiGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	return &GeminiGrader{
		client: client,
		model:  model,
	}, nil
}

const extractIDPrompt = `Analyze this handwritten exam answer sheet.
Your task is to find and extract the STUDENT ID (also called Roll Number, Registration Number, or similar).

The student ID is typically:
- Written at the TOP of the first page
- In a designated field/box
- Could be in format like: 21CS045, 2021BCS0123, ABC123, etc.

Return ONLY the student ID as plain text, nothing else.
If you cannot find or read the student ID clearly, return exactly: UNKNOWN

Example valid responses:
21CS045
2021BCS0123
UNKNOWN`

func (g *GeminiGrader) ExtractStudentID(ctx context.Context, sheet []byte) (string, error) {
	result, err := g.generate(ctx, extractIDPrompt, sheet)
	if err != nil {
		return "", mapGeminiError(err)
	}

	studentID := strings.TrimSpace(result.Text())
	if studentID == "" || studentID == "UNKNOWN" || len(studentID) > maxStudentIDLength {
		return "", nil
	}

	return whitespacePattern.ReplaceAllString(studentID, ""), nil
}

func (g *GeminiGrader) GradeQuestion(ctx context.Context, sheet []byte, question models.QuestionSpec) (models.QuestionBreakdown, error) {
	prompt := buildGradingPrompt(question)

	result, err := g.generate(ctx, prompt, sheet)
	if err != nil {
		return models.QuestionBreakdown{}, mapGeminiError(err)
	}

	return parseBreakdown(result.Text(), question), nil
}

func (g *GeminiGrader) GradeSheet(ctx context.Context, sheet []byte, questions []models.QuestionSpec) (string, models.Breakdown, error) {
	studentID, err := g.ExtractStudentID(ctx, sheet)
	if err != nil {
		return "", nil, err
	}

	breakdown := make(models.Breakdown, len(questions))
	for _, question := range questions {
		outcome, err := g.GradeQuestion(ctx, sheet, question)
		if err != nil {
			return "", nil, err
		}
		breakdown[question.QID] = outcome
	}

	return studentID, breakdown, nil
}

func (g *GeminiGrader) generate(ctx context.Context, prompt string, sheet []byte) (*genai.GenerateContentResponse, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{Data: sheet, MIMEType: "application/pdf"}},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	return g.client.Models.GenerateContent(ctx, g.model, contents, config)
}

func buildGradingPrompt(question models.QuestionSpec) string {
	var rubric strings.Builder
	for _, item := range question.Rubric {
		fmt.Fprintf(&rubric, "  - %s: %g marks\n", item.Criterion, item.Weight)
	}

	keywords := "None specified"
	if len(question.Keywords) > 0 {
		keywords = strings.Join(question.Keywords, ", ")
	}

	return fmt.Sprintf(`You are an expert exam grader. Analyze the handwritten answer sheet and grade Question %[1]s.

## Question Details:
- Question ID: %[1]s
- Maximum Marks: %[2]g

## Grading Rubric:
%[3]s
## Keywords to look for: %[4]s

## Instructions:
1. Locate the answer for Question %[1]s in the PDF
2. Read and interpret the handwritten answer carefully
3. Compare against each rubric point and award partial marks as appropriate
4. Consider keywords as positive indicators but don't require exact matches

## Special Cases:
- If the answer section is BLANK or empty: Award 0 marks, set "illegible": false
- If the handwriting is ILLEGIBLE (cannot read): Set "illegible": true, "awarded": null
- For partial answers: Award proportional marks based on rubric coverage

## Required JSON Response Format:
{
  "awarded": <number or null if illegible>,
  "max": %[2]g,
  "justification": "<detailed explanation of grading decision>",
  "confidence": <0.0 to 1.0 - your confidence in this grading>,
  "illegible": <true if cannot read, false otherwise>
}

IMPORTANT: Return ONLY valid JSON, no markdown formatting or explanations outside the JSON.`,
		question.QID, question.MaxMarks, rubric.String(), keywords)
}

// parseBreakdown decodes the model's JSON response. A response that cannot
// be parsed is treated as an illegible answer so a human reviews it.
func parseBreakdown(text string, question models.QuestionSpec) models.QuestionBreakdown {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw struct {
		Awarded       *float64 `json:"awarded"`
		Max           *float64 `json:"max"`
		Justification string   `json:"justification"`
		Confidence    *float64 `json:"confidence"`
		Illegible     bool     `json:"illegible"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return models.QuestionBreakdown{
			Awarded:       nil,
			Max:           question.MaxMarks,
			Justification: fmt.Sprintf("Error parsing grading response: %v", err),
			Confidence:    0,
			Illegible:     true,
		}
	}

	breakdown := models.QuestionBreakdown{
		Awarded:       raw.Awarded,
		Max:           question.MaxMarks,
		Justification: raw.Justification,
		Confidence:    0.5,
		Illegible:     raw.Illegible,
	}
	if breakdown.Justification == "" {
		breakdown.Justification = "Grading completed"
	}
	if raw.Confidence != nil {
		breakdown.Confidence = clamp(*raw.Confidence, 0, 1)
	}
	if breakdown.Illegible {
		breakdown.Awarded = nil
	} else if breakdown.Awarded != nil {
		clamped := clamp(*breakdown.Awarded, 0, question.MaxMarks)
		breakdown.Awarded = &clamped
	}

	return breakdown
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mapGeminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return &TransientError{Err: err}
		}
	}
	return err
}
