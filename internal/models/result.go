package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// QuestionBreakdown is the graded outcome for a single question.
// Awarded is nil while the answer is illegible.
type QuestionBreakdown struct {
	Awarded       *float64 `json:"awarded"`
	Max           float64  `json:"max"`
	Justification string   `json:"justification"`
	Confidence    float64  `json:"confidence"`
	Illegible     bool     `json:"illegible"`
}

// Breakdown maps question IDs to their graded outcomes.
type Breakdown map[string]QuestionBreakdown

// TotalMarks sums awarded marks over legible questions.
func (b Breakdown) TotalMarks() float64 {
	var total float64
	for _, q := range b {
		if !q.Illegible && q.Awarded != nil {
			total += *q.Awarded
		}
	}
	return total
}

// MaxMarks sums max marks over all questions.
func (b Breakdown) MaxMarks() float64 {
	var total float64
	for _, q := range b {
		total += q.Max
	}
	return total
}

// HasIllegible reports whether any question is still illegible.
func (b Breakdown) HasIllegible() bool {
	for _, q := range b {
		if q.Illegible {
			return true
		}
	}
	return false
}

// Result is the authoritative graded outcome for one (exam, student) pair,
// enforced unique. Only the reconciler writes rows here.
type Result struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	ExamID    uint   `json:"exam_id" gorm:"not null;uniqueIndex:idx_results_exam_student"`
	StudentID string `json:"student_id" gorm:"not null;size:50;uniqueIndex:idx_results_exam_student"`

	TotalMarks   float64        `json:"total_marks"`
	MaxMarks     float64        `json:"max_marks"`
	BreakdownRaw datatypes.JSON `json:"breakdown" gorm:"column:breakdown;type:jsonb;not null"`
	HasIllegible bool           `json:"has_illegible" gorm:"not null;default:false;index"`
	Reviewed     bool           `json:"reviewed" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Exam  Exam            `json:"-" gorm:"foreignKey:ExamID"`
	Flags []IllegibleFlag `json:"flags,omitempty" gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE"`
}

func (Result) TableName() string {
	return "results"
}

// Breakdown decodes the stored per-question breakdown.
func (r *Result) Breakdown() (Breakdown, error) {
	var b Breakdown
	if err := json.Unmarshal(r.BreakdownRaw, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// SetBreakdown encodes and stores the breakdown and refreshes the derived
// totals in the same struct, so a single save keeps them consistent.
func (r *Result) SetBreakdown(b Breakdown) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	r.BreakdownRaw = data
	r.TotalMarks = b.TotalMarks()
	r.MaxMarks = b.MaxMarks()
	r.HasIllegible = b.HasIllegible()
	return nil
}

// IllegibleFlag records one unreadable answer awaiting human adjudication.
// It is created unresolved during grading and resolved exactly once by an
// instructor or admin.
type IllegibleFlag struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	ResultID   uint   `json:"result_id" gorm:"not null;index"`
	ExamID     uint   `json:"exam_id" gorm:"not null;index"`
	StudentID  string `json:"student_id" gorm:"not null;size:50;index"`
	QuestionID string `json:"question_id" gorm:"not null;size:50"`

	// Where the original answer lives, for the reviewer.
	OriginalAnswerPath *string `json:"original_answer_path" gorm:"size:500"`

	Resolved      bool       `json:"resolved" gorm:"not null;default:false;index"`
	ResolvedBy    *string    `json:"resolved_by" gorm:"size:255"`
	ResolvedMarks *float64   `json:"resolved_marks"`
	ResolvedAt    *time.Time `json:"resolved_at"`

	CreatedAt time.Time `json:"created_at"`

	Result Result `json:"-" gorm:"foreignKey:ResultID"`
}

func (IllegibleFlag) TableName() string {
	return "illegible_flags"
}
