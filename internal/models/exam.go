package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ExamStatus string

const (
	ExamDraft      ExamStatus = "draft"
	ExamReady      ExamStatus = "ready"
	ExamEvaluating ExamStatus = "evaluating"
	ExamCompleted  ExamStatus = "completed"
)

// examStatusRank orders the monotonic lifecycle draft -> ready -> evaluating -> completed.
var examStatusRank = map[ExamStatus]int{
	ExamDraft:      0,
	ExamReady:      1,
	ExamEvaluating: 2,
	ExamCompleted:  3,
}

// CanTransitionTo reports whether moving from s to next is a legal step.
// Transitions advance one state at a time and never reverse, with one
// exception: an admin override from any later state back to ready, used to
// re-run evaluation. The override is gated by the caller's role check, not
// here.
func (s ExamStatus) CanTransitionTo(next ExamStatus, adminOverride bool) bool {
	from, ok := examStatusRank[s]
	if !ok {
		return false
	}
	to, ok := examStatusRank[next]
	if !ok {
		return false
	}
	if adminOverride && next == ExamReady && from > examStatusRank[ExamReady] {
		return true
	}
	return to == from+1
}

type Exam struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	ExamID      string     `json:"exam_id" gorm:"uniqueIndex;not null;size:100" validate:"required,min=1,max=100"`
	Name        string     `json:"name" gorm:"not null;size:200" validate:"required,min=1,max=200"`
	Description *string    `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Status      ExamStatus `json:"status" gorm:"default:draft;index" validate:"omitempty,oneof=draft ready evaluating completed"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations. Everything scoped to an exam dies with it.
	AnswerKey *AnswerKey      `json:"answer_key,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
	Sheets    []AnswerSheet   `json:"sheets,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
	Jobs      []EvaluationJob `json:"jobs,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
	Results   []Result        `json:"results,omitempty" gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE"`
}

func (Exam) TableName() string {
	return "exams"
}

// RubricItem is a single scoring criterion with its weight in marks.
type RubricItem struct {
	Criterion string  `json:"criterion" validate:"required"`
	Weight    float64 `json:"weight" validate:"min=0"`
}

// QuestionSpec is one question in an answer key.
type QuestionSpec struct {
	QID      string       `json:"qid" validate:"required"`
	MaxMarks float64      `json:"max_marks" validate:"min=0"`
	Rubric   []RubricItem `json:"rubric" validate:"required,min=1,dive"`
	Keywords []string     `json:"keywords"`
}

// AnswerKey holds the ordered question specifications for an exam.
// Exactly one per exam, enforced by the unique index on exam_id. Immutable
// once an evaluation job has started for the exam.
type AnswerKey struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	ExamID    uint           `json:"exam_id" gorm:"uniqueIndex;not null"`
	Questions datatypes.JSON `json:"questions" gorm:"type:jsonb;not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AnswerKey) TableName() string {
	return "answer_keys"
}

// QuestionSpecs decodes the stored question list.
func (k *AnswerKey) QuestionSpecs() ([]QuestionSpec, error) {
	var specs []QuestionSpec
	if err := json.Unmarshal(k.Questions, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// SetQuestionSpecs encodes and stores the question list.
func (k *AnswerKey) SetQuestionSpecs(specs []QuestionSpec) error {
	data, err := json.Marshal(specs)
	if err != nil {
		return err
	}
	k.Questions = data
	return nil
}

// MaxTotal sums the max marks over all questions.
func MaxTotal(specs []QuestionSpec) float64 {
	var total float64
	for _, q := range specs {
		total += q.MaxMarks
	}
	return total
}

// FindQuestion returns the spec for qid, or nil when absent.
func FindQuestion(specs []QuestionSpec, qid string) *QuestionSpec {
	for i := range specs {
		if specs[i].QID == qid {
			return &specs[i]
		}
	}
	return nil
}
