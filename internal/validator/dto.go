package validator

// ExamCreateRequest is the payload for registering a new exam.
type ExamCreateRequest struct {
	ExamID      string  `json:"exam_id" validate:"required,exam_identifier"`
	Name        string  `json:"name" validate:"required,exam_name"`
	Description *string `json:"description" validate:"omitempty,exam_description"`
}

// ExamUpdateRequest is the payload for editing exam metadata.
type ExamUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,exam_name"`
	Description *string `json:"description" validate:"omitempty,exam_description"`
}

// ExamStatusUpdateRequest moves an exam through its lifecycle.
type ExamStatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=draft ready evaluating completed"`
}

// RubricItemRequest is one scoring criterion within a question.
type RubricItemRequest struct {
	Criterion string  `json:"criterion" validate:"required,min=1,max=500"`
	Weight    float64 `json:"weight" validate:"marks_range"`
}

// QuestionSpecRequest defines one question of an answer key.
type QuestionSpecRequest struct {
	QID      string              `json:"qid" validate:"required,question_identifier"`
	MaxMarks float64             `json:"max_marks" validate:"required,gt=0,marks_range"`
	Rubric   []RubricItemRequest `json:"rubric" validate:"omitempty,dive"`
	Keywords []string            `json:"keywords" validate:"omitempty,max=20,dive,min=1,max=100"`
}

// AnswerKeyCreateRequest uploads the answer key for an exam.
type AnswerKeyCreateRequest struct {
	Questions []QuestionSpecRequest `json:"questions" validate:"required,min=1,dive"`
}

// SheetUploadRequest registers an uploaded answer sheet file.
type SheetUploadRequest struct {
	FileName  string  `json:"file_name" validate:"required,min=1,max=255"`
	FilePath  string  `json:"file_path" validate:"required,min=1,max=500"`
	StudentID *string `json:"student_id" validate:"omitempty,min=1,max=50"`
}

// UpdateRoleRequest changes a profile's role. Administrators only.
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=student instructor admin"`
}

// ResolveFlagRequest supplies the adjudicated marks for an illegible answer.
type ResolveFlagRequest struct {
	Marks float64 `json:"marks" validate:"min=0"`
}

// OverrideResultRequest lets staff replace the marks for one question.
type OverrideResultRequest struct {
	QuestionID    string  `json:"question_id" validate:"required,question_identifier"`
	Marks         float64 `json:"marks" validate:"min=0"`
	Justification *string `json:"justification" validate:"omitempty,max=1000"`
}
