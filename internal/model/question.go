package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates supported question formats.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeMultipleSelect QuestionType = "multiple_select"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeFreeText       QuestionType = "free_text"
	QuestionTypeCoding         QuestionType = "coding"
)

// ChoiceBased reports whether the question carries an options list.
func (t QuestionType) ChoiceBased() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeMultipleSelect
}

// AIGraded reports whether grading goes through the keyword/semantic check.
func (t QuestionType) AIGraded() bool {
	return t == QuestionTypeFreeText || t == QuestionTypeCoding
}

// Question is a static test question referenced by an assignment.
type Question struct {
	ID               uuid.UUID    `json:"id"`
	AssignmentID     uuid.UUID    `json:"assignment_id"`
	Type             QuestionType `json:"type"`
	Prompt           string       `json:"prompt"`
	Options          []string     `json:"options,omitempty"`
	Points           int          `json:"points"`
	Correct          AnswerValue  `json:"-"`
	ExpectedKeywords []string     `json:"expected_keywords,omitempty"`
	OrderNum         int          `json:"order_num"`
}

// ForCandidate strips grading data from the question.
func (q Question) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{
		ID:       q.ID,
		Type:     q.Type,
		Prompt:   q.Prompt,
		Options:  q.Options,
		Points:   q.Points,
		OrderNum: q.OrderNum,
	}
}

// QuestionForCandidate is a question without its answer key.
type QuestionForCandidate struct {
	ID       uuid.UUID    `json:"id"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	Options  []string     `json:"options,omitempty"`
	Points   int          `json:"points"`
	OrderNum int          `json:"order_num"`
}

// CreateQuestionRequest is the admin payload for one test question.
type CreateQuestionRequest struct {
	Type             string         `json:"type" binding:"required,oneof=multiple_choice multiple_select true_false free_text coding"`
	Prompt           string         `json:"prompt" binding:"required,min=1,max=4000"`
	Options          []string       `json:"options" binding:"omitempty,max=10"`
	Points           int            `json:"points" binding:"required,min=1,max=100"`
	Correct          *AnswerPayload `json:"correct"`
	ExpectedKeywords []string       `json:"expected_keywords" binding:"omitempty,max=30"`
}

// QuestionStyle is the family an interview question belongs to.
type QuestionStyle string

const (
	QuestionStyleTechnical   QuestionStyle = "technical"
	QuestionStyleBehavioral  QuestionStyle = "behavioral"
	QuestionStyleSituational QuestionStyle = "situational"
)

// Valid reports whether s is a known interview question family.
func (s QuestionStyle) Valid() bool {
	switch s {
	case QuestionStyleTechnical, QuestionStyleBehavioral, QuestionStyleSituational:
		return true
	}
	return false
}

// InterviewQuestion is a generated (or canned) interview question.
type InterviewQuestion struct {
	Text             string        `json:"question"`
	Style            QuestionStyle `json:"type"`
	Category         string        `json:"category"`
	Difficulty       Difficulty    `json:"difficulty"`
	ExpectedKeywords []string      `json:"expected_keywords"`
	Canned           bool          `json:"canned,omitempty"`
}
