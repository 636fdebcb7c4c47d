package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question represents a single assessment question, including its grading
// key. Only the scoring pipeline and trusted admin paths may see it whole.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	AssessmentID  uuid.UUID       `json:"assessment_id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correct_option"`
	Points        int             `json:"points"`
	OrderNum      int             `json:"order_num"`
}

type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeCode         QuestionType = "CODE"
)

// QuestionForCandidate is a question stripped of correct_option, sent to
// candidates. This is the only question shape the candidate read path returns.
type QuestionForCandidate struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	Points       int             `json:"points"`
	OrderNum     int             `json:"order_num"`
}

// ForCandidate returns the sanitized view of the question.
func (q *Question) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
		Points:       q.Points,
		OrderNum:     q.OrderNum,
	}
}

// AddQuestionRequest is the payload for adding a question to an assessment.
type AddQuestionRequest struct {
	QuestionText  string          `json:"question_text" binding:"required,min=1,max=2000"`
	QuestionType  string          `json:"question_type" binding:"required,oneof=SINGLE_CHOICE CODE"`
	Options       json.RawMessage `json:"options" binding:"omitempty"`
	CorrectOption string          `json:"correct_option" binding:"omitempty,max=10"`
	Points        int             `json:"points" binding:"required,min=1,max=100"`
	OrderNum      int             `json:"order_num" binding:"min=0"`
}

// ReplaceQuestionsRequest is the payload for bulk replacing questions.
type ReplaceQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"dive"`
}
