package model

// AnswerKind tags the value a candidate submitted so the scoring pipeline's
// equality check stays well-defined per question type.
type AnswerKind string

const (
	AnswerKindChoice AnswerKind = "choice"
	AnswerKindText   AnswerKind = "text"
	AnswerKindCode   AnswerKind = "code"
)

// Answer is a candidate-submitted value for one question. Last write wins.
type Answer struct {
	Kind  AnswerKind `json:"kind"`
	Value string     `json:"value"`
}

// Valid reports whether the kind is one of the known variants.
func (k AnswerKind) Valid() bool {
	switch k {
	case AnswerKindChoice, AnswerKindText, AnswerKindCode:
		return true
	}
	return false
}

// KindForQuestion returns the answer kind a question type expects.
func KindForQuestion(t QuestionType) AnswerKind {
	if t == QuestionTypeCode {
		return AnswerKindCode
	}
	return AnswerKindChoice
}
