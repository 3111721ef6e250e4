package model

import "encoding/json"

// AttemptAnswer stores the learner's answer to a single question within an
// attempt. The (attempt_id, question_id) pair is unique so repeated saves of
// the same question converge to the latest value instead of duplicating rows.
//
// swagger:model AttemptAnswer
type AttemptAnswer struct {
	BaseModel
	AttemptID  uint `gorm:"uniqueIndex:idx_answer_attempt_question;type:bigint unsigned" json:"attemptId"`
	QuestionID uint `gorm:"uniqueIndex:idx_answer_attempt_question;type:bigint unsigned" json:"questionId"`

	// SelectedOptions is a JSON array of option IDs for choice questions.
	SelectedOptions string `gorm:"type:json" json:"selectedOptions"`
	// ValueText carries the typed value for numeric questions.
	ValueText string `gorm:"size:255" json:"valueText"`

	MarkedForReview  bool `gorm:"default:false" json:"markedForReview"`
	TimeSpentSeconds int  `gorm:"default:0" json:"timeSpentSeconds"`

	// Set only at grading time, once the attempt finalizes.
	IsCorrect     *bool   `json:"isCorrect,omitempty"`
	MarksObtained float64 `gorm:"default:0" json:"marksObtained"`
}

func (AttemptAnswer) TableName() string {
	return "attempt_answers"
}

// OptionIDs decodes the selected option list. A missing or malformed blob
// decodes as an empty selection.
func (a *AttemptAnswer) OptionIDs() []uint {
	if a.SelectedOptions == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(a.SelectedOptions), &ids); err != nil {
		return nil
	}
	return ids
}

// SetOptionIDs encodes the selected option list.
func (a *AttemptAnswer) SetOptionIDs(ids []uint) {
	if ids == nil {
		ids = []uint{}
	}
	raw, _ := json.Marshal(ids)
	a.SelectedOptions = string(raw)
}
