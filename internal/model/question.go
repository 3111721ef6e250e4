package model

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	Numeric        QuestionType = "numeric"
)

// swagger:model Question
type Question struct {
	BaseModel
	TestID        uint         `gorm:"index;type:bigint unsigned" json:"testId"`
	Type          QuestionType `gorm:"size:32;not null" json:"type"`
	Prompt        string       `gorm:"type:text;not null" json:"prompt"`
	Marks         float64      `gorm:"default:1" json:"marks"`
	NegativeMarks float64      `gorm:"default:0" json:"negativeMarks"`
	// AnswerText holds the expected value for numeric questions. Choice
	// questions carry correctness on their options instead.
	AnswerText  string           `gorm:"size:255" json:"-"`
	Explanation string           `gorm:"type:text" json:"explanation"`
	Order       int              `gorm:"default:0" json:"order"`
	Options     []QuestionOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// QuestionOption is one selectable choice. IsCorrect never reaches a test
// taker: grading is server side and taker payloads use dedicated DTOs.
//
// swagger:model QuestionOption
type QuestionOption struct {
	BaseModel
	QuestionID uint   `gorm:"index;type:bigint unsigned" json:"questionId"`
	Text       string `gorm:"type:text;not null" json:"text"`
	IsCorrect  bool   `gorm:"default:false" json:"-"`
	Order      int    `gorm:"default:0" json:"order"`
}

func (QuestionOption) TableName() string {
	return "question_options"
}
