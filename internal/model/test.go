package model

import "time"

// AntiCheatPolicy holds per-test proctoring configuration. Embedded into Test
// so mentors can tune limits without a separate settings table.
type AntiCheatPolicy struct {
	Enabled           bool `gorm:"default:true" json:"enabled"`
	RequireFullscreen bool `gorm:"default:false" json:"requireFullscreen"`
	TabSwitchLimit    int  `gorm:"default:3" json:"tabSwitchLimit"`
	Watermark         bool `gorm:"default:false" json:"watermark"`
}

// swagger:model Test
type Test struct {
	BaseModel
	Title           string  `gorm:"size:255;not null" json:"title"`
	Description     string  `gorm:"type:text" json:"description"`
	SubjectID       uint    `gorm:"index;type:bigint unsigned" json:"subjectId"`
	TopicID         uint    `gorm:"index;type:bigint unsigned" json:"topicId"`
	DurationSeconds int     `gorm:"not null" json:"durationSeconds"`
	QuestionCount   int     `gorm:"default:0" json:"questionCount"`
	TotalMarks      float64 `gorm:"default:0" json:"totalMarks"`
	PassPercentage  float64 `gorm:"default:50" json:"passPercentage"`

	AllowBacktracking  bool `gorm:"default:true" json:"allowBacktracking"`
	AllowReviewMarking bool `gorm:"default:true" json:"allowReviewMarking"`
	ShuffleQuestions   bool `gorm:"default:false" json:"shuffleQuestions"`

	AntiCheat AntiCheatPolicy `gorm:"embedded;embeddedPrefix:anti_cheat_" json:"antiCheat"`

	IsPublished bool       `gorm:"default:false" json:"isPublished"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatorID   uint       `gorm:"index;type:bigint unsigned" json:"creatorId"`
}

func (Test) TableName() string {
	return "tests"
}
