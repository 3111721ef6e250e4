package model

import "time"

type AttemptStatus string

const (
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
)

// SubmitTrigger records what caused an attempt to finalize.
type SubmitTrigger string

const (
	TriggerManual         SubmitTrigger = "manual"
	TriggerTimeExpired    SubmitTrigger = "time_expired"
	TriggerViolationLimit SubmitTrigger = "violation_limit"
)

// TestAttempt is one learner's timed run through a test. At most one attempt
// with status in_progress may exist per (test, user) pair; StartAttempt in the
// session service resumes an existing row instead of creating a duplicate.
//
// swagger:model TestAttempt
type TestAttempt struct {
	BaseModel
	TestID        uint          `gorm:"index:idx_attempt_test_user;type:bigint unsigned" json:"testId"`
	UserID        uint          `gorm:"index:idx_attempt_test_user;type:bigint unsigned" json:"userId"`
	AttemptNumber int           `gorm:"default:1" json:"attemptNumber"`
	Status        AttemptStatus `gorm:"size:20;index;default:'in_progress'" json:"status"`

	StartedAt        time.Time  `json:"startedAt"`
	SubmittedAt      *time.Time `json:"submittedAt,omitempty"`
	TimeTakenSeconds int        `json:"timeTakenSeconds"`

	Attempted int `gorm:"default:0" json:"attempted"`
	Correct   int `gorm:"default:0" json:"correct"`
	Wrong     int `gorm:"default:0" json:"wrong"`
	Skipped   int `gorm:"default:0" json:"skipped"`

	ObtainedMarks float64 `gorm:"default:0" json:"obtainedMarks"`
	Percentage    float64 `gorm:"default:0" json:"percentage"`
	Passed        bool    `gorm:"default:false" json:"passed"`

	TabSwitches        int `gorm:"default:0" json:"tabSwitches"`
	FullscreenExits    int `gorm:"default:0" json:"fullscreenExits"`
	CopyAttempts       int `gorm:"default:0" json:"copyAttempts"`
	RightClickAttempts int `gorm:"default:0" json:"rightClickAttempts"`

	Flagged    bool   `gorm:"default:false" json:"flagged"`
	FlagReason string `gorm:"size:255" json:"flagReason,omitempty"`
}

func (TestAttempt) TableName() string {
	return "test_attempts"
}

// Terminal reports whether the attempt has reached a final state.
func (a *TestAttempt) Terminal() bool {
	return a.Status == AttemptSubmitted || a.Status == AttemptAutoSubmitted
}
