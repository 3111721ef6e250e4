package model

import (
	"encoding/json"
	"time"
)

type ViolationType string

const (
	ViolationTabSwitch        ViolationType = "tab_switch"
	ViolationFullscreenExit   ViolationType = "fullscreen_exit"
	ViolationCopyAttempt      ViolationType = "copy_attempt"
	ViolationPasteAttempt     ViolationType = "paste_attempt"
	ViolationRightClick       ViolationType = "right_click"
	ViolationDevtoolsOpen     ViolationType = "devtools_open"
	ViolationKeyboardShortcut ViolationType = "keyboard_shortcut"
	ViolationPageReload       ViolationType = "page_reload"
	ViolationBackButton       ViolationType = "back_button"
)

// KnownViolationType reports whether t is one of the recognized event kinds.
func KnownViolationType(t ViolationType) bool {
	switch t {
	case ViolationTabSwitch, ViolationFullscreenExit, ViolationCopyAttempt,
		ViolationPasteAttempt, ViolationRightClick, ViolationDevtoolsOpen,
		ViolationKeyboardShortcut, ViolationPageReload, ViolationBackButton:
		return true
	}
	return false
}

// Violation is an append-only audit record of a detected integrity breach.
// Rows are never mutated after insert.
//
// swagger:model Violation
type Violation struct {
	UUIDBase
	AttemptID  uint            `gorm:"index;type:bigint unsigned" json:"attemptId"`
	UserID     uint            `gorm:"index;type:bigint unsigned" json:"userId"`
	Type       ViolationType   `gorm:"size:32;not null;index" json:"type"`
	Detail     json.RawMessage `gorm:"type:json" json:"detail,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func (Violation) TableName() string {
	return "violations"
}
