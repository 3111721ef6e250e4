package util

import "errors"

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrEmailRegistered         = errors.New("email already registered")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrTestNotFound            = errors.New("test not found")
	ErrTestNotPublished        = errors.New("test not published or not accessible")
	ErrTestHasNoQuestions      = errors.New("test has no questions")
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrQuestionNotInTest       = errors.New("question does not belong to this test")
	ErrAttemptNotActive        = errors.New("attempt is not in progress")
	ErrAttemptAlreadyFinalized = errors.New("attempt already submitted")
	ErrSessionSuperseded       = errors.New("session superseded by a newer tab")
	ErrScoreNotComputable      = errors.New("total marks missing, score cannot be computed")
	ErrUnknownViolationType    = errors.New("unknown violation type")
)
