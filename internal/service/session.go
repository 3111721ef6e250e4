package service

import (
	"examdesk_backend/internal/model"
	"sync"
)

const answerQueueSize = 64

// attemptSession is the live, in-process state of one in-progress attempt:
// the loaded test and question set, the in-memory answer map (the source of
// truth until writes land), the countdown timer and the finalize guard.
type attemptSession struct {
	mu sync.Mutex

	token  string
	userID uint

	attempt      *model.TestAttempt
	test         *model.Test
	questions    []model.Question
	questionByID map[uint]*model.Question

	answers map[uint]*model.AttemptAnswer

	timer *Countdown

	// finalizing is the single submission guard: the first submit call wins
	// and later calls are silent no-ops. done flips once the finalize
	// sequence has fully committed.
	finalizing bool
	done       bool

	// stale marks a session displaced by a newer tab; its writes are
	// rejected from then on.
	stale bool

	// violationFired ensures the violation-limit trigger fires at most once.
	violationFired bool

	pending    chan uint
	writerDone chan struct{}
}

func newAttemptSession(token string, userID uint, attempt *model.TestAttempt, test *model.Test, questions []model.Question) *attemptSession {
	byID := make(map[uint]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}
	return &attemptSession{
		token:        token,
		userID:       userID,
		attempt:      attempt,
		test:         test,
		questions:    questions,
		questionByID: byID,
		answers:      make(map[uint]*model.AttemptAnswer),
		pending:      make(chan uint, answerQueueSize),
		writerDone:   make(chan struct{}),
	}
}

// active reports whether the session accepts learner writes. Caller holds mu.
func (sess *attemptSession) active() bool {
	return !sess.finalizing && !sess.done && !sess.stale
}

// enqueue schedules a background write for one question. A full queue drops
// the hint rather than blocking the caller; the finalize pass persists every
// answer regardless.
func (sess *attemptSession) enqueue(questionID uint) {
	select {
	case sess.pending <- questionID:
	default:
	}
}

// snapshotAnswer copies the current merged state of one answer for the
// background writer, so each write carries the full last-write-wins value.
func (sess *attemptSession) snapshotAnswer(questionID uint) *model.AttemptAnswer {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	a, ok := sess.answers[questionID]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// selections builds the scoring input from the in-memory answer map.
// Caller holds mu.
func (sess *attemptSession) selections() map[uint]Selection {
	out := make(map[uint]Selection, len(sess.answers))
	for qid, a := range sess.answers {
		out[qid] = Selection{OptionIDs: a.OptionIDs(), Value: a.ValueText}
	}
	return out
}
