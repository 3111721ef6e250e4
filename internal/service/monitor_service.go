package service

import (
	"context"
	"encoding/json"
	"examdesk_backend/internal/model"
	"examdesk_backend/internal/util"
	"examdesk_backend/pkg/logger"
	"examdesk_backend/pkg/monitoring"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ViolationAck tells the client how to react to a reported violation:
// show a dismissable warning, force a fullscreen re-entry prompt, or accept
// that the attempt is being auto-submitted.
type ViolationAck struct {
	Action         string             `json:"action"` // "warn", "reenter_fullscreen", "auto_submit"
	Message        string             `json:"message"`
	TabSwitches    int                `json:"tabSwitches"`
	TabSwitchLimit int                `json:"tabSwitchLimit"`
	WarningSeconds int                `json:"warningSeconds"`
	Attempt        *model.TestAttempt `json:"attempt,omitempty"`
}

const (
	AckWarn       = "warn"
	AckFullscreen = "reenter_fullscreen"
	AckAutoSubmit = "auto_submit"
)

// MonitorService is the violation monitor: it receives proctoring events from
// the taker's client, keeps per-attempt tallies, logs every event to the
// append-only trail, and escalates tab switching past the configured limit
// into a forced submission.
type MonitorService struct {
	defaultTabSwitchLimit int
	warningWindowSeconds  int

	sessions *SessionService
	sink     ViolationSink
}

func NewMonitorService(defaultTabSwitchLimit, warningWindowSeconds int, sessions *SessionService, sink ViolationSink) *MonitorService {
	return &MonitorService{
		defaultTabSwitchLimit: defaultTabSwitchLimit,
		warningWindowSeconds:  warningWindowSeconds,
		sessions:              sessions,
		sink:                  sink,
	}
}

// Report handles one violation event for an in-progress attempt. Unknown
// types are rejected. Every accepted event is counted, logged asynchronously
// to the violation trail, and answered with the client action to take. The
// tab switch that crosses the limit triggers auto-submission exactly once.
func (m *MonitorService) Report(ctx context.Context, attemptID, userID uint, token string, vtype model.ViolationType, detail json.RawMessage) (*ViolationAck, error) {
	if !model.KnownViolationType(vtype) {
		return nil, util.ErrUnknownViolationType
	}

	sess := m.sessions.session(attemptID)
	if sess == nil {
		return nil, util.ErrAttemptNotFound
	}

	sess.mu.Lock()
	if sess.userID != userID {
		sess.mu.Unlock()
		return nil, util.ErrPermissionDenied
	}
	if token != sess.token || sess.stale {
		sess.mu.Unlock()
		return nil, util.ErrSessionSuperseded
	}
	if !sess.active() {
		sess.mu.Unlock()
		return nil, util.ErrAttemptNotActive
	}

	limit := m.tabSwitchLimit(sess.test)
	enforce := sess.test.AntiCheat.Enabled

	switch vtype {
	case model.ViolationTabSwitch:
		sess.attempt.TabSwitches++
	case model.ViolationFullscreenExit:
		sess.attempt.FullscreenExits++
	case model.ViolationCopyAttempt, model.ViolationPasteAttempt:
		sess.attempt.CopyAttempts++
	case model.ViolationRightClick:
		sess.attempt.RightClickAttempts++
	}
	tabSwitches := sess.attempt.TabSwitches

	fireLimit := false
	if enforce && limit > 0 && isTabSwitch(vtype) && tabSwitches >= limit && !sess.violationFired {
		sess.violationFired = true
		fireLimit = true
	}
	requireFullscreen := enforce && sess.test.AntiCheat.RequireFullscreen
	sess.mu.Unlock()

	monitoring.ViolationCounter.WithLabelValues(string(vtype)).Inc()

	m.record(attemptID, userID, vtype, detail)

	if fireLimit {
		attempt, err := m.sessions.Submit(ctx, attemptID, userID, token, model.TriggerViolationLimit)
		if err != nil {
			return nil, err
		}
		return &ViolationAck{
			Action:         AckAutoSubmit,
			Message:        fmt.Sprintf("Tab switch limit (%d) exceeded. Your attempt has been submitted.", limit),
			TabSwitches:    tabSwitches,
			TabSwitchLimit: limit,
			Attempt:        attempt,
		}, nil
	}

	ack := &ViolationAck{
		Action:         AckWarn,
		TabSwitches:    tabSwitches,
		TabSwitchLimit: limit,
		WarningSeconds: m.warningWindowSeconds,
	}
	switch {
	case vtype == model.ViolationFullscreenExit && requireFullscreen:
		ack.Action = AckFullscreen
		ack.Message = "Fullscreen is required for this test. Return to fullscreen to continue."
	case isTabSwitch(vtype) && enforce && limit > 0:
		remaining := limit - tabSwitches
		if remaining < 0 {
			remaining = 0
		}
		ack.Message = fmt.Sprintf("Leaving the test tab is recorded. %d warning(s) remaining before auto-submit.", remaining)
	default:
		ack.Message = "This action is recorded by the proctoring monitor."
	}
	return ack, nil
}

func isTabSwitch(vtype model.ViolationType) bool {
	return vtype == model.ViolationTabSwitch
}

func (m *MonitorService) tabSwitchLimit(test *model.Test) int {
	if test.AntiCheat.TabSwitchLimit > 0 {
		return test.AntiCheat.TabSwitchLimit
	}
	return m.defaultTabSwitchLimit
}

// record appends the event to the durable violation trail off the request
// path. A failed append is counted and logged; the in-memory tally already
// carries the enforcement decision.
func (m *MonitorService) record(attemptID, userID uint, vtype model.ViolationType, detail json.RawMessage) {
	v := &model.Violation{
		AttemptID:  attemptID,
		UserID:     userID,
		Type:       vtype,
		Detail:     detail,
		OccurredAt: time.Now(),
	}
	go func() {
		if err := m.sink.Append(v); err != nil {
			monitoring.ViolationLogDrops.Inc()
			logger.Log.Error("violation log append failed",
				zap.Uint("attemptID", attemptID),
				zap.String("type", string(vtype)),
				zap.Error(err))
		}
	}()
}
