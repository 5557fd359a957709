package rollout

import "time"

// =============================================================================
// Session State
// =============================================================================

// State is the meta-state of a rollout session.
type State string

const (
	StateWaiting        State = "waiting"
	StateRolledBackOnce State = "rolled_back_once"
	StateSucceeded      State = "succeeded"
	StateFailedHard     State = "failed_hard"
)

// IsFinal reports whether the session has ended.
func (s State) IsFinal() bool {
	return s == StateSucceeded || s == StateFailedHard
}

// Action is what the caller must do after an observation.
type Action int

const (
	ActionContinue Action = iota
	ActionSucceed
	ActionFail
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionSucceed:
		return "succeed"
	case ActionFail:
		return "fail"
	case ActionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Decision is the result of one observation. Err is set for ActionFail.
type Decision struct {
	Action Action
	Err    error
}

// =============================================================================
// Session
// =============================================================================

// Session tracks one fleet refresh and its escalation budget.
// A session is owned by a single goroutine.
type Session struct {
	ID        string
	Fleet     string
	RefreshID string

	state             State
	startedAt         time.Time
	windowStart       time.Time
	rollbackTriggered bool
	escalatedAt       time.Time
	last              Status
	observations      int
	err               error
}

// NewSession starts a session whose first window opens at now.
func NewSession(id, fleet, refreshID string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Fleet:       fleet,
		RefreshID:   refreshID,
		state:       StateWaiting,
		startedAt:   now,
		windowStart: now,
		last:        StatusUnknown,
	}
}

// State returns the current meta-state.
func (s *Session) State() State { return s.state }

// RollbackTriggered reports whether the session has escalated.
func (s *Session) RollbackTriggered() bool { return s.rollbackTriggered }

// LastStatus returns the most recently observed status.
func (s *Session) LastStatus() Status { return s.last }

// Elapsed returns the time spent in the current window.
func (s *Session) Elapsed(now time.Time) time.Duration { return now.Sub(s.windowStart) }

// TotalElapsed returns the time since the session started.
func (s *Session) TotalElapsed(now time.Time) time.Duration { return now.Sub(s.startedAt) }

// Observe feeds one status observation to the session.
//
// Terminal statuses end the session regardless of the window. A non-terminal
// status whose window has run for at least timeout asks for escalation the
// first time and fails with ErrDoubleTimeout the second time.
func (s *Session) Observe(status Status, now time.Time, timeout time.Duration) Decision {
	if s.state.IsFinal() {
		return Decision{Action: ActionFail, Err: ErrSessionFinished}
	}
	s.last = status
	s.observations++

	switch status {
	case StatusSuccessful:
		if s.rollbackTriggered {
			return s.fail(ErrConvergedAfterRollback)
		}
		s.state = StateSucceeded
		return Decision{Action: ActionSucceed}
	case StatusFailed:
		return s.fail(ErrRefreshFailed)
	case StatusCancelled:
		return s.fail(ErrRefreshCancelled)
	}

	if s.Elapsed(now) < timeout {
		return Decision{Action: ActionContinue}
	}
	if s.rollbackTriggered {
		return s.fail(ErrDoubleTimeout)
	}
	return Decision{Action: ActionEscalate}
}

// MarkEscalated records that the escalation rollback has been performed and
// opens the second window at now. It is a no-op after the first call.
func (s *Session) MarkEscalated(now time.Time) {
	if s.rollbackTriggered || s.state.IsFinal() {
		return
	}
	s.rollbackTriggered = true
	s.escalatedAt = now
	s.windowStart = now
	s.state = StateRolledBackOnce
}

// Abort ends the session with err, for failures outside the refresh itself
// such as a failed escalation or a cancelled context.
func (s *Session) Abort(err error) {
	if s.state.IsFinal() {
		return
	}
	s.state = StateFailedHard
	s.err = err
}

func (s *Session) fail(err error) Decision {
	s.state = StateFailedHard
	s.err = err
	return Decision{Action: ActionFail, Err: err}
}

// =============================================================================
// Summary
// =============================================================================

// Summary is the reportable view of a session.
type Summary struct {
	SessionID    string        `json:"session_id" yaml:"session_id"`
	Fleet        string        `json:"fleet" yaml:"fleet"`
	RefreshID    string        `json:"refresh_id" yaml:"refresh_id"`
	State        State         `json:"state" yaml:"state"`
	LastStatus   Status        `json:"last_status" yaml:"last_status"`
	Escalated    bool          `json:"escalated" yaml:"escalated"`
	Observations int           `json:"observations" yaml:"observations"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary returns the session view at now.
func (s *Session) Summary(now time.Time) Summary {
	sum := Summary{
		SessionID:    s.ID,
		Fleet:        s.Fleet,
		RefreshID:    s.RefreshID,
		State:        s.state,
		LastStatus:   s.last,
		Escalated:    s.rollbackTriggered,
		Observations: s.observations,
		Elapsed:      s.TotalElapsed(now),
	}
	if s.err != nil {
		sum.Error = s.err.Error()
	}
	return sum
}

// =============================================================================
// Progress
// =============================================================================

// Progress is reported to observers after every poll.
type Progress struct {
	SessionID string
	Fleet     string
	RefreshID string
	Status    Status
	Raw       string
	Percent   *int32
	Reason    string
	Elapsed   time.Duration // current window
	Total     time.Duration
	Escalated bool
	Tick      int
}
