package session

import "time"

// Signal is an environment event observed by the lockdown monitor.
type Signal int

const (
	SignalFocusLost Signal = iota
	SignalIconified
	SignalRestored
	SignalCloseRequested
	// SignalActivity is any keyboard or mouse input.
	SignalActivity
)

func (s Signal) String() string {
	switch s {
	case SignalFocusLost:
		return "focus_lost"
	case SignalIconified:
		return "iconified"
	case SignalRestored:
		return "restored"
	case SignalCloseRequested:
		return "close_requested"
	case SignalActivity:
		return "activity"
	}
	return "unknown"
}

// LockdownState is the monitor's own state machine.
type LockdownState int

const (
	LockdownDisarmed LockdownState = iota
	LockdownArmed
	LockdownExitPromptPending
	LockdownReleased
)

func (s LockdownState) String() string {
	switch s {
	case LockdownDisarmed:
		return "disarmed"
	case LockdownArmed:
		return "armed"
	case LockdownExitPromptPending:
		return "exit_prompt_pending"
	case LockdownReleased:
		return "released"
	}
	return "unknown"
}

// Monitor enforces "sole focus, full-screen, continuously". It decides when an
// exit challenge is due, tracks the post-failure grace window and measures
// idle time. Time is always passed in so the monitor stays deterministic.
type Monitor struct {
	state          LockdownState
	promptInFlight bool
	lastActivity   time.Time
	idleLimit      time.Duration
	grace          time.Duration
	graceUntil     time.Time
}

func NewMonitor(idleLimit, grace time.Duration) *Monitor {
	return &Monitor{idleLimit: idleLimit, grace: grace}
}

// Arm starts monitoring and resets the idle clock.
func (m *Monitor) Arm(now time.Time) {
	m.state = LockdownArmed
	m.promptInFlight = false
	m.lastActivity = now
}

// Trigger reacts to a lockdown signal. It returns true when a new exit prompt
// must be shown; re-entrant triggers while one is in flight are ignored.
func (m *Monitor) Trigger(sig Signal) bool {
	if sig == SignalActivity || m.state != LockdownArmed || m.promptInFlight {
		return false
	}
	m.promptInFlight = true
	m.state = LockdownExitPromptPending
	return true
}

// PromptResolved closes the pending prompt. On release the monitor stops for
// good; otherwise it re-arms and opens the grace window.
func (m *Monitor) PromptResolved(released bool, now time.Time) {
	if m.state != LockdownExitPromptPending {
		return
	}
	m.promptInFlight = false
	if released {
		m.state = LockdownReleased
		m.graceUntil = time.Time{}
		return
	}
	m.state = LockdownArmed
	m.graceUntil = now.Add(m.grace)
}

// Abandon drops a pending prompt without opening a grace window.
func (m *Monitor) Abandon() {
	if m.state == LockdownExitPromptPending {
		m.state = LockdownArmed
		m.promptInFlight = false
	}
}

// InGrace reports whether full-screen must still be re-asserted.
func (m *Monitor) InGrace(now time.Time) bool {
	return !m.graceUntil.IsZero() && now.Before(m.graceUntil)
}

// EndGrace closes the grace window early.
func (m *Monitor) EndGrace() { m.graceUntil = time.Time{} }

// Touch records input activity.
func (m *Monitor) Touch(now time.Time) { m.lastActivity = now }

// IdleExceeded reports whether idle time is over the limit. When it is, the
// idle clock is reset, so an unbroken idle period reports again after
// another full limit.
func (m *Monitor) IdleExceeded(now time.Time) bool {
	if m.state == LockdownDisarmed || m.state == LockdownReleased {
		return false
	}
	if now.Sub(m.lastActivity) <= m.idleLimit {
		return false
	}
	m.lastActivity = now
	return true
}

// Disarm stops monitoring. A released monitor stays released.
func (m *Monitor) Disarm() {
	if m.state != LockdownReleased {
		m.state = LockdownDisarmed
	}
	m.promptInFlight = false
	m.graceUntil = time.Time{}
}

func (m *Monitor) State() LockdownState { return m.state }
