package session

import (
	"fmt"
	"time"
)

// MinParticipants is the smallest active set that forms a target cycle.
const MinParticipants = 2

// Machine tracks the session phase and countdown clock.
type Machine struct {
	phase     Phase
	duration  time.Duration
	remaining time.Duration
}

// NewMachine returns a machine in NotStarted with the clock showing the full
// duration.
func NewMachine(duration time.Duration) *Machine {
	return &Machine{
		phase:     NotStarted,
		duration:  duration,
		remaining: duration,
	}
}

func (m *Machine) Phase() Phase             { return m.phase }
func (m *Machine) Remaining() time.Duration { return m.remaining }
func (m *Machine) Duration() time.Duration  { return m.duration }
func (m *Machine) InProgress() bool         { return m.phase == InProgress }

// RequestStart moves NotStarted to InProgress and resets the clock. It fails
// without changing anything when the session is running or over, or when
// fewer than MinParticipants are active.
func (m *Machine) RequestStart(active int) error {
	switch m.phase {
	case InProgress:
		return ErrAlreadyRunning
	case Ended:
		return ErrSessionEnded
	}
	if active < MinParticipants {
		return fmt.Errorf("%w: have %d, need %d", ErrTooFewParticipants, active, MinParticipants)
	}
	m.remaining = m.duration
	m.phase = InProgress
	return nil
}

// Tick ages the clock by elapsed, flooring at zero. It reports true exactly
// once: on the tick that runs the clock out and ends the session.
func (m *Machine) Tick(elapsed time.Duration) bool {
	if m.phase != InProgress {
		return false
	}
	if elapsed > 0 {
		m.remaining -= elapsed
	}
	if m.remaining > 0 {
		return false
	}
	m.remaining = 0
	m.phase = Ended
	return true
}

// End forces the session over regardless of the clock. It reports false if
// the session had already ended.
func (m *Machine) End() bool {
	if m.phase == Ended {
		return false
	}
	m.phase = Ended
	return true
}
