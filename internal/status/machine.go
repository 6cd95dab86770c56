// Package status governs the agent's own status value. Transitions are
// requested locally and confirmed by the server: the client sends an intent
// over the duplex channel and trusts whatever status the server echoes back,
// making this an eventually-consistent state machine.
package status

import (
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/rs/zerolog"
)

// ErrNotSelectable is returned when the requested status is system-driven
var ErrNotSelectable = errors.New("status: not user-selectable")

// ErrBusy is returned when the agent is on a call or wrapping up; those
// states are left only through the call workflow.
var ErrBusy = errors.New("status: busy in call workflow")

// Sender transmits outbound envelopes; satisfied by the transport channel
type Sender interface {
	Send(types.Envelope) error
}

// Machine runs the agent's own status transitions and the wrap-up timer
type Machine struct {
	mu      sync.Mutex
	agentID string
	sender  Sender

	// current reads the authoritative status from the session store
	current func() types.AgentStatus

	// onWrapUpDone clears the workflow's in-progress references when
	// wrap-up ends through its own expiry
	onWrapUpDone func()

	wrapTimer *time.Timer
	// generation guards against a stale timer firing after wrap-up was
	// exited through another path
	generation int

	// secondUnit scales campaign wrap-up seconds; tests shrink it
	secondUnit time.Duration

	logger zerolog.Logger
}

// NewMachine creates a status machine for one agent
func NewMachine(agentID string, sender Sender, current func() types.AgentStatus, logger zerolog.Logger) *Machine {
	return &Machine{
		agentID:    agentID,
		sender:     sender,
		current:    current,
		secondUnit: time.Second,
		logger:     logger.With().Str("component", "status").Logger(),
	}
}

// SetWrapUpDoneHandler installs the callback invoked when the wrap-up timer
// expires on its own
func (m *Machine) SetWrapUpDoneHandler(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrapUpDone = f
}

// Request asks the server to move the agent to a user-selectable status.
// The guard runs client-side before anything is sent: OnCall and WrapUp can
// only be left by the call workflow, and only Available, Paused and
// Training may be requested directly.
func (m *Machine) Request(target types.AgentStatus) error {
	if !target.UserSelectable() {
		return ErrNotSelectable
	}
	switch m.current() {
	case types.StatusOnCall, types.StatusWrapUp:
		return ErrBusy
	}
	return m.sendIntent(target)
}

// EnterOnCall is the workflow's system-driven entry into OnCall: after a
// successful origination or a non-manual acquisition. No user guard applies.
func (m *Machine) EnterOnCall() error {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.generation++
	m.mu.Unlock()
	return m.sendIntent(types.StatusOnCall)
}

// EnterWrapUp is invoked by the call workflow right after a qualification
// is submitted. The timer length comes from the campaign active when the
// call ended, captured by the caller before the working references are
// cleared. A zero wrap-up time returns to Available immediately.
func (m *Machine) EnterWrapUp(campaign types.Campaign) error {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.generation++
	gen := m.generation
	wrapDur := time.Duration(campaign.WrapUpTime) * m.secondUnit
	m.mu.Unlock()

	if err := m.sendIntent(types.StatusWrapUp); err != nil {
		m.logger.Warn().Err(err).Msg("wrap-up intent not delivered")
	}

	if wrapDur <= 0 {
		m.finishWrapUp(gen)
		return nil
	}

	m.mu.Lock()
	if gen == m.generation {
		m.wrapTimer = time.AfterFunc(wrapDur, func() { m.finishWrapUp(gen) })
	}
	m.mu.Unlock()
	return nil
}

// finishWrapUp fires the automatic return to Available, exactly once per
// wrap-up generation
func (m *Machine) finishWrapUp(gen int) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.wrapTimer = nil
	m.generation++
	done := m.onWrapUpDone
	m.mu.Unlock()

	if err := m.sendIntent(types.StatusAvailable); err != nil {
		m.logger.Warn().Err(err).Msg("available intent not delivered")
	}
	if done != nil {
		// The handler re-enters the session service; it must not run on
		// the caller's lock when wrap-up time is zero and this path is
		// reached synchronously.
		go done()
	}
}

// CancelWrapUp stops the pending wrap-up timer when wrap-up is exited
// through any other path (forced logout, server-driven transition). A
// cancelled timer never fires.
func (m *Machine) CancelWrapUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.generation++
}

func (m *Machine) cancelTimerLocked() {
	if m.wrapTimer != nil {
		m.wrapTimer.Stop()
		m.wrapTimer = nil
	}
}

// WrapUpPending reports whether a wrap-up timer is armed
func (m *Machine) WrapUpPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wrapTimer != nil
}

// SetSecondUnit overrides the wrap-up time unit; tests use milliseconds
func (m *Machine) SetSecondUnit(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secondUnit = d
}

// sendIntent emits the status-change intent. A send failure is reported to
// the caller but never applied locally: the authoritative status always
// comes back as a server event.
func (m *Machine) sendIntent(target types.AgentStatus) error {
	env, err := types.NewEnvelope(types.MsgAgentStatusIntent, types.AgentStatusIntent{
		AgentID: m.agentID,
		Status:  target,
	})
	if err != nil {
		return err
	}
	return m.sender.Send(env)
}
