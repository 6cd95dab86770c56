// Package store is the process-wide authoritative session state: entity
// collections mirrored from the platform plus scalar session state. Reads
// are concurrent; writes are serialized behind one mutex and happen only in
// reaction to discrete events (inbound messages, completed calls, ticks).
package store

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/rs/zerolog"
)

// supervisorLogLimit bounds the retained supervisor message history
const supervisorLogLimit = 100

// Hooks are the store's callbacks into the owning session service. They run
// outside the store lock.
type Hooks struct {
	// OnForceLogout tears the whole session down (server push, terminal)
	OnForceLogout func()
	// OnRefreshRequired re-fetches the full application snapshot
	OnRefreshRequired func(reason string)
}

// Store holds all session state
type Store struct {
	mu sync.RWMutex

	users               map[string]types.User
	groups              map[string]types.Group
	campaigns           map[string]types.Campaign
	qualifications      map[string]types.Qualification
	qualificationGroups map[string]types.QualificationGroup
	scripts             map[string]types.Script
	ivrFlows            map[string]types.IVRFlow
	audioFiles          map[string]types.AudioFile
	sites               map[string]types.Site
	agentProfiles       map[string]types.AgentProfile
	callbacks           map[string]types.PersonalCallback

	agentStates map[string]*types.AgentSessionState
	activeCalls map[string]types.Call

	supervisorLog []types.SupervisorMessage

	currentUser  *types.User
	connState    types.ConnectionState
	connAttempts int
	lastError    string

	hooks  Hooks
	logger zerolog.Logger
}

// New creates an empty Store
func New(hooks Hooks, logger zerolog.Logger) *Store {
	return &Store{
		users:               make(map[string]types.User),
		groups:              make(map[string]types.Group),
		campaigns:           make(map[string]types.Campaign),
		qualifications:      make(map[string]types.Qualification),
		qualificationGroups: make(map[string]types.QualificationGroup),
		scripts:             make(map[string]types.Script),
		ivrFlows:            make(map[string]types.IVRFlow),
		audioFiles:          make(map[string]types.AudioFile),
		sites:               make(map[string]types.Site),
		agentProfiles:       make(map[string]types.AgentProfile),
		callbacks:           make(map[string]types.PersonalCallback),
		agentStates:         make(map[string]*types.AgentSessionState),
		activeCalls:         make(map[string]types.Call),
		connState:           types.ConnDisconnected,
		hooks:               hooks,
		logger:              logger.With().Str("component", "store").Logger(),
	}
}

// MergeSnapshot replaces the long-lived collections with a fresh
// authoritative snapshot. Live agent session state (status, duration,
// counters) is preserved; only the denormalized user fields are refreshed,
// so a routine data refresh never resets an agent's live call state.
func (s *Store) MergeSnapshot(data types.ApplicationData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = keyByID(data.Users, func(u types.User) string { return u.ID })
	s.groups = keyByID(data.Groups, func(g types.Group) string { return g.ID })
	s.campaigns = keyByID(data.Campaigns, func(c types.Campaign) string { return c.ID })
	s.qualifications = keyByID(data.Qualifications, func(q types.Qualification) string { return q.ID })
	s.qualificationGroups = keyByID(data.QualificationGroups, func(g types.QualificationGroup) string { return g.ID })
	s.scripts = keyByID(data.Scripts, func(sc types.Script) string { return sc.ID })
	s.ivrFlows = keyByID(data.IVRFlows, func(f types.IVRFlow) string { return f.ID })
	s.audioFiles = keyByID(data.AudioFiles, func(a types.AudioFile) string { return a.ID })
	s.sites = keyByID(data.Sites, func(st types.Site) string { return st.ID })
	s.agentProfiles = keyByID(data.AgentProfiles, func(p types.AgentProfile) string { return p.ID })
	s.callbacks = keyByID(data.Callbacks, func(cb types.PersonalCallback) string { return cb.ID })

	for id, state := range s.agentStates {
		if user, ok := s.users[id]; ok {
			state.FirstName = user.FirstName
			state.LastName = user.LastName
		}
	}
	s.lastError = ""
}

func keyByID[T any](items []T, id func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, item := range items {
		m[id(item)] = item
	}
	return m
}

// Tick advances every tracked agent's timers by one second. Disconnected
// agents do not accumulate time.
func (s *Store) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.agentStates {
		if state.Status == types.StatusDisconnected {
			continue
		}
		state.StatusDurationSeconds++
		state.TotalConnectedTimeSeconds++
		switch state.Status {
		case types.StatusPaused:
			state.TotalPauseTimeSeconds++
		case types.StatusTraining:
			state.TotalTrainingTimeSeconds++
		}
	}
}

// RunTicker drives Tick once per second until the context is cancelled.
// The session service owns exactly one of these per session.
func (s *Store) RunTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// RecordCallHandled updates per-agent call counters after a finalized work
// unit. The average talk time is a running mean over handled calls.
func (s *Store) RecordCallHandled(agentID string, talkSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.agentStates[agentID]
	if !ok {
		return
	}
	total := state.AverageTalkTimeSeconds*float64(state.CallsHandledToday) + talkSeconds
	state.CallsHandledToday++
	state.AverageTalkTimeSeconds = total / float64(state.CallsHandledToday)
}

// SetCurrentUser records the logged-in identity
func (s *Store) SetCurrentUser(u *types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = u
}

// CurrentUser returns the logged-in identity, nil when logged out
func (s *Store) CurrentUser() *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return nil
	}
	u := *s.currentUser
	return &u
}

// SetConnectionState mirrors the transport channel lifecycle into the store
func (s *Store) SetConnectionState(state types.ConnectionState, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connState = state
	s.connAttempts = attempts
}

// ConnectionState returns the mirrored channel state and attempt counter
func (s *Store) ConnectionState() (types.ConnectionState, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState, s.connAttempts
}

// SetError records a store-level fetch failure for display
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}

// LastError returns the recorded failure, empty when healthy
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// ClearSession wipes identity-scoped state on logout. Entity collections
// are dropped too: nothing meaningful can be displayed without a session.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentUser = nil
	s.agentStates = make(map[string]*types.AgentSessionState)
	s.activeCalls = make(map[string]types.Call)
	s.callbacks = make(map[string]types.PersonalCallback)
	s.supervisorLog = nil
}

// Campaign returns a campaign by id
func (s *Store) Campaign(id string) (types.Campaign, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	return c, ok
}

// Campaigns returns all campaigns
func (s *Store) Campaigns() []types.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	return out
}

// Qualification returns a qualification by id
func (s *Store) Qualification(id string) (types.Qualification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.qualifications[id]
	return q, ok
}

// Qualifications returns all qualifications
func (s *Store) Qualifications() []types.Qualification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Qualification, 0, len(s.qualifications))
	for _, q := range s.qualifications {
		out = append(out, q)
	}
	return out
}

// Script returns a script by id
func (s *Store) Script(id string) (types.Script, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scripts[id]
	return sc, ok
}

// User returns a user by id
func (s *Store) User(id string) (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Callback returns a personal callback by id
func (s *Store) Callback(id string) (types.PersonalCallback, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb, ok := s.callbacks[id]
	return cb, ok
}

// CallbacksForAgent returns the callbacks belonging to one agent
func (s *Store) CallbacksForAgent(agentID string) []types.PersonalCallback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PersonalCallback, 0)
	for _, cb := range s.callbacks {
		if cb.AgentID == agentID {
			out = append(out, cb)
		}
	}
	return out
}

// UpsertCallback stores a callback optimistically (e.g. right after the
// scheduling call succeeded, ahead of the next snapshot)
func (s *Store) UpsertCallback(cb types.PersonalCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[cb.ID] = cb
}

// MarkCallbackCompleted flips a callback to completed, no-op if unknown
func (s *Store) MarkCallbackCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.callbacks[id]
	if !ok {
		return
	}
	cb.Status = types.CallbackCompleted
	s.callbacks[id] = cb
}

// FindContact looks a contact up inside a campaign's loaded collection
func (s *Store) FindContact(campaignID, contactID string) (types.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	campaign, ok := s.campaigns[campaignID]
	if !ok {
		return types.Contact{}, false
	}
	for _, contact := range campaign.Contacts {
		if contact.ID == contactID {
			return contact, true
		}
	}
	return types.Contact{}, false
}

// AgentState returns a copy of one agent's live session state
func (s *Store) AgentState(agentID string) (types.AgentSessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.agentStates[agentID]
	if !ok {
		return types.AgentSessionState{}, false
	}
	return *state, true
}

// AgentStates returns copies of every tracked agent's live state
func (s *Store) AgentStates() []types.AgentSessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AgentSessionState, 0, len(s.agentStates))
	for _, state := range s.agentStates {
		out = append(out, *state)
	}
	return out
}

// ActiveCalls returns the live call legs
func (s *Store) ActiveCalls() []types.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Call, 0, len(s.activeCalls))
	for _, call := range s.activeCalls {
		out = append(out, call)
	}
	return out
}

// SupervisorMessages returns the retained supervisor notices, oldest first
func (s *Store) SupervisorMessages() []types.SupervisorMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.SupervisorMessage, len(s.supervisorLog))
	copy(out, s.supervisorLog)
	return out
}
