// Package session owns one agent session end to end: it wires the
// transport channel, the session store, the status machine and the call
// workflow together, and serializes every mutation behind one lock so the
// store keeps its single-writer discipline.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/auth"
	"github.com/dennisdiepolder/agentdesk/internal/config"
	"github.com/dennisdiepolder/agentdesk/internal/events"
	"github.com/dennisdiepolder/agentdesk/internal/platform"
	"github.com/dennisdiepolder/agentdesk/internal/status"
	"github.com/dennisdiepolder/agentdesk/internal/store"
	"github.com/dennisdiepolder/agentdesk/internal/transport"
	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/dennisdiepolder/agentdesk/internal/workflow"
	"github.com/rs/zerolog"
)

// ErrNoSession is returned by operations that need a logged-in agent
var ErrNoSession = errors.New("session: not logged in")

// TokenRefresher exchanges an expired credential for a fresh one. The
// exchange itself is an external collaborator (login/token-refresh flow).
type TokenRefresher func(ctx context.Context) (string, error)

// Service is the injectable session-state service
type Service struct {
	mu sync.Mutex

	cfg     *config.Config
	store   *store.Store
	channel *transport.Channel
	client  *platform.Client
	logger  zerolog.Logger

	machine    *status.Machine
	controller *workflow.Controller

	agentID      string
	claims       *auth.Claims
	active       bool
	cancelTicker context.CancelFunc
	unsubscribe  func()

	refreshToken TokenRefresher
}

// New assembles a Service from configuration. Nothing connects until Login.
func New(cfg *config.Config, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:    cfg,
		client: platform.NewClient(cfg.PlatformURL),
		logger: logger.With().Str("component", "session").Logger(),
	}
	s.store = store.New(store.Hooks{
		OnForceLogout:     s.teardown,
		OnRefreshRequired: func(reason string) { go s.Refresh(context.Background()) },
	}, logger)
	s.channel = transport.NewChannel(transport.Options{
		PlatformURL:  cfg.PlatformURL,
		BaseInterval: cfg.ReconnectBaseInterval,
		MaxAttempts:  cfg.ReconnectMaxAttempts,
		WriteTimeout: cfg.WSWriteTimeout,
	}, logger)
	s.channel.SetStateListener(func(state types.ConnectionState, attempts int) {
		s.store.SetConnectionState(state, attempts)
		if state == types.ConnExhausted {
			// Open policy decision: no automatic recovery here. The state is
			// exposed through the control API so the UI can show an offline
			// banner and offer a manual reconnect.
			s.logger.Error().Msg("channel gave up reconnecting; manual reconnect required")
		}
	})
	return s
}

// SetTokenRefresher installs the out-of-band credential refresh hook
func (s *Service) SetTokenRefresher(r TokenRefresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = r
}

// Store exposes read access to the session state
func (s *Service) Store() *store.Store {
	return s.store
}

// AgentID returns the logged-in agent's identifier, empty when logged out
func (s *Service) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// Login bootstraps a session from a platform-issued credential: identity
// from the token, full snapshot fetch, duplex connect, tick loop.
func (s *Service) Login(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("session: already logged in as %s", s.agentID)
	}

	claims, err := auth.ParseIdentity(token)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if claims.AgentID == "" {
		return fmt.Errorf("session: token carries no subject")
	}
	if claims.Expired() {
		return platform.ErrUnauthorized
	}

	s.client.SetToken(token)
	data, err := s.client.FetchApplicationData(ctx)
	if err != nil {
		s.client.SetToken("")
		return fmt.Errorf("session: bootstrap fetch: %w", err)
	}

	s.claims = claims
	s.agentID = claims.AgentID
	s.store.MergeSnapshot(*data)
	if user, ok := s.store.User(s.agentID); ok {
		s.store.SetCurrentUser(&user)
	} else {
		s.store.SetCurrentUser(&types.User{ID: s.agentID, Email: claims.Email})
	}

	s.machine = status.NewMachine(s.agentID, s.channel, s.ownStatus, s.logger)
	s.controller = workflow.NewController(s.agentID, s.client, s.store, s.machine, s.ownStatus, s.backgroundRefresh, s.logger)
	s.machine.SetWrapUpDoneHandler(s.onWrapUpDone)

	s.unsubscribe = s.channel.OnMessage(s.handleInbound)
	s.channel.Connect(token)

	tickCtx, cancel := context.WithCancel(context.Background())
	s.cancelTicker = cancel
	go s.store.RunTicker(tickCtx)

	s.active = true
	s.logger.Info().Str("agent_id", s.agentID).Msg("session started")
	return nil
}

// Logout tears the session down on the agent's request
func (s *Service) Logout() {
	s.teardown()
}

// teardown is the shared unconditional session teardown: also the direct
// reaction to a forceLogout push, which always wins over any in-progress
// action.
func (s *Service) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false

	if s.machine != nil {
		s.machine.CancelWrapUp()
	}
	if s.controller != nil {
		s.controller.Clear()
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancelTicker != nil {
		s.cancelTicker()
		s.cancelTicker = nil
	}
	s.channel.Disconnect()
	s.client.SetToken("")
	s.store.ClearSession()
	s.agentID = ""
	s.claims = nil
	s.logger.Info().Msg("session ended")
}

// handleInbound decodes and applies every envelope from the channel
func (s *Service) handleInbound(env types.Envelope) {
	ev, err := events.Decode(env)
	if err != nil {
		s.logger.Warn().Err(err).Str("type", env.Type).Msg("dropping undecodable event")
		return
	}

	// A server-driven move away from WrapUp is an alternate wrap-up exit:
	// the pending timer must never fire afterwards.
	if statusEv, ok := ev.(events.AgentStatusUpdated); ok {
		s.mu.Lock()
		machine := s.machine
		self := s.agentID
		s.mu.Unlock()
		if machine != nil && statusEv.AgentID == self &&
			statusEv.Status != types.StatusWrapUp && machine.WrapUpPending() {
			machine.CancelWrapUp()
		}
	}

	s.store.ApplyEvent(ev)
}

// ownStatus reads this agent's authoritative status from the store
func (s *Service) ownStatus() types.AgentStatus {
	state, ok := s.store.AgentState(s.agentID)
	if !ok {
		return types.StatusDisconnected
	}
	return state.Status
}

// onWrapUpDone clears the workflow's remaining references when the wrap-up
// timer expires on its own
func (s *Service) onWrapUpDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controller != nil {
		s.controller.Clear()
	}
}

// backgroundRefresh is handed to the workflow so a finalized work unit
// refreshes application data without blocking the flow
func (s *Service) backgroundRefresh() {
	go s.Refresh(context.Background())
}

// Refresh fetches a fresh snapshot and merges it, preserving live agent
// state. An authorization failure triggers the token refresh hook, or a
// full logout when none is installed.
func (s *Service) Refresh(ctx context.Context) {
	data, err := s.client.FetchApplicationData(ctx)
	if err != nil {
		if errors.Is(err, platform.ErrUnauthorized) {
			s.handleUnauthorized(ctx)
			return
		}
		s.logger.Error().Err(err).Msg("refresh failed")
		s.store.SetError("data refresh failed")
		return
	}
	s.store.MergeSnapshot(*data)
}

// handleUnauthorized refreshes the credential out-of-band and reconnects,
// or tears the session down when no refresher is available
func (s *Service) handleUnauthorized(ctx context.Context) {
	s.mu.Lock()
	refresher := s.refreshToken
	s.mu.Unlock()

	if refresher == nil {
		s.logger.Warn().Msg("credential rejected and no refresher installed; logging out")
		s.teardown()
		return
	}

	token, err := refresher(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("token refresh failed; logging out")
		s.teardown()
		return
	}

	s.client.SetToken(token)
	s.channel.Disconnect()
	s.channel.Connect(token)
	s.logger.Info().Msg("credential refreshed, channel reconnecting")
}

// Reconnect re-opens the channel after the reconnect budget was exhausted
func (s *Service) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	s.channel.Connect(s.client.Token())
	return nil
}

// --- serialized agent operations, the surface the control API drives ---

// RequestStatus asks the server for a user-selectable status change
func (s *Service) RequestStatus(target types.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.machine.Request(target)
}

// SelectCampaign picks the dialing-target campaign
func (s *Service) SelectCampaign(campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.SelectCampaign(campaignID)
}

// AcquireNext requests the next contact
func (s *Service) AcquireNext(ctx context.Context) (*workflow.AcquireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, ErrNoSession
	}
	return s.controller.AcquireNext(ctx)
}

// Dial originates a call to the destination
func (s *Service) Dial(ctx context.Context, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.Dial(ctx, destination)
}

// Qualify records the selected outcome code
func (s *Service) Qualify(ctx context.Context, qualificationID string) (workflow.QualifyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0, ErrNoSession
	}
	return s.controller.Qualify(ctx, qualificationID)
}

// ScheduleCallback completes the personal-callback path
func (s *Service) ScheduleCallback(ctx context.Context, when time.Time, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.ScheduleCallback(ctx, when, notes)
}

// ProvideRelaunchTime completes the relaunch path
func (s *Service) ProvideRelaunchTime(ctx context.Context, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.ProvideRelaunchTime(ctx, when)
}

// ClickCallback enters the flow from a scheduled callback
func (s *Service) ClickCallback(callbackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.ClickCallback(callbackID)
}

// SelectFromDirectory locks and works a directory search hit
func (s *Service) SelectFromDirectory(ctx context.Context, campaignID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.SelectFromDirectory(ctx, campaignID, contactID)
}

// InsertManual starts a work unit on a fabricated placeholder contact
func (s *Service) InsertManual(contact types.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.InsertManual(contact)
}

// UpdateContact applies the agent's edits to the current contact
func (s *Service) UpdateContact(ctx context.Context, contact types.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.UpdateContact(ctx, contact)
}

// AttachNote records a note against the current contact
func (s *Service) AttachNote(ctx context.Context, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	return s.controller.AttachNote(ctx, note)
}

// RaiseHand notifies a supervisor that the agent needs attention
func (s *Service) RaiseHand(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	env, err := types.NewEnvelope(types.MsgAgentRaisedHand, types.RaisedHand{
		AgentID:   s.agentID,
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return s.channel.Send(env)
}

// RespondToSupervisor answers a supervisor notice
func (s *Service) RespondToSupervisor(supervisorID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNoSession
	}
	env, err := types.NewEnvelope(types.MsgAgentResponseToSupervisor, types.AgentResponse{
		AgentID:      s.agentID,
		SupervisorID: supervisorID,
		Message:      message,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return err
	}
	return s.channel.Send(env)
}

// Status is the session overview served to the UI
type Status struct {
	LoggedIn        bool                     `json:"loggedIn"`
	AgentID         string                   `json:"agentId,omitempty"`
	AgentName       string                   `json:"agentName,omitempty"`
	Connection      types.ConnectionState    `json:"connection"`
	ReconnectCount  int                      `json:"reconnectCount"`
	AgentState      *types.AgentSessionState `json:"agentState,omitempty"`
	WorkUnit        *workflow.View           `json:"workUnit,omitempty"`
	WrapUpPending   bool                     `json:"wrapUpPending"`
	LastError       string                   `json:"lastError,omitempty"`
	SupervisorNotes int                      `json:"supervisorNotes"`
}

// SessionStatus assembles the session overview
func (s *Service) SessionStatus() Status {
	s.mu.Lock()
	active := s.active
	agentID := s.agentID
	agentName := ""
	if s.claims != nil {
		agentName = s.claims.Name
	}
	var view *workflow.View
	if s.controller != nil {
		v := s.controller.Snapshot()
		view = &v
	}
	wrapUpPending := s.machine != nil && s.machine.WrapUpPending()
	s.mu.Unlock()

	connState, attempts := s.store.ConnectionState()
	st := Status{
		LoggedIn:        active,
		AgentID:         agentID,
		AgentName:       agentName,
		Connection:      connState,
		ReconnectCount:  attempts,
		WorkUnit:        view,
		WrapUpPending:   wrapUpPending,
		LastError:       s.store.LastError(),
		SupervisorNotes: len(s.store.SupervisorMessages()),
	}
	if state, ok := s.store.AgentState(agentID); ok {
		st.AgentState = &state
	}
	return st
}
