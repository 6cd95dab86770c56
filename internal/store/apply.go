package store

import (
	"encoding/json"

	"github.com/dennisdiepolder/agentdesk/internal/events"
	"github.com/dennisdiepolder/agentdesk/internal/types"
)

// ApplyEvent merges one inbound real-time event into the store. Entity
// lifecycle events follow the idempotent upsert-by-id rule: creates are
// no-ops when the id exists, updates insert-or-replace, deletes tolerate
// absent targets. Handlers therefore absorb duplicate and out-of-order
// delivery without corrupting state.
func (s *Store) ApplyEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.EntityChanged:
		s.applyEntityChanged(e)

	case events.AgentStatusUpdated:
		s.applyAgentStatus(e.AgentID, e.Status)

	case events.ForceLogout:
		s.logger.Warn().Msg("force logout received")
		if s.hooks.OnForceLogout != nil {
			s.hooks.OnForceLogout()
		}

	case events.RefreshRequired:
		s.logger.Info().Str("reason", e.Reason).Msg("full refresh requested")
		if s.hooks.OnRefreshRequired != nil {
			s.hooks.OnRefreshRequired(e.Reason)
		}

	case events.CallStarted:
		s.mu.Lock()
		s.activeCalls[e.Call.ID] = e.Call
		s.mu.Unlock()

	case events.CallEnded:
		s.mu.Lock()
		delete(s.activeCalls, e.CallID)
		s.mu.Unlock()

	case events.HandRaised:
		s.logger.Info().Str("agent_id", e.AgentID).Msg("agent raised hand")

	case events.SupervisorNotice:
		s.mu.Lock()
		s.supervisorLog = append(s.supervisorLog, e.Message)
		if len(s.supervisorLog) > supervisorLogLimit {
			s.supervisorLog = s.supervisorLog[len(s.supervisorLog)-supervisorLogLimit:]
		}
		s.mu.Unlock()

	case events.Unknown:
		s.logger.Debug().Str("type", e.Type).Msg("ignoring unknown event")
	}
}

// applyEntityChanged routes an entity event to its collection
func (s *Store) applyEntityChanged(e events.EntityChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch e.Kind {
	case events.KindUser:
		err = applyEntity(s.users, e)
	case events.KindGroup:
		err = applyEntity(s.groups, e)
	case events.KindCampaign:
		err = applyEntity(s.campaigns, e)
	case events.KindScript:
		err = applyEntity(s.scripts, e)
	case events.KindIVRFlow:
		err = applyEntity(s.ivrFlows, e)
	case events.KindAudioFile:
		err = applyEntity(s.audioFiles, e)
	case events.KindSite:
		err = applyEntity(s.sites, e)
	case events.KindAgentProfile:
		err = applyEntity(s.agentProfiles, e)
	case events.KindQualification:
		err = applyEntity(s.qualifications, e)
	case events.KindQualificationGroup:
		err = applyEntity(s.qualificationGroups, e)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(e.Kind)).Str("id", e.ID).Msg("failed to apply entity event")
	}
}

// applyEntity implements the lifecycle rules for one collection
func applyEntity[T any](m map[string]T, e events.EntityChanged) error {
	switch e.Op {
	case events.OpDelete:
		delete(m, e.ID)
		return nil
	case events.OpCreate:
		if _, exists := m[e.ID]; exists {
			return nil
		}
	}

	var entity T
	if err := json.Unmarshal(e.Raw, &entity); err != nil {
		return err
	}
	m[e.ID] = entity
	return nil
}

// applyAgentStatus handles the server's authoritative agent status echo.
// Pause and training counters increment only on a transition into the
// status, never on a refresh of the same status; the duration resets on
// every real transition.
func (s *Store) applyAgentStatus(agentID string, status types.AgentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.agentStates[agentID]
	if !ok {
		state = &types.AgentSessionState{
			AgentID: agentID,
			Status:  status,
		}
		if user, known := s.users[agentID]; known {
			state.FirstName = user.FirstName
			state.LastName = user.LastName
		}
		s.agentStates[agentID] = state
		return
	}

	if state.Status == status {
		return
	}

	switch status {
	case types.StatusPaused:
		state.PauseCount++
	case types.StatusTraining:
		state.TrainingCount++
	}
	state.Status = status
	state.StatusDurationSeconds = 0
}
