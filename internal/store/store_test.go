package store

import (
	"encoding/json"
	"testing"

	"github.com/dennisdiepolder/agentdesk/internal/events"
	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/rs/zerolog"
)

func newTestStore() *Store {
	return New(Hooks{}, zerolog.Nop())
}

func userEvent(op events.EntityOp, id, firstName string) events.Event {
	raw, _ := json.Marshal(types.User{ID: id, FirstName: firstName})
	return events.EntityChanged{Kind: events.KindUser, Op: op, ID: id, Raw: raw}
}

func TestUpdateUpsertsAndIsIdempotent(t *testing.T) {
	s := newTestStore()

	// Update with no prior create still inserts (out-of-order tolerance)
	s.ApplyEvent(userEvent(events.OpUpdate, "u-1", "Ana"))
	user, ok := s.User("u-1")
	if !ok || user.FirstName != "Ana" {
		t.Fatalf("expected upserted user, got %+v ok=%v", user, ok)
	}

	// Applying the same update twice leaves the collection identical
	s.ApplyEvent(userEvent(events.OpUpdate, "u-1", "Ana"))
	again, _ := s.User("u-1")
	if again != user {
		t.Errorf("expected identical user after duplicate update, got %+v", again)
	}
}

func TestCreateIsNoOpWhenIDExists(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(userEvent(events.OpCreate, "u-1", "Ana"))
	s.ApplyEvent(userEvent(events.OpCreate, "u-1", "Bob"))

	user, _ := s.User("u-1")
	if user.FirstName != "Ana" {
		t.Errorf("create over existing id must not replace; got %s", user.FirstName)
	}
}

func TestDeleteIsNoOpWhenAbsent(t *testing.T) {
	s := newTestStore()
	// Must not panic or create anything
	s.ApplyEvent(events.EntityChanged{Kind: events.KindUser, Op: events.OpDelete, ID: "ghost"})
	if _, ok := s.User("ghost"); ok {
		t.Error("delete of absent id must not create an entry")
	}

	s.ApplyEvent(userEvent(events.OpCreate, "u-1", "Ana"))
	s.ApplyEvent(events.EntityChanged{Kind: events.KindUser, Op: events.OpDelete, ID: "u-1"})
	if _, ok := s.User("u-1"); ok {
		t.Error("expected user removed")
	}
}

func TestAgentStatusTransitionResetsDuration(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusAvailable})

	for i := 0; i < 42; i++ {
		s.Tick()
	}
	state, _ := s.AgentState("a-1")
	if state.StatusDurationSeconds != 42 {
		t.Fatalf("expected duration 42, got %d", state.StatusDurationSeconds)
	}

	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusPaused})
	state, _ = s.AgentState("a-1")
	if state.StatusDurationSeconds != 0 {
		t.Errorf("expected duration reset to 0, got %d", state.StatusDurationSeconds)
	}
}

func TestPauseCounterOnlyOnTransitionInto(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusAvailable})
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusPaused})

	state, _ := s.AgentState("a-1")
	if state.PauseCount != 1 {
		t.Fatalf("expected pauseCount 1, got %d", state.PauseCount)
	}

	// A refresh of the same status is not a transition
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusPaused})
	state, _ = s.AgentState("a-1")
	if state.PauseCount != 1 {
		t.Errorf("expected pauseCount still 1 after refresh, got %d", state.PauseCount)
	}

	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusAvailable})
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusPaused})
	state, _ = s.AgentState("a-1")
	if state.PauseCount != 2 {
		t.Errorf("expected pauseCount 2 after second entry, got %d", state.PauseCount)
	}
}

func TestTrainingCounterOnTransition(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusTraining})
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusAvailable})
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusTraining})

	state, _ := s.AgentState("a-1")
	// The first event synthesized the entry already in training, so only
	// the later re-entry counts as a transition
	if state.TrainingCount != 1 {
		t.Errorf("expected trainingCount 1, got %d", state.TrainingCount)
	}
}

func TestStatusUpdateSynthesizesFromKnownUser(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(userEvent(events.OpCreate, "a-9", "Marie"))
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-9", Status: types.StatusAvailable})

	state, ok := s.AgentState("a-9")
	if !ok {
		t.Fatal("expected synthesized agent state")
	}
	if state.FirstName != "Marie" {
		t.Errorf("expected denormalized name Marie, got %q", state.FirstName)
	}
	if state.Status != types.StatusAvailable {
		t.Errorf("expected available, got %s", state.Status)
	}
}

func TestTickSkipsDisconnectedAndAccumulates(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusPaused})
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-2", Status: types.StatusDisconnected})

	for i := 0; i < 5; i++ {
		s.Tick()
	}

	paused, _ := s.AgentState("a-1")
	if paused.StatusDurationSeconds != 5 || paused.TotalConnectedTimeSeconds != 5 || paused.TotalPauseTimeSeconds != 5 {
		t.Errorf("unexpected paused counters: %+v", paused)
	}
	gone, _ := s.AgentState("a-2")
	if gone.StatusDurationSeconds != 0 || gone.TotalConnectedTimeSeconds != 0 {
		t.Errorf("disconnected agent must not accumulate: %+v", gone)
	}
}

func TestMergeSnapshotPreservesLiveAgentState(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusPaused})
	for i := 0; i < 42; i++ {
		s.Tick()
	}

	s.MergeSnapshot(types.ApplicationData{
		Users: []types.User{{ID: "a-1", FirstName: "Renamed", LastName: "Agent"}},
	})

	state, _ := s.AgentState("a-1")
	if state.Status != types.StatusPaused {
		t.Errorf("merge must not change live status, got %s", state.Status)
	}
	if state.StatusDurationSeconds != 42 {
		t.Errorf("merge must not reset duration, got %d", state.StatusDurationSeconds)
	}
	if state.FirstName != "Renamed" || state.LastName != "Agent" {
		t.Errorf("merge must refresh denormalized fields, got %q %q", state.FirstName, state.LastName)
	}
}

func TestForceLogoutInvokesHook(t *testing.T) {
	called := false
	s := New(Hooks{OnForceLogout: func() { called = true }}, zerolog.Nop())
	s.ApplyEvent(events.ForceLogout{})
	if !called {
		t.Fatal("expected force-logout hook to run")
	}
}

func TestRefreshRequiredInvokesHook(t *testing.T) {
	var reason string
	s := New(Hooks{OnRefreshRequired: func(r string) { reason = r }}, zerolog.Nop())
	s.ApplyEvent(events.RefreshRequired{Reason: "planningUpdated"})
	if reason != "planningUpdated" {
		t.Fatalf("expected reason planningUpdated, got %q", reason)
	}
}

func TestCallEventsTrackActiveCalls(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.CallStarted{Call: types.Call{ID: "c-1", AgentID: "a-1"}})
	if len(s.ActiveCalls()) != 1 {
		t.Fatalf("expected one active call")
	}
	s.ApplyEvent(events.CallEnded{CallID: "c-1"})
	if len(s.ActiveCalls()) != 0 {
		t.Fatalf("expected no active calls after hangup")
	}
	// Hangup for an unknown call is a no-op
	s.ApplyEvent(events.CallEnded{CallID: "ghost"})
}

func TestRecordCallHandledAveragesTalkTime(t *testing.T) {
	s := newTestStore()
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusAvailable})

	s.RecordCallHandled("a-1", 100)
	s.RecordCallHandled("a-1", 200)

	state, _ := s.AgentState("a-1")
	if state.CallsHandledToday != 2 {
		t.Fatalf("expected 2 calls handled, got %d", state.CallsHandledToday)
	}
	if state.AverageTalkTimeSeconds != 150 {
		t.Errorf("expected average 150, got %f", state.AverageTalkTimeSeconds)
	}
}

func TestMarkCallbackCompleted(t *testing.T) {
	s := newTestStore()
	s.UpsertCallback(types.PersonalCallback{ID: "cb-1", AgentID: "a-1", Status: types.CallbackPending})
	s.MarkCallbackCompleted("cb-1")

	cb, _ := s.Callback("cb-1")
	if cb.Status != types.CallbackCompleted {
		t.Errorf("expected completed, got %s", cb.Status)
	}
	// Unknown callback is a no-op
	s.MarkCallbackCompleted("ghost")
}

func TestClearSession(t *testing.T) {
	s := newTestStore()
	s.SetCurrentUser(&types.User{ID: "a-1"})
	s.ApplyEvent(events.AgentStatusUpdated{AgentID: "a-1", Status: types.StatusAvailable})
	s.ClearSession()

	if s.CurrentUser() != nil {
		t.Error("expected current user cleared")
	}
	if len(s.AgentStates()) != 0 {
		t.Error("expected agent states cleared")
	}
}
