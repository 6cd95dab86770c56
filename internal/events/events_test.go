package events

import (
	"encoding/json"
	"testing"

	"github.com/dennisdiepolder/agentdesk/internal/types"
)

func envelope(t *testing.T, msgType string, payload string) types.Envelope {
	t.Helper()
	return types.Envelope{Type: msgType, Payload: json.RawMessage(payload)}
}

func TestDecodeEntityEvents(t *testing.T) {
	tests := []struct {
		msgType string
		kind    EntityKind
		op      EntityOp
	}{
		{"newUser", KindUser, OpCreate},
		{"updateUser", KindUser, OpUpdate},
		{"deleteUser", KindUser, OpDelete},
		{"campaignUpdate", KindCampaign, OpUpdate},
		{"deleteCampaign", KindCampaign, OpDelete},
		{"newQualification", KindQualification, OpCreate},
		{"updateScript", KindScript, OpUpdate},
		{"deleteSite", KindSite, OpDelete},
	}

	for _, tt := range tests {
		ev, err := Decode(envelope(t, tt.msgType, `{"id":"e-1","name":"x"}`))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.msgType, err)
		}
		entity, ok := ev.(EntityChanged)
		if !ok {
			t.Fatalf("%s: expected EntityChanged, got %T", tt.msgType, ev)
		}
		if entity.Kind != tt.kind {
			t.Errorf("%s: expected kind %s, got %s", tt.msgType, tt.kind, entity.Kind)
		}
		if entity.Op != tt.op {
			t.Errorf("%s: expected op %d, got %d", tt.msgType, tt.op, entity.Op)
		}
		if entity.ID != "e-1" {
			t.Errorf("%s: expected id e-1, got %s", tt.msgType, entity.ID)
		}
	}
}

func TestDecodeDeleteWithBareID(t *testing.T) {
	ev, err := Decode(envelope(t, "deleteUser", `"u-42"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entity, ok := ev.(EntityChanged)
	if !ok {
		t.Fatalf("expected EntityChanged, got %T", ev)
	}
	if entity.ID != "u-42" {
		t.Errorf("expected id u-42, got %s", entity.ID)
	}
}

func TestDecodeAgentStatusUpdate(t *testing.T) {
	ev, err := Decode(envelope(t, "agentStatusUpdate", `{"agentId":"a-1","status":"paused"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	statusEv, ok := ev.(AgentStatusUpdated)
	if !ok {
		t.Fatalf("expected AgentStatusUpdated, got %T", ev)
	}
	if statusEv.AgentID != "a-1" || statusEv.Status != types.StatusPaused {
		t.Errorf("unexpected payload: %+v", statusEv)
	}
}

func TestDecodeForceLogout(t *testing.T) {
	ev, err := Decode(types.Envelope{Type: "forceLogout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ev.(ForceLogout); !ok {
		t.Fatalf("expected ForceLogout, got %T", ev)
	}
}

func TestDecodeRefreshTriggers(t *testing.T) {
	for _, msgType := range []string{"usersBulkUpdate", "qualificationsUpdated", "planningUpdated"} {
		ev, err := Decode(types.Envelope{Type: msgType})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", msgType, err)
		}
		refresh, ok := ev.(RefreshRequired)
		if !ok {
			t.Fatalf("%s: expected RefreshRequired, got %T", msgType, ev)
		}
		if refresh.Reason != msgType {
			t.Errorf("expected reason %s, got %s", msgType, refresh.Reason)
		}
	}
}

func TestDecodeCallEvents(t *testing.T) {
	ev, err := Decode(envelope(t, "newCall", `{"id":"c-1","agentId":"a-1","number":"+3312345"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	started, ok := ev.(CallStarted)
	if !ok {
		t.Fatalf("expected CallStarted, got %T", ev)
	}
	if started.Call.ID != "c-1" {
		t.Errorf("expected call c-1, got %s", started.Call.ID)
	}

	ev, err = Decode(envelope(t, "callHangup", `{"id":"c-1","agentId":"a-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ended, ok := ev.(CallEnded)
	if !ok {
		t.Fatalf("expected CallEnded, got %T", ev)
	}
	if ended.CallID != "c-1" {
		t.Errorf("expected call c-1, got %s", ended.CallID)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	ev, err := Decode(envelope(t, "somethingNew", `{"x":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unknown, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", ev)
	}
	if unknown.Type != "somethingNew" {
		t.Errorf("expected type somethingNew, got %s", unknown.Type)
	}
}

func TestDecodeEntityMissingID(t *testing.T) {
	if _, err := Decode(envelope(t, "newUser", `{"name":"no id"}`)); err == nil {
		t.Fatal("expected error for payload without id")
	}
}
