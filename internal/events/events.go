// Package events defines the closed set of real-time events the platform
// pushes over the duplex channel. Decoding turns the loose {type, payload}
// envelope into one of the variants below so the store's dispatch is
// exhaustive instead of a string switch scattered across the codebase.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dennisdiepolder/agentdesk/internal/types"
)

// Event is the sealed inbound event type. Only variants in this package
// implement it.
type Event interface {
	isEvent()
}

// EntityKind names a store collection targeted by an entity-lifecycle event
type EntityKind string

const (
	KindUser               EntityKind = "user"
	KindGroup              EntityKind = "group"
	KindCampaign           EntityKind = "campaign"
	KindScript             EntityKind = "script"
	KindIVRFlow            EntityKind = "ivrFlow"
	KindAudioFile          EntityKind = "audioFile"
	KindSite               EntityKind = "site"
	KindAgentProfile       EntityKind = "agentProfile"
	KindQualification      EntityKind = "qualification"
	KindQualificationGroup EntityKind = "qualificationGroup"
)

// EntityOp is the lifecycle operation carried by an entity event
type EntityOp int

const (
	// OpCreate inserts only if the id is absent
	OpCreate EntityOp = iota
	// OpUpdate upserts regardless of prior existence
	OpUpdate
	// OpDelete removes by id, no-op if absent
	OpDelete
)

// EntityChanged is a create/update/delete of one entity in one collection.
// Raw carries the full entity payload for create and update.
type EntityChanged struct {
	Kind EntityKind
	Op   EntityOp
	ID   string
	Raw  json.RawMessage
}

// AgentStatusUpdated is the server's authoritative echo of an agent status
type AgentStatusUpdated struct {
	AgentID string            `json:"agentId"`
	Status  types.AgentStatus `json:"status"`
}

// ForceLogout tears the session down immediately (same identity logged in
// elsewhere)
type ForceLogout struct{}

// RefreshRequired asks the client to re-fetch the full application snapshot
// instead of merging incrementally
type RefreshRequired struct {
	Reason string
}

// CallStarted reports a new call leg from the telephony engine
type CallStarted struct {
	Call types.Call
}

// CallEnded reports a hangup. The wire payload also names the agent, but
// the call id alone settles the active-call entry.
type CallEnded struct {
	CallID string `json:"id"`
}

// HandRaised is another agent asking for supervisor attention
type HandRaised struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}

// SupervisorNotice is a free-text message addressed to this agent
type SupervisorNotice struct {
	Message types.SupervisorMessage
}

// Unknown preserves unrecognized event types so handlers can log and ignore
// them without failing
type Unknown struct {
	Type string
}

func (EntityChanged) isEvent()      {}
func (AgentStatusUpdated) isEvent() {}
func (ForceLogout) isEvent()        {}
func (RefreshRequired) isEvent()    {}
func (CallStarted) isEvent()        {}
func (CallEnded) isEvent()          {}
func (HandRaised) isEvent()         {}
func (SupervisorNotice) isEvent()   {}
func (Unknown) isEvent()            {}

// entityTypes maps wire event names to collection + operation. The campaign
// naming is uneven on the wire (campaignUpdate, no newCampaign); the table
// absorbs that.
var entityTypes = map[string]struct {
	kind EntityKind
	op   EntityOp
}{
	"newUser":                  {KindUser, OpCreate},
	"updateUser":               {KindUser, OpUpdate},
	"deleteUser":               {KindUser, OpDelete},
	"newGroup":                 {KindGroup, OpCreate},
	"updateGroup":              {KindGroup, OpUpdate},
	"deleteGroup":              {KindGroup, OpDelete},
	"campaignUpdate":           {KindCampaign, OpUpdate},
	"deleteCampaign":           {KindCampaign, OpDelete},
	"newScript":                {KindScript, OpCreate},
	"updateScript":             {KindScript, OpUpdate},
	"deleteScript":             {KindScript, OpDelete},
	"newIvrFlow":               {KindIVRFlow, OpCreate},
	"updateIvrFlow":            {KindIVRFlow, OpUpdate},
	"deleteIvrFlow":            {KindIVRFlow, OpDelete},
	"newAudioFile":             {KindAudioFile, OpCreate},
	"updateAudioFile":          {KindAudioFile, OpUpdate},
	"deleteAudioFile":          {KindAudioFile, OpDelete},
	"newSite":                  {KindSite, OpCreate},
	"updateSite":               {KindSite, OpUpdate},
	"deleteSite":               {KindSite, OpDelete},
	"newAgentProfile":          {KindAgentProfile, OpCreate},
	"updateAgentProfile":       {KindAgentProfile, OpUpdate},
	"deleteAgentProfile":       {KindAgentProfile, OpDelete},
	"newQualification":         {KindQualification, OpCreate},
	"updateQualification":      {KindQualification, OpUpdate},
	"deleteQualification":      {KindQualification, OpDelete},
	"newQualificationGroup":    {KindQualificationGroup, OpCreate},
	"updateQualificationGroup": {KindQualificationGroup, OpUpdate},
	"deleteQualificationGroup": {KindQualificationGroup, OpDelete},
}

// refreshTypes are events whose payload is too coarse for an incremental
// merge; each triggers a full snapshot fetch.
var refreshTypes = map[string]bool{
	"usersBulkUpdate":       true,
	"qualificationsUpdated": true,
	"planningUpdated":       true,
}

// Decode converts a raw envelope into a typed Event. Unrecognized types
// decode to Unknown rather than an error: the channel carries messages for
// newer server versions too.
func Decode(env types.Envelope) (Event, error) {
	if et, ok := entityTypes[env.Type]; ok {
		id, err := payloadID(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return EntityChanged{Kind: et.kind, Op: et.op, ID: id, Raw: env.Payload}, nil
	}
	if refreshTypes[env.Type] {
		return RefreshRequired{Reason: env.Type}, nil
	}

	switch env.Type {
	case "forceLogout":
		return ForceLogout{}, nil
	case "agentStatusUpdate":
		var ev AgentStatusUpdated
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode agentStatusUpdate: %w", err)
		}
		return ev, nil
	case "newCall":
		var call types.Call
		if err := json.Unmarshal(env.Payload, &call); err != nil {
			return nil, fmt.Errorf("decode newCall: %w", err)
		}
		return CallStarted{Call: call}, nil
	case "callHangup":
		var ev CallEnded
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode callHangup: %w", err)
		}
		return ev, nil
	case "agentRaisedHand":
		var ev HandRaised
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode agentRaisedHand: %w", err)
		}
		return ev, nil
	case "supervisorMessage", "supervisorResponseToAgent":
		var msg types.SupervisorMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return SupervisorNotice{Message: msg}, nil
	}

	return Unknown{Type: env.Type}, nil
}

// payloadID extracts the entity id common to all lifecycle payloads. Delete
// payloads may carry the bare id as a JSON string.
func payloadID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty payload")
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
		return id, nil
	}
	var withID struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &withID); err != nil {
		return "", err
	}
	if withID.ID == "" {
		return "", fmt.Errorf("payload has no id")
	}
	return withID.ID, nil
}
