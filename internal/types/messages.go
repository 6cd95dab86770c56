package types

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format for every message on the duplex channel
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals a payload into an Envelope
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: data}, nil
}

// Outbound message types sent by the client
const (
	MsgAgentStatusIntent         = "agentStatusIntent"
	MsgAgentRaisedHand           = "agentRaisedHand"
	MsgAgentResponseToSupervisor = "agentResponseToSupervisor"
)

// AgentStatusIntent asks the server to move the agent to a new status.
// The authoritative status is whatever the server echoes back as an
// agentStatusUpdate event.
type AgentStatusIntent struct {
	AgentID string      `json:"agentId"`
	Status  AgentStatus `json:"status"`
}

// RaisedHand signals a supervisor that the agent needs attention
type RaisedHand struct {
	AgentID   string    `json:"agentId"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentResponse is the agent's reply in the supervisor notification exchange
type AgentResponse struct {
	AgentID      string    `json:"agentId"`
	SupervisorID string    `json:"supervisorId"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}
