package types

import "time"

// AgentStatus represents the current status of an agent
type AgentStatus string

const (
	StatusAvailable    AgentStatus = "available"
	StatusRinging      AgentStatus = "ringing"
	StatusOnCall       AgentStatus = "on_call"
	StatusWrapUp       AgentStatus = "wrap_up"
	StatusOnHold       AgentStatus = "on_hold"
	StatusPaused       AgentStatus = "paused"
	StatusTraining     AgentStatus = "training"
	StatusDisconnected AgentStatus = "disconnected"
)

// UserSelectable reports whether an agent may request this status directly.
// OnCall, WrapUp, Ringing and OnHold are driven by the call workflow.
func (s AgentStatus) UserSelectable() bool {
	switch s {
	case StatusAvailable, StatusPaused, StatusTraining:
		return true
	}
	return false
}

// ConnectionState represents the transport channel lifecycle
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	// ConnExhausted means the reconnect budget has been spent and no further
	// attempts will be made until Connect is called again.
	ConnExhausted ConnectionState = "exhausted"
)

// DialingMode controls how calls are placed for a campaign
type DialingMode string

const (
	DialManual      DialingMode = "MANUAL"
	DialProgressive DialingMode = "PROGRESSIVE"
	DialPredictive  DialingMode = "PREDICTIVE"
)

// AgentSessionState is the live per-agent state tracked for the whole team.
// Exactly one entry exists per agent id. Counters only increase; the
// duration resets to zero on every status transition.
type AgentSessionState struct {
	AgentID                   string      `json:"agentId"`
	FirstName                 string      `json:"firstName"`
	LastName                  string      `json:"lastName"`
	Status                    AgentStatus `json:"status"`
	StatusDurationSeconds     int         `json:"statusDurationSeconds"`
	CallsHandledToday         int         `json:"callsHandledToday"`
	TotalConnectedTimeSeconds int         `json:"totalConnectedTimeSeconds"`
	TotalPauseTimeSeconds     int         `json:"totalPauseTimeSeconds"`
	TotalTrainingTimeSeconds  int         `json:"totalTrainingTimeSeconds"`
	PauseCount                int         `json:"pauseCount"`
	TrainingCount             int         `json:"trainingCount"`
	AverageTalkTimeSeconds    float64     `json:"averageTalkTimeSeconds"`
}

// ContactStatus represents the lifecycle state of a contact
type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactLocked    ContactStatus = "locked"
	ContactQualified ContactStatus = "qualified"
)

// PlaceholderPrefix marks contact ids fabricated client-side for manual
// insertion. They exist only inside the workflow until promoted to a
// server-persisted contact.
const PlaceholderPrefix = "tmp-"

// Contact is a unit of outbound work
type Contact struct {
	ID           string            `json:"id"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	PhoneNumber  string            `json:"phoneNumber"`
	PostalCode   string            `json:"postalCode"`
	Status       ContactStatus     `json:"status"`
	CampaignID   string            `json:"campaignId,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// IsPlaceholder reports whether the contact has not been persisted yet
func (c *Contact) IsPlaceholder() bool {
	return len(c.ID) >= len(PlaceholderPrefix) && c.ID[:len(PlaceholderPrefix)] == PlaceholderPrefix
}

// FieldValue returns a named contact field, falling back to custom fields
// and then to the empty string. Quota rules are evaluated against this.
func (c *Contact) FieldValue(name string) string {
	switch name {
	case "firstName":
		return c.FirstName
	case "lastName":
		return c.LastName
	case "phoneNumber":
		return c.PhoneNumber
	case "postalCode":
		return c.PostalCode
	}
	if c.CustomFields != nil {
		return c.CustomFields[name]
	}
	return ""
}

// QuotaOperator is the comparison applied by a quota rule
type QuotaOperator string

const (
	QuotaEquals     QuotaOperator = "equals"
	QuotaStartsWith QuotaOperator = "starts_with"
)

// QuotaRule limits how many contacts matching a field predicate a campaign
// should produce. Rules are ordered; the first match wins.
type QuotaRule struct {
	ContactField string        `json:"contactField"`
	Operator     QuotaOperator `json:"operator"`
	Value        string        `json:"value"`
	Limit        int           `json:"limit"`
	CurrentCount int           `json:"currentCount"`
}

// Campaign groups contacts with a dialing strategy
type Campaign struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	IsActive             bool        `json:"isActive"`
	DialingMode          DialingMode `json:"dialingMode"`
	WrapUpTime           int         `json:"wrapUpTime"` // seconds, 0 = immediate
	ScriptID             string      `json:"scriptId,omitempty"`
	QualificationGroupID string      `json:"qualificationGroupId,omitempty"`
	QuotaRules           []QuotaRule `json:"quotaRules,omitempty"`
	Contacts             []Contact   `json:"contacts,omitempty"`
}

// QualificationType classifies the business outcome of a call
type QualificationType string

const (
	QualPositive QualificationType = "positive"
	QualNeutral  QualificationType = "neutral"
	QualNegative QualificationType = "negative"
)

// Reserved qualification codes the platform assigns workflow behavior to.
// The behavior flags below are authoritative; the codes only seed them when
// a server payload predates the flags.
const (
	CodePersonalCallback = "94"
	CodeRelaunch         = "95"
)

// Qualification is an outcome code an agent records against a contact
type Qualification struct {
	ID          string            `json:"id"`
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Type        QualificationType `json:"type"`
	IsStandard  bool              `json:"isStandard"`
	GroupID     string            `json:"groupId,omitempty"`
	ParentID    string            `json:"parentId,omitempty"`

	// Behavior flags, replacing comparisons against the literal codes.
	RequiresCallbackScheduling bool `json:"requiresCallbackScheduling,omitempty"`
	RequiresRelaunchScheduling bool `json:"requiresRelaunchScheduling,omitempty"`
}

// NeedsCallbackScheduling reports whether selecting this qualification must
// open the personal-callback scheduling step before finalizing.
func (q *Qualification) NeedsCallbackScheduling() bool {
	return q.RequiresCallbackScheduling || q.Code == CodePersonalCallback
}

// NeedsRelaunchScheduling reports whether selecting this qualification must
// collect a relaunch time before finalizing.
func (q *Qualification) NeedsRelaunchScheduling() bool {
	return q.RequiresRelaunchScheduling || q.Code == CodeRelaunch
}

// QualificationGroup is a campaign-specific set of qualification codes
type QualificationGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CallbackStatus is the lifecycle of a personal callback
type CallbackStatus string

const (
	CallbackPending   CallbackStatus = "pending"
	CallbackCompleted CallbackStatus = "completed"
)

// PersonalCallback is a follow-up an agent scheduled with a contact
type PersonalCallback struct {
	ID            string         `json:"id"`
	AgentID       string         `json:"agentId"`
	CampaignID    string         `json:"campaignId"`
	ContactID     string         `json:"contactId"`
	ScheduledTime time.Time      `json:"scheduledTime"`
	Status        CallbackStatus `json:"status"`
	ContactName   string         `json:"contactName"`
	ContactNumber string         `json:"contactNumber"`
	Notes         string         `json:"notes,omitempty"`
}

// User is a platform account
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	GroupID   string `json:"groupId,omitempty"`
	SiteID    string `json:"siteId,omitempty"`
}

// Group is an organizational unit of users
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Script is the on-screen guide an agent reads during a call
type Script struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// IVRFlow is a server-side voice menu definition, tracked for display only
type IVRFlow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudioFile is a server-side media asset, tracked for display only
type AudioFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Site is a physical or logical location
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AgentProfile bundles permissions and campaign assignments for agents
type AgentProfile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	CampaignIDs []string `json:"campaignIds,omitempty"`
}

// Call is a live call leg reported by the telephony engine
type Call struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	CampaignID string    `json:"campaignId,omitempty"`
	ContactID  string    `json:"contactId,omitempty"`
	Number     string    `json:"number"`
	StartedAt  time.Time `json:"startedAt"`
}

// SupervisorMessage is a free-text notification from a supervisor
type SupervisorMessage struct {
	SupervisorID string    `json:"supervisorId"`
	AgentID      string    `json:"agentId"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// ApplicationData is the full authoritative snapshot the platform serves on
// login and on bulk-refresh events.
type ApplicationData struct {
	Users               []User               `json:"users"`
	Groups              []Group              `json:"groups"`
	Campaigns           []Campaign           `json:"campaigns"`
	Qualifications      []Qualification      `json:"qualifications"`
	QualificationGroups []QualificationGroup `json:"qualificationGroups"`
	Scripts             []Script             `json:"scripts"`
	IVRFlows            []IVRFlow            `json:"ivrFlows"`
	AudioFiles          []AudioFile          `json:"audioFiles"`
	Sites               []Site               `json:"sites"`
	AgentProfiles       []AgentProfile       `json:"agentProfiles"`
	Callbacks           []PersonalCallback   `json:"callbacks"`
}
