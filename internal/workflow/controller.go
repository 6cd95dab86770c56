// Package workflow orchestrates the agent's work-unit lifecycle: acquire a
// contact, dial it, qualify the outcome, optionally schedule a callback or
// relaunch, then hand over to wrap-up. Only one work unit is in progress at
// a time; every entry point requires the agent to be Available with no
// current contact.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/platform"
	"github.com/dennisdiepolder/agentdesk/internal/quota"
	"github.com/dennisdiepolder/agentdesk/internal/store"
	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotAvailable means the agent's status does not permit starting work
	ErrNotAvailable = errors.New("workflow: agent not available")
	// ErrWorkUnitActive means a contact is already being worked
	ErrWorkUnitActive = errors.New("workflow: work unit already in progress")
	// ErrNoCampaign means no dialing-target campaign is selected
	ErrNoCampaign = errors.New("workflow: no campaign selected")
	// ErrNoContact means no work unit is in progress
	ErrNoContact = errors.New("workflow: no current contact")
	// ErrNoQualification means finalize was reached without a selected code
	ErrNoQualification = errors.New("workflow: no qualification selected")
)

// PlatformAPI is the slice of the platform client the controller consumes;
// tests substitute a fake.
type PlatformAPI interface {
	NextContact(ctx context.Context, agentID, activeCampaignID string) (*platform.NextContactResult, error)
	Originate(ctx context.Context, agentID, destination, campaignID, contactID string) error
	Qualify(ctx context.Context, contactID string, req platform.QualifyRequest) error
	UpdateCallbackStatus(ctx context.Context, callbackID string, status types.CallbackStatus) error
	ScheduleCallback(ctx context.Context, contactID string, req platform.ScheduleCallbackRequest) (*types.PersonalCallback, error)
	AddNote(ctx context.Context, contactID, agentID, campaignID, note string) error
	CreateContact(ctx context.Context, contact types.Contact) (*types.Contact, error)
	UpdateContact(ctx context.Context, contact types.Contact) error
	LockContact(ctx context.Context, contactID string) (*types.Contact, error)
}

// StatusMachine is the slice of the status machine the controller drives
type StatusMachine interface {
	EnterOnCall() error
	EnterWrapUp(campaign types.Campaign) error
}

// QualifyOutcome tells the caller what the qualification selection requires
// next
type QualifyOutcome int

const (
	// OutcomeFinalized means the work unit was submitted and wrap-up started
	OutcomeFinalized QualifyOutcome = iota
	// OutcomeNeedsCallbackSchedule means a scheduling prompt must collect a
	// callback time before finalizing
	OutcomeNeedsCallbackSchedule
	// OutcomeNeedsRelaunchTime means a prompt must collect a relaunch time
	// before finalizing
	OutcomeNeedsRelaunchTime
)

// Controller sequences the work-unit lifecycle for one agent
type Controller struct {
	agentID string
	api     PlatformAPI
	store   *store.Store
	machine StatusMachine
	// refresh re-fetches application data after a finalized work unit
	refresh func()
	// current reads the agent's authoritative status
	current func() types.AgentStatus
	logger  zerolog.Logger

	// transient working references, reconciled against the store's
	// canonical collections; never authoritative
	currentContact     *types.Contact
	currentCampaign    *types.Campaign
	activeScript       *types.Script
	selectedQualID     string
	activeCallbackID   string
	relaunchTime       *time.Time
	selectedCampaignID string
	callStartedAt      time.Time
}

// NewController creates a workflow controller
func NewController(agentID string, api PlatformAPI, st *store.Store, machine StatusMachine, current func() types.AgentStatus, refresh func(), logger zerolog.Logger) *Controller {
	return &Controller{
		agentID: agentID,
		api:     api,
		store:   st,
		machine: machine,
		current: current,
		refresh: refresh,
		logger:  logger.With().Str("component", "workflow").Logger(),
	}
}

// SelectCampaign chooses the dialing-target campaign for acquisitions and
// manual insertions
func (c *Controller) SelectCampaign(campaignID string) error {
	campaign, ok := c.store.Campaign(campaignID)
	if !ok {
		return fmt.Errorf("workflow: unknown campaign %q", campaignID)
	}
	if !campaign.IsActive {
		return fmt.Errorf("workflow: campaign %q is not active", campaign.Name)
	}
	c.selectedCampaignID = campaignID
	return nil
}

// AcquireResult reports what an acquisition produced
type AcquireResult struct {
	// Acquired is false when the campaign had no contact available; the
	// agent stays Available and the caller shows a transient notice.
	Acquired bool
	Contact  *types.Contact
	Campaign *types.Campaign
	// AutoDialed is true for non-manual dialing modes, which go straight
	// to OnCall; manual mode waits for the agent to press dial.
	AutoDialed bool
}

// AcquireNext requests the next contact for the selected campaign
func (c *Controller) AcquireNext(ctx context.Context) (*AcquireResult, error) {
	if err := c.guardEntry(); err != nil {
		return nil, err
	}
	if c.selectedCampaignID == "" {
		return nil, ErrNoCampaign
	}

	result, err := c.api.NextContact(ctx, c.agentID, c.selectedCampaignID)
	if err != nil {
		return nil, err
	}
	if result.Contact == nil {
		return &AcquireResult{Acquired: false}, nil
	}

	campaign := result.Campaign
	if campaign == nil {
		if known, ok := c.store.Campaign(c.selectedCampaignID); ok {
			campaign = &known
		}
	}
	c.begin(result.Contact, campaign, "")

	auto := campaign != nil && campaign.DialingMode != types.DialManual
	if auto {
		c.callStartedAt = time.Now()
		if err := c.machine.EnterOnCall(); err != nil {
			c.logger.Warn().Err(err).Msg("on-call intent not delivered")
		}
	}
	return &AcquireResult{Acquired: true, Contact: c.currentContact, Campaign: c.currentCampaign, AutoDialed: auto}, nil
}

// Dial originates a call to the given destination, defaulting to the
// contact's phone number. On success the agent goes OnCall.
func (c *Controller) Dial(ctx context.Context, destination string) error {
	if c.currentContact == nil {
		return ErrNoContact
	}
	if destination == "" {
		destination = c.currentContact.PhoneNumber
	}
	campaignID := ""
	if c.currentCampaign != nil {
		campaignID = c.currentCampaign.ID
	}

	contactID := c.currentContact.ID
	if c.currentContact.IsPlaceholder() {
		// The engine cannot reference an unpersisted contact
		contactID = ""
	}
	if err := c.api.Originate(ctx, c.agentID, destination, campaignID, contactID); err != nil {
		return fmt.Errorf("originate: %w", err)
	}
	c.callStartedAt = time.Now()
	if err := c.machine.EnterOnCall(); err != nil {
		c.logger.Warn().Err(err).Msg("on-call intent not delivered")
	}
	return nil
}

// Qualify records the agent's selected outcome code. Qualifications that
// require callback or relaunch scheduling defer finalization until the
// extra input arrives.
func (c *Controller) Qualify(ctx context.Context, qualificationID string) (QualifyOutcome, error) {
	if c.currentContact == nil {
		return 0, ErrNoContact
	}
	qual, ok := c.store.Qualification(qualificationID)
	if !ok {
		return 0, fmt.Errorf("workflow: unknown qualification %q", qualificationID)
	}

	c.selectedQualID = qualificationID

	if qual.NeedsCallbackScheduling() {
		return OutcomeNeedsCallbackSchedule, nil
	}
	if qual.NeedsRelaunchScheduling() && c.relaunchTime == nil {
		return OutcomeNeedsRelaunchTime, nil
	}
	if err := c.finalize(ctx); err != nil {
		return 0, err
	}
	return OutcomeFinalized, nil
}

// ScheduleCallback completes the personal-callback path: it creates the
// callback, then finalizes with the originally selected qualification so
// the contact record itself is qualified too.
func (c *Controller) ScheduleCallback(ctx context.Context, when time.Time, notes string) error {
	if c.currentContact == nil {
		return ErrNoContact
	}
	if c.selectedQualID == "" {
		return ErrNoQualification
	}
	if err := c.promotePlaceholder(ctx); err != nil {
		return err
	}

	campaignID := ""
	if c.currentCampaign != nil {
		campaignID = c.currentCampaign.ID
	}
	cb, err := c.api.ScheduleCallback(ctx, c.currentContact.ID, platform.ScheduleCallbackRequest{
		AgentID:       c.agentID,
		CampaignID:    campaignID,
		ContactName:   c.currentContact.FirstName + " " + c.currentContact.LastName,
		ContactNumber: c.currentContact.PhoneNumber,
		ScheduledTime: when,
		Notes:         notes,
	})
	if err != nil {
		return fmt.Errorf("schedule callback: %w", err)
	}
	c.store.UpsertCallback(*cb)

	return c.finalize(ctx)
}

// ProvideRelaunchTime completes the relaunch path with the chosen time
func (c *Controller) ProvideRelaunchTime(ctx context.Context, when time.Time) error {
	if c.currentContact == nil {
		return ErrNoContact
	}
	if c.selectedQualID == "" {
		return ErrNoQualification
	}
	c.relaunchTime = &when
	return c.finalize(ctx)
}

// finalize submits the outcome, settles the originating callback if any,
// refreshes application data and enters wrap-up. On failure the flow stays
// in its pre-call state so it can be retried.
func (c *Controller) finalize(ctx context.Context) error {
	if c.currentContact == nil {
		return ErrNoContact
	}
	if c.selectedQualID == "" {
		return ErrNoQualification
	}
	if err := c.promotePlaceholder(ctx); err != nil {
		return err
	}

	campaignID := ""
	if c.currentCampaign != nil {
		campaignID = c.currentCampaign.ID
	}
	err := c.api.Qualify(ctx, c.currentContact.ID, platform.QualifyRequest{
		QualificationID: c.selectedQualID,
		CampaignID:      campaignID,
		AgentID:         c.agentID,
		RelaunchTime:    c.relaunchTime,
	})
	if err != nil {
		return fmt.Errorf("qualify contact: %w", err)
	}

	if c.activeCallbackID != "" {
		if err := c.api.UpdateCallbackStatus(ctx, c.activeCallbackID, types.CallbackCompleted); err != nil {
			// The outcome is already recorded; the callback settles on the
			// next refresh
			c.logger.Warn().Err(err).Str("callback_id", c.activeCallbackID).Msg("failed to complete callback")
		} else {
			c.store.MarkCallbackCompleted(c.activeCallbackID)
		}
	}

	talkSeconds := 0.0
	if !c.callStartedAt.IsZero() {
		talkSeconds = time.Since(c.callStartedAt).Seconds()
	}
	c.store.RecordCallHandled(c.agentID, talkSeconds)

	if c.refresh != nil {
		c.refresh()
	}

	// The campaign reference sizes the wrap-up timer and must survive the
	// clearing of the working state
	var finished types.Campaign
	if c.currentCampaign != nil {
		finished = *c.currentCampaign
	}
	c.Clear()

	if err := c.machine.EnterWrapUp(finished); err != nil {
		c.logger.Warn().Err(err).Msg("wrap-up entry reported an error")
	}
	return nil
}

// promotePlaceholder persists a manually inserted contact, replacing the
// client-side placeholder with the server-issued record
func (c *Controller) promotePlaceholder(ctx context.Context) error {
	if c.currentContact == nil || !c.currentContact.IsPlaceholder() {
		return nil
	}
	draft := *c.currentContact
	draft.ID = ""
	created, err := c.api.CreateContact(ctx, draft)
	if err != nil {
		return fmt.Errorf("persist manual contact: %w", err)
	}
	c.currentContact = created
	return nil
}

// ClickCallback enters the flow from a scheduled callback, skipping
// acquisition. The campaign and contact come from already-loaded
// collections, not a new fetch.
func (c *Controller) ClickCallback(callbackID string) error {
	if err := c.guardEntry(); err != nil {
		return err
	}
	cb, ok := c.store.Callback(callbackID)
	if !ok {
		return fmt.Errorf("workflow: unknown callback %q", callbackID)
	}
	if cb.Status != types.CallbackPending {
		return fmt.Errorf("workflow: callback %q already completed", callbackID)
	}
	campaign, ok := c.store.Campaign(cb.CampaignID)
	if !ok {
		return fmt.Errorf("workflow: callback campaign %q not loaded", cb.CampaignID)
	}
	contact, ok := c.store.FindContact(cb.CampaignID, cb.ContactID)
	if !ok {
		// The contact list may have been trimmed server-side; fall back to
		// the denormalized callback fields
		contact = types.Contact{
			ID:          cb.ContactID,
			FirstName:   cb.ContactName,
			PhoneNumber: cb.ContactNumber,
			CampaignID:  cb.CampaignID,
		}
	}

	c.begin(&contact, &campaign, callbackID)
	return nil
}

// SelectFromDirectory enters the flow from a directory search hit. The
// contact is locked server-side first; a conflict means another agent
// already holds it and is surfaced as platform.ErrConflict, a warning, not
// a fault.
func (c *Controller) SelectFromDirectory(ctx context.Context, campaignID, contactID string) error {
	if err := c.guardEntry(); err != nil {
		return err
	}
	locked, err := c.api.LockContact(ctx, contactID)
	if err != nil {
		if errors.Is(err, platform.ErrConflict) {
			return fmt.Errorf("contact already being worked by another agent: %w", err)
		}
		return fmt.Errorf("lock contact: %w", err)
	}

	var campaign *types.Campaign
	if campaignID != "" {
		if known, ok := c.store.Campaign(campaignID); ok {
			campaign = &known
		}
	}
	c.begin(locked, campaign, "")
	return nil
}

// InsertManual fabricates a placeholder contact tied to the selected
// campaign. Nothing is sent to the server until finalize promotes it.
func (c *Controller) InsertManual(contact types.Contact) error {
	if err := c.guardEntry(); err != nil {
		return err
	}
	if c.selectedCampaignID == "" {
		return ErrNoCampaign
	}
	campaign, ok := c.store.Campaign(c.selectedCampaignID)
	if !ok {
		return ErrNoCampaign
	}

	contact.ID = types.PlaceholderPrefix + uuid.NewString()
	contact.CampaignID = campaign.ID
	contact.Status = types.ContactPending

	c.begin(&contact, &campaign, "")
	return nil
}

// UpdateContact applies the agent's edits to the current contact's fields.
// A placeholder keeps the edits locally until finalize promotes it; a
// persisted contact is written through immediately.
func (c *Controller) UpdateContact(ctx context.Context, updated types.Contact) error {
	if c.currentContact == nil {
		return ErrNoContact
	}
	updated.ID = c.currentContact.ID
	updated.CampaignID = c.currentContact.CampaignID
	if updated.Status == "" {
		updated.Status = c.currentContact.Status
	}
	if !c.currentContact.IsPlaceholder() {
		if err := c.api.UpdateContact(ctx, updated); err != nil {
			return fmt.Errorf("update contact: %w", err)
		}
	}
	c.currentContact = &updated
	return nil
}

// AttachNote records a free-text note against the current contact
func (c *Controller) AttachNote(ctx context.Context, note string) error {
	if c.currentContact == nil {
		return ErrNoContact
	}
	if err := c.promotePlaceholder(ctx); err != nil {
		return err
	}
	campaignID := ""
	if c.currentCampaign != nil {
		campaignID = c.currentCampaign.ID
	}
	return c.api.AddNote(ctx, c.currentContact.ID, c.agentID, campaignID, note)
}

// begin installs a new work unit's transient references
func (c *Controller) begin(contact *types.Contact, campaign *types.Campaign, callbackID string) {
	c.currentContact = contact
	c.currentCampaign = campaign
	c.activeCallbackID = callbackID
	c.selectedQualID = ""
	c.relaunchTime = nil
	c.callStartedAt = time.Time{}
	c.activeScript = nil
	if campaign != nil && campaign.ScriptID != "" {
		if script, ok := c.store.Script(campaign.ScriptID); ok {
			c.activeScript = &script
		}
	}
}

// Clear wipes the in-progress work unit state. It runs as part of finalize
// and again when wrap-up ends, and on session teardown.
func (c *Controller) Clear() {
	c.currentContact = nil
	c.currentCampaign = nil
	c.activeScript = nil
	c.selectedQualID = ""
	c.activeCallbackID = ""
	c.relaunchTime = nil
	c.callStartedAt = time.Time{}
}

// guardEntry enforces the shared precondition of every entry point
func (c *Controller) guardEntry() error {
	if c.current() != types.StatusAvailable {
		return ErrNotAvailable
	}
	if c.currentContact != nil {
		return ErrWorkUnitActive
	}
	return nil
}

// View is a read-only snapshot of the in-progress work unit for display
type View struct {
	Contact           *types.Contact  `json:"contact,omitempty"`
	Campaign          *types.Campaign `json:"campaign,omitempty"`
	Script            *types.Script   `json:"script,omitempty"`
	QualificationID   string          `json:"qualificationId,omitempty"`
	ActiveCallbackID  string          `json:"activeCallbackId,omitempty"`
	SelectedCampaign  string          `json:"selectedCampaignId,omitempty"`
	QuotaProgress     *quota.Progress `json:"quotaProgress,omitempty"`
	RelaunchScheduled bool            `json:"relaunchScheduled"`
}

// Snapshot returns the current work unit for the control API
func (c *Controller) Snapshot() View {
	view := View{
		QualificationID:   c.selectedQualID,
		ActiveCallbackID:  c.activeCallbackID,
		SelectedCampaign:  c.selectedCampaignID,
		RelaunchScheduled: c.relaunchTime != nil,
	}
	if c.currentContact != nil {
		contact := *c.currentContact
		view.Contact = &contact
	}
	if c.currentCampaign != nil {
		campaign := *c.currentCampaign
		view.Campaign = &campaign
		view.QuotaProgress = quota.Match(c.currentContact, c.currentCampaign)
	}
	if c.activeScript != nil {
		script := *c.activeScript
		view.Script = &script
	}
	return view
}
