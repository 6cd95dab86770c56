// Package control is the daemon's local HTTP surface: the thin UI drives
// the agent session through it. It holds no state of its own; every
// handler delegates to the session service.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/platform"
	"github.com/dennisdiepolder/agentdesk/internal/session"
	"github.com/dennisdiepolder/agentdesk/internal/status"
	"github.com/dennisdiepolder/agentdesk/internal/types"
	"github.com/dennisdiepolder/agentdesk/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// API exposes the agent session over HTTP
type API struct {
	session *session.Service
	logger  zerolog.Logger
}

// NewAPI creates the control API
func NewAPI(svc *session.Service, logger zerolog.Logger) *API {
	return &API{
		session: svc,
		logger:  logger.With().Str("component", "control").Logger(),
	}
}

// SetupRoutes configures the HTTP routes
func (api *API) SetupRoutes(r chi.Router) {
	r.Get("/health", api.healthHandler)
	r.Get("/session", api.sessionHandler)
	r.Post("/session/login", api.loginHandler)
	r.Post("/session/logout", api.logoutHandler)
	r.Post("/session/reconnect", api.reconnectHandler)

	r.Post("/agent/status", api.statusHandler)
	r.Post("/agent/raise-hand", api.raiseHandHandler)
	r.Post("/agent/respond", api.respondHandler)
	r.Get("/agent/team", api.teamHandler)

	r.Get("/campaigns", api.campaignsHandler)
	r.Post("/campaigns/select", api.selectCampaignHandler)
	r.Get("/qualifications", api.qualificationsHandler)
	r.Get("/callbacks", api.callbacksHandler)

	r.Post("/work/acquire", api.acquireHandler)
	r.Post("/work/dial", api.dialHandler)
	r.Post("/work/qualify", api.qualifyHandler)
	r.Post("/work/callback", api.scheduleCallbackHandler)
	r.Post("/work/relaunch", api.relaunchHandler)
	r.Post("/work/contact", api.updateContactHandler)
	r.Post("/work/note", api.noteHandler)
	r.Post("/work/from-callback/{callbackId}", api.fromCallbackHandler)
	r.Post("/work/from-directory", api.fromDirectoryHandler)
	r.Post("/work/manual", api.manualHandler)
}

func (api *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (api *API) sessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.session.SessionStatus())
}

func (api *API) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	if err := api.session.Login(r.Context(), req.Token); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.session.SessionStatus())
}

func (api *API) logoutHandler(w http.ResponseWriter, r *http.Request) {
	api.session.Logout()
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (api *API) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.session.Reconnect(); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "reconnecting"})
}

func (api *API) statusHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status types.AgentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	if err := api.session.RequestStatus(req.Status); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "status change requested"})
}

func (api *API) raiseHandHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := api.session.RaiseHand(req.Message); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "hand raised"})
}

func (api *API) respondHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SupervisorID string `json:"supervisorId"`
		Message      string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if err := api.session.RespondToSupervisor(req.SupervisorID, req.Message); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "response sent"})
}

func (api *API) teamHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.session.Store().AgentStates())
}

func (api *API) campaignsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.session.Store().Campaigns())
}

func (api *API) selectCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CampaignID string `json:"campaignId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CampaignID == "" {
		http.Error(w, "campaignId is required", http.StatusBadRequest)
		return
	}
	if err := api.session.SelectCampaign(req.CampaignID); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "campaign selected"})
}

func (api *API) qualificationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.session.Store().Qualifications())
}

func (api *API) callbacksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.session.Store().CallbacksForAgent(api.session.AgentID()))
}

func (api *API) acquireHandler(w http.ResponseWriter, r *http.Request) {
	result, err := api.session.AcquireNext(r.Context())
	if err != nil {
		api.writeError(w, err)
		return
	}
	if !result.Acquired {
		// Transient notice: the campaign had nothing to hand out
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"acquired": false,
			"notice":   "no contact available",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) dialHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := api.session.Dial(r.Context(), req.Destination); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "call originated"})
}

func (api *API) qualifyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QualificationID string `json:"qualificationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QualificationID == "" {
		http.Error(w, "qualificationId is required", http.StatusBadRequest)
		return
	}
	outcome, err := api.session.Qualify(r.Context(), req.QualificationID)
	if err != nil {
		api.writeError(w, err)
		return
	}

	switch outcome {
	case workflow.OutcomeNeedsCallbackSchedule:
		writeJSON(w, http.StatusOK, map[string]string{"next": "schedule_callback"})
	case workflow.OutcomeNeedsRelaunchTime:
		writeJSON(w, http.StatusOK, map[string]string{"next": "provide_relaunch_time"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"next": "wrap_up"})
	}
}

func (api *API) scheduleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduledTime time.Time `json:"scheduledTime"`
		Notes         string    `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledTime.IsZero() {
		http.Error(w, "scheduledTime is required", http.StatusBadRequest)
		return
	}
	if err := api.session.ScheduleCallback(r.Context(), req.ScheduledTime, req.Notes); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next": "wrap_up"})
}

func (api *API) relaunchHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RelaunchTime time.Time `json:"relaunchTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RelaunchTime.IsZero() {
		http.Error(w, "relaunchTime is required", http.StatusBadRequest)
		return
	}
	if err := api.session.ProvideRelaunchTime(r.Context(), req.RelaunchTime); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next": "wrap_up"})
}

func (api *API) updateContactHandler(w http.ResponseWriter, r *http.Request) {
	var contact types.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		http.Error(w, "invalid contact", http.StatusBadRequest)
		return
	}
	if err := api.session.UpdateContact(r.Context(), contact); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "contact updated"})
}

func (api *API) noteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Note == "" {
		http.Error(w, "note is required", http.StatusBadRequest)
		return
	}
	if err := api.session.AttachNote(r.Context(), req.Note); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "note saved"})
}

func (api *API) fromCallbackHandler(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackId")
	if callbackID == "" {
		http.Error(w, "callbackId is required", http.StatusBadRequest)
		return
	}
	if err := api.session.ClickCallback(callbackID); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "callback loaded"})
}

func (api *API) fromDirectoryHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CampaignID string `json:"campaignId"`
		ContactID  string `json:"contactId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == "" {
		http.Error(w, "contactId is required", http.StatusBadRequest)
		return
	}
	if err := api.session.SelectFromDirectory(r.Context(), req.CampaignID, req.ContactID); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "contact locked"})
}

func (api *API) manualHandler(w http.ResponseWriter, r *http.Request) {
	var contact types.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		http.Error(w, "invalid contact", http.StatusBadRequest)
		return
	}
	if err := api.session.InsertManual(contact); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.session.SessionStatus())
}

// writeError maps session and workflow errors onto HTTP statuses. Conflicts
// are warnings, not faults; guard violations are client errors.
func (api *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, platform.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"warning": err.Error()})
	case errors.Is(err, platform.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, session.ErrNoSession):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, workflow.ErrNotAvailable),
		errors.Is(err, workflow.ErrWorkUnitActive),
		errors.Is(err, workflow.ErrNoCampaign),
		errors.Is(err, workflow.ErrNoContact),
		errors.Is(err, workflow.ErrNoQualification),
		errors.Is(err, status.ErrNotSelectable),
		errors.Is(err, status.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		api.logger.Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
