// Package platform is the REST client for the contact-center platform's
// request/response endpoints. Real-time events travel separately over the
// transport channel.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dennisdiepolder/agentdesk/internal/types"
)

// ErrConflict marks a business-level rejection (contact already locked by
// another agent). It is expected, not a systemic fault.
var ErrConflict = errors.New("platform: conflict")

// ErrUnauthorized means the credential is expired or invalid; the session
// must be torn down or the token refreshed.
var ErrUnauthorized = errors.New("platform: unauthorized")

// Client talks to the platform REST API
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a platform client for the given base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetToken installs the current bearer credential. The token-refresh flow
// calls this again after an out-of-band refresh.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer credential
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// NextContactResult is the acquisition response. Both fields are nil when
// the campaign has no contact available.
type NextContactResult struct {
	Contact  *types.Contact  `json:"contact,omitempty"`
	Campaign *types.Campaign `json:"campaign,omitempty"`
}

// NextContact requests the next workable contact for a campaign
func (c *Client) NextContact(ctx context.Context, agentID, activeCampaignID string) (*NextContactResult, error) {
	body := map[string]string{"agentId": agentID, "activeCampaignId": activeCampaignID}
	var result NextContactResult
	if err := c.do(ctx, http.MethodPost, "/campaigns/next-contact", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Originate asks the telephony engine to place a call
func (c *Client) Originate(ctx context.Context, agentID, destination, campaignID, contactID string) error {
	body := map[string]string{
		"agentId":     agentID,
		"destination": destination,
		"campaignId":  campaignID,
		"contactId":   contactID,
	}
	return c.do(ctx, http.MethodPost, "/call/originate", body, nil)
}

// QualifyRequest is the outcome submission for a contact
type QualifyRequest struct {
	QualificationID string     `json:"qualificationId"`
	CampaignID      string     `json:"campaignId"`
	AgentID         string     `json:"agentId"`
	RelaunchTime    *time.Time `json:"relaunchTime,omitempty"`
}

// Qualify records the outcome of a work unit against a contact
func (c *Client) Qualify(ctx context.Context, contactID string, req QualifyRequest) error {
	return c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/qualify", req, nil)
}

// UpdateCallbackStatus sets a personal callback's status
func (c *Client) UpdateCallbackStatus(ctx context.Context, callbackID string, status types.CallbackStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPut, "/planning-events/callbacks/"+callbackID, body, nil)
}

// ScheduleCallbackRequest creates a personal callback for a contact
type ScheduleCallbackRequest struct {
	AgentID       string    `json:"agentId"`
	CampaignID    string    `json:"campaignId"`
	ContactName   string    `json:"contactName"`
	ContactNumber string    `json:"contactNumber"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Notes         string    `json:"notes,omitempty"`
}

// ScheduleCallback creates a personal callback and returns the persisted record
func (c *Client) ScheduleCallback(ctx context.Context, contactID string, req ScheduleCallbackRequest) (*types.PersonalCallback, error) {
	var cb types.PersonalCallback
	if err := c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/schedule-callback", req, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// AddNote attaches a free-text note to a contact
func (c *Client) AddNote(ctx context.Context, contactID, agentID, campaignID, note string) error {
	body := map[string]string{"agentId": agentID, "campaignId": campaignID, "note": note}
	return c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/notes", body, nil)
}

// CreateContact persists a new contact and returns it with its server-issued id
func (c *Client) CreateContact(ctx context.Context, contact types.Contact) (*types.Contact, error) {
	var created types.Contact
	if err := c.do(ctx, http.MethodPost, "/contacts", contact, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateContact replaces a contact's fields
func (c *Client) UpdateContact(ctx context.Context, contact types.Contact) error {
	return c.do(ctx, http.MethodPut, "/contacts/"+contact.ID, contact, nil)
}

// LockContact requests an exclusive server-side lock on a contact. A
// conflict means another agent already holds it and surfaces as ErrConflict.
func (c *Client) LockContact(ctx context.Context, contactID string) (*types.Contact, error) {
	var locked types.Contact
	if err := c.do(ctx, http.MethodPost, "/contacts/"+contactID+"/lock", nil, &locked); err != nil {
		return nil, err
	}
	return &locked, nil
}

// FetchApplicationData retrieves the full authoritative snapshot
func (c *Client) FetchApplicationData(ctx context.Context) (*types.ApplicationData, error) {
	var data types.ApplicationData
	if err := c.do(ctx, http.MethodGet, "/application-data", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// do performs one request with the bearer credential and decodes the
// response into out when provided
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
