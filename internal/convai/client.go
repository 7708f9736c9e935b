package convai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrAlreadyExists is returned when the provider reports that an import or
	// assignment was already done. Callers treat it as success.
	ErrAlreadyExists = errors.New("convai: already exists")
	ErrMissingAPIKey = errors.New("convai: api key is required")
)

// StatusError carries a non-2xx provider response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("convai %s: unexpected status code: %d body=%q", e.Op, e.StatusCode, e.Body)
}

// Client talks to the conversational-agent provider's management and
// telephony APIs.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

type ImportPhoneNumberRequest struct {
	PhoneNumber string `json:"phone_number"`
	Label       string `json:"label"`
	AccountSID  string `json:"sid"`
	AuthToken   string `json:"token"`
	Provider    string `json:"provider"`
}

type importPhoneNumberResponse struct {
	PhoneNumberID string `json:"phone_number_id"`
}

// PhoneNumber is a number known to the provider and its current agent binding.
type PhoneNumber struct {
	PhoneNumber   string `json:"phone_number"`
	PhoneNumberID string `json:"phone_number_id"`
	AssignedAgent *struct {
		AgentID string `json:"agent_id"`
	} `json:"assigned_agent,omitempty"`
}

type OutboundCallRequest struct {
	AgentID            string
	AgentPhoneNumberID string
	ToNumber           string
	DynamicVariables   map[string]string
}

type OutboundCallResult struct {
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
}

// ImportPhoneNumber registers a voice-provider number and returns the binding id.
func (c *Client) ImportPhoneNumber(ctx context.Context, req ImportPhoneNumberRequest) (string, error) {
	if req.Provider == "" {
		req.Provider = "twilio"
	}
	if req.Label == "" {
		req.Label = req.PhoneNumber
	}
	var out importPhoneNumberResponse
	if err := c.do(ctx, "import phone number", http.MethodPost, "/v1/convai/phone-numbers", req, &out); err != nil {
		return "", err
	}
	if out.PhoneNumberID == "" {
		return "", errors.New("convai import phone number: missing phone_number_id in response")
	}
	return out.PhoneNumberID, nil
}

func (c *Client) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var out []PhoneNumber
	if err := c.do(ctx, "list phone numbers", http.MethodGet, "/v1/convai/phone-numbers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindPhoneNumber returns the binding id for number, or "" if the provider has none.
func (c *Client) FindPhoneNumber(ctx context.Context, number string) (string, error) {
	list, err := c.ListPhoneNumbers(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range list {
		if p.PhoneNumber == number {
			return p.PhoneNumberID, nil
		}
	}
	return "", nil
}

func (c *Client) AssignAgent(ctx context.Context, phoneNumberID, agentID string) error {
	body := map[string]string{"agent_id": agentID}
	return c.do(ctx, "assign agent", http.MethodPatch, "/v1/convai/phone-numbers/"+url.PathEscape(phoneNumberID), body, nil)
}

func (c *Client) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	body := map[string]any{
		"agent_id":              req.AgentID,
		"agent_phone_number_id": req.AgentPhoneNumberID,
		"to_number":             req.ToNumber,
		"conversation_initiation_client_data": map[string]any{
			"dynamic_variables": req.DynamicVariables,
		},
	}
	var out OutboundCallResult
	if err := c.do(ctx, "outbound call", http.MethodPost, "/v1/convai/twilio/outbound-call", body, &out); err != nil {
		return OutboundCallResult{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("convai %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
		if isAlreadyExists(resp.StatusCode, body) {
			return errors.Join(ErrAlreadyExists, serr)
		}
		return serr
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("convai %s: failed to decode json: %w body=%q", op, err, string(body))
	}
	return nil
}

func isAlreadyExists(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		return false
	}
	b := strings.ToLower(string(body))
	return strings.Contains(b, "already exists") || strings.Contains(b, "already assigned") || strings.Contains(b, "already imported")
}
