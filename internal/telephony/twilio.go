package telephony

import (
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

// TwilioProvider reads numbers from a Twilio (sub-)account over the REST API.
type TwilioProvider struct {
	baseURL string
	client  *http.Client
}

func NewTwilioProvider(baseURL string) *TwilioProvider {
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &TwilioProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type incomingPhoneNumbersResponse struct {
	IncomingPhoneNumbers []struct {
		SID         string `json:"sid"`
		PhoneNumber string `json:"phone_number"`
	} `json:"incoming_phone_numbers"`
}

func (p *TwilioProvider) FirstNumber(ctx context.Context, creds Credentials) (string, error) {
	if creds.AccountSID == "" || creds.AuthToken == "" {
		return "", errors.New("telephony: twilio sub-account credentials are required")
	}
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s/IncomingPhoneNumbers.json?PageSize=1",
		p.baseURL, url.PathEscape(creds.AccountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio list numbers: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twilio list numbers: unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var out incomingPhoneNumbersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("twilio list numbers: failed to decode json: %w", err)
	}
	for _, n := range out.IncomingPhoneNumbers {
		if n.PhoneNumber != "" {
			return n.PhoneNumber, nil
		}
	}
	return "", ErrNoNumberAvailable
}
