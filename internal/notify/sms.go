package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender delivers one message to one recipient.
type SMSSender interface {
	Send(recipient, message string) error
}

// HTTPSMSSender posts form-encoded messages to an Africa's Talking style SMS
// gateway. Each call carries its own timeout so a stalled gateway cannot
// starve the monitoring loop beyond one cycle.
type HTTPSMSSender struct {
	endpoint string
	username string
	apiKey   string
	client   *http.Client
}

// NewHTTPSMSSender creates a sender for the configured gateway.
func NewHTTPSMSSender(endpoint, username, apiKey string, timeout time.Duration) *HTTPSMSSender {
	return &HTTPSMSSender{
		endpoint: endpoint,
		username: username,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send posts the message. Non-2xx responses are errors; the caller logs and
// moves on, there is no automatic retry.
func (s *HTTPSMSSender) Send(recipient, message string) error {
	form := url.Values{}
	form.Set("username", s.username)
	form.Set("to", recipient)
	form.Set("message", message)

	req, err := http.NewRequest(http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.Header.Set("apiKey", s.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
