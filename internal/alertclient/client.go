package alertclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qrattend/internal/attendance"
)

// Alert is the webhook payload for one fraud signal.
type Alert struct {
	Event  string                 `json:"event"`
	Signal attendance.FraudSignal `json:"signal"`
}

// Client posts fraud alerts to an operator webhook.
type Client struct {
	URL  string
	HTTP *http.Client
	Skip bool
}

// New creates a client; an empty url disables delivery.
func New(url string) *Client {
	return &Client{
		URL:  url,
		Skip: url == "",
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send delivers one signal. It returns false without error when delivery is disabled.
func (c *Client) Send(ctx context.Context, sig attendance.FraudSignal) (bool, error) {
	if c.Skip {
		return false, nil
	}

	body, err := json.Marshal(Alert{Event: "fraud_signal." + string(sig.Type), Signal: sig})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("alert webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("alert webhook error %s: %s", resp.Status, string(bodyBytes))
	}
	return true, nil
}
