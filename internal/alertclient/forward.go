package alertclient

import (
	"context"
	"encoding/json"
	"log"

	"qrattend/internal/attendance"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// SignalSource loads a fraud signal by id.
type SignalSource interface {
	GetFraudSignal(ctx context.Context, id string) (*attendance.FraudSignal, error)
}

// Run forwards fraud_signal messages until messages is closed.
func (c *Client) Run(ctx context.Context, signals SignalSource, messages <-chan queue.Message) {
	for msg := range messages {
		if msg.Type != queue.TypeFraudSignal {
			continue
		}
		metrics.ObserveAlert(c.Handle(ctx, signals, msg))
	}
}

// Handle delivers one message and returns "sent", "skipped" or "failed".
func (c *Client) Handle(ctx context.Context, signals SignalSource, msg queue.Message) string {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.ID == "" {
		log.Printf("dropping malformed fraud signal message: %v", err)
		return "failed"
	}

	sig, err := signals.GetFraudSignal(ctx, body.ID)
	if err != nil {
		log.Printf("fetch fraud signal %s failed: %v", body.ID, err)
		return "failed"
	}

	sent, err := c.Send(ctx, *sig)
	switch {
	case err != nil:
		log.Printf("alert for %s failed: %v", sig.ID, err)
		return "failed"
	case !sent:
		return "skipped"
	}
	log.Printf("alert sent for %s signal %s in session %s", sig.Type, sig.ID, sig.SessionID)
	return "sent"
}
