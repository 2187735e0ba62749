// Package notify delivers best-effort events to external systems (the
// "user.create" signal in particular). Delivery is fire-and-forget with a
// single attempt: failures are logged and never surfaced to the caller,
// and nothing is retried synchronously.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink accepts an event for delivery. Implementations must not block the
// caller beyond argument marshalling and must swallow delivery errors.
type Sink interface {
	Notify(ctx context.Context, event string, payload any)
}

// Log is a Sink that only records the event. Used when no webhook is
// configured and as the test double.
type Log struct{}

// Notify logs the event at debug level.
func (Log) Notify(_ context.Context, event string, payload any) {
	log.Debug().Str("event", event).Interface("payload", payload).Msg("notification (log sink)")
}

// Webhook posts events as JSON to a fixed URL. Each Notify call spawns a
// goroutine so the request path never waits on the sink; the context is
// replaced by an internal timeout because the caller's request context may
// end before delivery finishes.
type Webhook struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewWebhook returns a Webhook sink with a default client and timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:     url,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Timeout: 5 * time.Second,
	}
}

// envelope is the wire shape posted to the webhook.
type envelope struct {
	Name string `json:"name"`
	Data any    `json:"data"`
	At   string `json:"at"`
}

// Notify sends one attempt in the background. Marshal and transport errors
// are logged and dropped.
func (w *Webhook) Notify(_ context.Context, event string, payload any) {
	body, err := json.Marshal(envelope{Name: event, Data: payload, At: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("notification marshal failed")
		return
	}

	go func() {
		timeout := w.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Str("event", event).Msg("notification request build failed")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		client := w.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("event", event).Msg("notification delivery failed")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Str("event", event).Msg("notification rejected")
		}
	}()
}
