// Package alert delivers fire-and-forget operational alerts to configured
// webhook channels. Delivery failures are logged, never propagated: an
// alert must not take down the flow that raised it.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// Notifier fans an alert out to external channels.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

type webhookNotifier struct {
	urls       []string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWebhookNotifier builds a notifier over zero or more webhook URLs.
// With no URLs it degrades to log-only.
func NewWebhookNotifier(urls []string, log zerolog.Logger) Notifier {
	return &webhookNotifier{
		urls:       urls,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        log.With().Str("component", "alert").Logger(),
	}
}

func (n *webhookNotifier) Notify(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	event := n.log.Warn()
	if a.Severity == SeverityCritical {
		event = n.log.Error()
	}
	event.Str("title", a.Title).Str("severity", string(a.Severity)).Msg(a.Message)

	body, err := json.Marshal(a)
	if err != nil {
		n.log.Error().Err(err).Msg("marshal alert")
		return
	}
	for _, url := range n.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			n.log.Error().Err(err).Str("url", url).Msg("build alert request")
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.log.Error().Err(err).Str("url", url).Msg("deliver alert")
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			n.log.Error().Int("status", resp.StatusCode).Str("url", url).Msg("alert webhook rejected")
		}
	}
}
