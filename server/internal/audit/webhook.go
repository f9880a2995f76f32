package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fhirlite/fhirlite/server/internal/config"
	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/record"
)

const webhookTimeout = 10 * time.Second

// Webhook posts each audit entry as JSON to the configured URLs.
// Deliveries run in their own goroutine; errors are logged and counted.
type Webhook struct {
	targets []config.WebhookConfig
	client  *http.Client
	metrics *metrics.Registry
}

// NewWebhook creates a Webhook sink for targets. m may be nil.
func NewWebhook(targets []config.WebhookConfig, m *metrics.Registry) *Webhook {
	return &Webhook{
		targets: targets,
		client:  &http.Client{Timeout: webhookTimeout},
		metrics: m,
	}
}

// Publish starts asynchronous delivery of e.
func (w *Webhook) Publish(e record.AuditEntry) {
	go w.deliver(e)
}

// deliver sends e to every target whose URL resolves.
func (w *Webhook) deliver(e record.AuditEntry) {
	body, err := json.Marshal(map[string]record.AuditEntry{"audit": e})
	if err != nil {
		return
	}
	for _, t := range w.targets {
		url := t.URL()
		if url == "" {
			continue
		}
		if err := w.post(url, body); err != nil {
			w.metrics.SinkFailed("webhook")
			slog.Error("audit: webhook delivery failed",
				"url_env", t.URLEnv, "action", e.Action, "resource_id", e.ResourceID, "err", err)
			continue
		}
		slog.Debug("audit: webhook delivered", "url_env", t.URLEnv, "action", e.Action)
	}
}

func (w *Webhook) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
