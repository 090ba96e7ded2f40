package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Minstrel-Signature"

const webhookTimeout = 10 * time.Second

// WebhookNotifier delivers events as signed JSON POSTs to one endpoint.
type WebhookNotifier struct {
	name   string
	url    string
	secret string
	events map[string]bool
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a notifier for one configured endpoint.
// events filters delivery; empty means every event type.
func NewWebhookNotifier(name, url, secret string, events []string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	filter := make(map[string]bool, len(events))
	for _, e := range events {
		filter[e] = true
	}

	return &WebhookNotifier{
		name:   name,
		url:    url,
		secret: secret,
		events: filter,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}
}

// Notify posts the event. Delivery is best effort: failures are logged and
// never retried.
func (w *WebhookNotifier) Notify(event Event) {
	if len(w.events) > 0 && !w.events[event.Type] {
		return
	}

	body, err := json.Marshal(webhookBody{
		Event:    event.Type,
		TaskID:   event.TaskID,
		Status:   string(event.Status),
		AudioURL: event.AudioURL,
		Error:    event.Error,
		SentAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		w.logger.Error("webhook payload marshal failed", "webhook", w.name, "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("webhook request build failed", "webhook", w.name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed", "webhook", w.name, "task_id", event.TaskID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook rejected",
			"webhook", w.name,
			"task_id", event.TaskID,
			"status", resp.StatusCode)
		return
	}

	w.logger.Debug("webhook delivered", "webhook", w.name, "task_id", event.TaskID, "event", event.Type)
}

type webhookBody struct {
	Event    string `json:"event"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
	SentAt   string `json:"sent_at"`
}

// Sign computes the hex HMAC-SHA256 of body under secret, the value
// receivers verify against SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
