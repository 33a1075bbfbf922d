package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the body as "sha256=<hex>".
const SignatureHeader = "X-Harvest-Signature"

// Event is the payload posted to webhook endpoints.
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Status    string         `json:"status"`
	Metadata  Metadata       `json:"metadata"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventRecordStored is the only event type sent today.
const EventRecordStored = "record.stored"

// Webhook posts each record to a URL. Delivery is asynchronous and retried;
// Store returns as soon as the event is queued.
type Webhook struct {
	url    string
	secret string
	client *http.Client

	// Delays between delivery attempts. The first entry is usually zero.
	Delays []time.Duration

	wg sync.WaitGroup
}

// NewWebhook creates a webhook sink. A non-empty secret signs every body.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		Delays: []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Store implements Sink.
func (w *Webhook) Store(ctx context.Context, rec map[string]any, status string, meta Metadata) (string, error) {
	ev := &Event{
		Type:      EventRecordStored,
		ID:        newID(),
		Timestamp: time.Now().Unix(),
		Status:    status,
		Metadata:  meta,
		Data:      rec,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("webhook: marshal event: %w", err)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.deliverWithRetry(ev, body)
	}()
	return ev.ID, nil
}

// Close waits for pending deliveries.
func (w *Webhook) Close() error {
	w.wg.Wait()
	return nil
}

func (w *Webhook) deliverWithRetry(ev *Event, body []byte) {
	for attempt, delay := range w.Delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := w.deliver(ctx, body)
		cancel()
		if err == nil {
			slog.Info("webhook: delivered", "url", w.url, "id", ev.ID, "attempt", attempt+1)
			return
		}
		slog.Warn("webhook: delivery failed", "url", w.url, "id", ev.ID, "attempt", attempt+1, "error", err)
	}
	slog.Error("webhook: delivery exhausted all retries", "url", w.url, "id", ev.ID)
}

func (w *Webhook) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Harvest-Webhook/1.0")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
