// Package webhook delivers signed deployment events to configured endpoints.
package webhook

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

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/models"
)

type Event struct {
	ID         uuid.UUID          `json:"id"`
	Type       string             `json:"type"`
	OccurredAt time.Time          `json:"occurred_at"`
	Deployment *models.Deployment `json:"deployment"`
}

type delivery struct {
	id      uuid.UUID
	url     string
	event   string
	payload []byte
}

// Dispatcher posts events from a single background goroutine. Deliveries are
// best effort: a full queue drops the event and failures are only logged.
type Dispatcher struct {
	urls       []string
	secret     string
	httpClient *http.Client
	deliveries chan delivery
	wg         sync.WaitGroup
	mu         sync.Mutex // guards closed and sends on deliveries
	closed     bool
	now        func() time.Time
}

func NewDispatcher(cfg config.WebhookConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		urls:   cfg.URLs,
		secret: cfg.Secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		deliveries: make(chan delivery, 1000),
		now:        time.Now,
	}
	d.wg.Add(1)
	go d.processLoop()
	return d
}

// Notify queues one delivery per endpoint.
func (d *Dispatcher) Notify(_ context.Context, event string, dep *models.Deployment) {
	if len(d.urls) == 0 {
		return
	}

	evt := Event{
		ID:         uuid.Must(uuid.NewV7()),
		Type:       event,
		OccurredAt: d.now().UTC(),
		Deployment: dep,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("webhook payload encoding failed", "error", err, "event", event)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("webhook dispatcher closed, dropping", "event", event)
		return
	}
	for _, url := range d.urls {
		select {
		case d.deliveries <- delivery{id: evt.ID, url: url, event: event, payload: payload}:
		default:
			slog.Warn("webhook delivery queue full, dropping", "url", url, "event", event)
		}
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.deliveries)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) processLoop() {
	defer d.wg.Done()
	for req := range d.deliveries {
		d.deliver(req)
	}
}

func (d *Dispatcher) deliver(req delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.payload))
	if err != nil {
		slog.Error("webhook request creation failed", "error", err, "url", req.url)
		return
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.event)
	httpReq.Header.Set("X-Webhook-Signature", Sign(req.payload, d.secret))
	httpReq.Header.Set("X-Webhook-ID", req.id.String())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("webhook delivery failed", "error", err, "url", req.url, "event", req.event)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "url", req.url)
	}
}

// Sign returns the X-Webhook-Signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
