package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// webhookQueueSize is the bounded channel capacity for outbound alerts.
const webhookQueueSize = 256

// AlertWebhook POSTs alerts to an external HTTP endpoint. Alerts are queued
// without blocking and sent by a background goroutine; when the queue is
// full they are dropped.
type AlertWebhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	logger     zerolog.Logger
	retryDelay time.Duration
	events     chan AlertEvent
	wg         sync.WaitGroup
}

// NewAlertWebhook starts a dispatcher for url. Pass its Notify method to
// WithAlertFunc.
func NewAlertWebhook(url, authHeader string, logger zerolog.Logger) *AlertWebhook {
	w := &AlertWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "alert_webhook").Logger(),
		retryDelay: time.Second,
		events:     make(chan AlertEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Notify queues evt for delivery. It never blocks.
func (w *AlertWebhook) Notify(evt AlertEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn().Str("alert", string(evt.Type)).Msg("queue full, dropping alert")
	}
}

// Close drains queued alerts and stops the dispatcher.
func (w *AlertWebhook) Close() {
	close(w.events)
	w.wg.Wait()
}

func (w *AlertWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send POSTs evt with one retry on 5xx or transport errors.
func (w *AlertWebhook) send(evt AlertEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn().Err(err).Msg("marshal failed")
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn().Err(err).Msg("request creation failed")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Orion-Alert-Webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("request failed")
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("server error")
			continue
		default:
			w.logger.Warn().Int("status", resp.StatusCode).Msg("client error")
			return
		}
	}
}
