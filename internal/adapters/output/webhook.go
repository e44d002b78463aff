package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

var _ ports.Alerter = (*WebhookAlerter)(nil)

type WebhookConfig struct {
	URL        string
	AuthToken  string
	AuthHeader string
	MinLevel   domain.AlertLevel
	Timeout    time.Duration
}

// WebhookAlerter POSTs alerts as JSON to an operator endpoint such as a chat
// incoming-webhook relay.
type WebhookAlerter struct {
	client     *http.Client
	url        string
	authToken  string
	authHeader string
	minLevel   domain.AlertLevel
}

type webhookPayload struct {
	Text  string        `json:"text"`
	Alert *domain.Alert `json:"alert"`
}

func NewWebhookAlerter(cfg WebhookConfig) *WebhookAlerter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	header := strings.TrimSpace(cfg.AuthHeader)
	if header == "" {
		header = "X-API-Key"
	}
	return &WebhookAlerter{
		client:     &http.Client{Timeout: cfg.Timeout},
		url:        strings.TrimSpace(cfg.URL),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		authHeader: header,
		minLevel:   cfg.MinLevel,
	}
}

func (a *WebhookAlerter) Send(ctx context.Context, alert *domain.Alert) error {
	if a.url == "" || levelRank[alert.Level] < levelRank[a.minLevel] {
		return nil
	}

	body, err := json.Marshal(webhookPayload{Text: summarize(alert), Alert: alert})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.authToken != "" {
		req.Header.Set(a.authHeader, a.authToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	log.Debug().Str("alert_id", alert.ID).Int("status", resp.StatusCode).Msg("Webhook alert delivered")
	return nil
}

func (a *WebhookAlerter) Flush() error {
	return nil
}

func (a *WebhookAlerter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func summarize(alert *domain.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", alert.Level, alert.Kind)
	if alert.Origin != "" {
		fmt.Fprintf(&b, " origin=%s", alert.Origin)
	}
	if alert.RiskScore > 0 {
		fmt.Fprintf(&b, " risk=%d", alert.RiskScore)
	}
	b.WriteString(": ")
	b.WriteString(alert.Message)
	return b.String()
}
