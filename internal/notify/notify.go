// Package notify posts sync outcomes to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dispatch-sync/internal/config"
	"github.com/sells-group/dispatch-sync/internal/model"
)

// Status is the outcome being reported.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
)

// Notifier reports a sync outcome. Delivery failures are logged, never
// returned: a lost notification must not fail a sync that already wrote.
type Notifier interface {
	Notify(ctx context.Context, status Status, message string, m *model.EnrichmentMetrics, w *model.WriteResult)
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Status, string, *model.EnrichmentMetrics, *model.WriteResult) {}

// Webhook sends Slack block-kit messages to an incoming webhook URL.
type Webhook struct {
	cfg    config.NotifyConfig
	client *http.Client
	now    func() time.Time
}

// New returns a Webhook notifier, or Nop when no webhook URL is configured.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return Nop{}
	}
	return NewWebhook(cfg)
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Notify implements Notifier. Success and error reports are dropped when
// their toggle is off.
func (n *Webhook) Notify(ctx context.Context, status Status, message string, m *model.EnrichmentMetrics, w *model.WriteResult) {
	if !n.enabled(status) {
		return
	}
	if err := n.Send(ctx, status, message, m, w); err != nil {
		zap.L().Error("notify: failed to send notification",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("notify: notification sent",
		zap.String("status", string(status)),
		zap.String("channel", n.cfg.Channel),
	)
}

func (n *Webhook) enabled(status Status) bool {
	switch status {
	case StatusSuccess:
		return n.cfg.OnSuccess
	case StatusError:
		return n.cfg.OnError
	}
	return true
}

// Send posts one message and returns any delivery error.
func (n *Webhook) Send(ctx context.Context, status Status, message string, m *model.EnrichmentMetrics, w *model.WriteResult) error {
	payload, err := json.Marshal(Message{
		Channel: n.cfg.Channel,
		Text:    "Dispatch sync " + string(status),
		Blocks:  Blocks(status, message, m, w, n.now().UTC()),
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
