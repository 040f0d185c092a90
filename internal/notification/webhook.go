// File: internal/notification/webhook.go
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

const (
	webhookActionNotify = "notify"
	webhookActionCancel = "cancel"
)

// WebhookPayload is the JSON body sent for every post or cancel
type WebhookPayload struct {
	Action       string        `json:"action"`
	ID           int           `json:"id"`
	Notification *Notification `json:"notification,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// WebhookPoster forwards notifications to an HTTP endpoint
type WebhookPoster struct {
	client *resty.Client
	url    string
	logger *NotificationLogger
}

// NewWebhookPoster creates a webhook poster from configuration
func NewWebhookPoster(cfg config.WebhookConfig, logger *NotificationLogger) *WebhookPoster {
	if logger == nil {
		logger = NewNotificationLogger()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(retryDelay).
		SetRetryMaxWaitTime(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "GlucoDataHandler/1.0").
		SetHeaders(cfg.Headers).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookPoster{
		client: client,
		url:    cfg.URL,
		logger: logger.WithField("poster", "webhook"),
	}
}

// Name implements Poster
func (w *WebhookPoster) Name() string { return "webhook" }

// Post implements Poster
func (w *WebhookPoster) Post(ctx context.Context, n *Notification) error {
	return w.send(ctx, &WebhookPayload{
		Action:       webhookActionNotify,
		ID:           n.ID,
		Notification: n,
		Timestamp:    time.Now().UTC(),
	})
}

// Cancel implements Poster
func (w *WebhookPoster) Cancel(ctx context.Context, id int) error {
	return w.send(ctx, &WebhookPayload{
		Action:    webhookActionCancel,
		ID:        id,
		Timestamp: time.Now().UTC(),
	})
}

func (w *WebhookPoster) send(ctx context.Context, payload *WebhookPayload) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Timestamp", fmt.Sprintf("%d", payload.Timestamp.Unix())).
		SetHeader("X-Request-ID", utils.GenerateID()).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return utils.WrapError(utils.ErrCodeNotification, "Webhook request failed", err)
	}

	if resp.IsError() {
		return utils.NewAppError(utils.ErrCodeNotification,
			fmt.Sprintf("Webhook returned status %d", resp.StatusCode()), resp.String())
	}

	w.logger.Debug("Webhook delivered", map[string]interface{}{
		"action":   payload.Action,
		"id":       payload.ID,
		"status":   resp.StatusCode(),
		"attempts": resp.Request.Attempt,
	})
	return nil
}
