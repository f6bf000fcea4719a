package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const EventRefreshTokenReuse = "refresh_token_reuse"

type WebhookNotify struct {
	UserID    string `json:"userId"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	Event     string `json:"event"`
	TimeStamp string `json:"timestamp"`
}

// WebhookNotifier posts security events to an operator-configured URL.
// An empty URL disables it.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// NotifyRefreshReuse sends in the background; the refresh response must not
// wait on a third party.
func (notifier *WebhookNotifier) NotifyRefreshReuse(ctx context.Context, userID string, ipAddress string, userAgent string) {
	if notifier == nil || notifier.url == "" {
		return
	}

	payload := &WebhookNotify{
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Event:     EventRefreshTokenReuse,
		TimeStamp: time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		if err := notifier.Send(context.WithoutCancel(ctx), payload); err != nil {
			slog.Warn("webhook delivery failed", "event", payload.Event, "user_id", userID, "error", err)
		}
	}()
}

func (notifier *WebhookNotifier) Send(ctx context.Context, payload *WebhookNotify) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, notifier.url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса вебхука: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := notifier.client.Do(request)
	if err != nil {
		return fmt.Errorf("ошибка отправки вебхука: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ошибка отправки вебхука: неожиданный статус %d", response.StatusCode)
	}

	slog.Debug("webhook delivered", "event", payload.Event)
	return nil
}
