// Package notify доставляет ссылки для входа во внешний сервис рассылки через HTTP-вебхук.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// LoginLinkMessage описывает тело запроса к вебхуку.
type LoginLinkMessage struct {
	Email string `json:"email"`
	Link  string `json:"link"`
	Code  string `json:"code"`
}

// WebhookSender отправляет ссылки для входа POST-запросом с повторами при 429 и 5xx.
type WebhookSender struct {
	url        string
	httpClient *retryablehttp.Client
}

// WebhookOption настраивает WebhookSender.
type WebhookOption func(*retryablehttp.Client)

// WithRetries задаёт число повторов и границы ожидания между ними.
func WithRetries(max int, waitMin, waitMax time.Duration) WebhookOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// NewWebhookSender создаёт отправителя для указанного адреса. Адрес без схемы дополняется http://.
func NewWebhookSender(url string, logger *zap.Logger, opts ...WebhookOption) *WebhookSender {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = 5 * time.Second
	client.RetryMax = 3
	client.Logger = zapLeveled{logger.Sugar()}
	for _, opt := range opts {
		opt(client)
	}

	return &WebhookSender{
		url:        url,
		httpClient: client,
	}
}

// SendLoginLink отправляет ссылку и код на вебхук. Успехом считается любой ответ 2xx.
func (s *WebhookSender) SendLoginLink(ctx context.Context, email, link, code string) error {
	body, err := json.Marshal(LoginLinkMessage{Email: email, Link: link, Code: code})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// zapLeveled адаптирует zap к retryablehttp.LeveledLogger.
type zapLeveled struct {
	s *zap.SugaredLogger
}

func (l zapLeveled) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l zapLeveled) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l zapLeveled) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l zapLeveled) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
