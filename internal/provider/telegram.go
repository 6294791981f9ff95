package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type TelegramConfig struct {
	BaseURL     string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration
	// Transport overrides the HTTP transport. Nil uses the default.
	Transport http.RoundTripper
}

// TelegramChannel posts messages through the Telegram Bot API sendMessage
// method. The bot token is the credential and the chat id the destination.
type TelegramChannel struct {
	client *resty.Client
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func NewTelegramChannel(cfg TelegramConfig, logger *zap.Logger) *TelegramChannel {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	base := cfg.BaseDelay

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetLogger(logger.Sugar()).
		SetRetryCount(cfg.MaxAttempts - 1).
		SetRetryWaitTime(base).
		SetRetryMaxWaitTime(base << cfg.MaxAttempts).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return classify(err) != nil
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// base * 2^(attempt-1), attempt being the one that just failed.
			attempt := 1
			if resp != nil && resp.Request != nil && resp.Request.Attempt > 0 {
				attempt = resp.Request.Attempt
			}
			return base << (attempt - 1), nil
		})
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}

	return &TelegramChannel{client: client}
}

func (c *TelegramChannel) Send(ctx context.Context, credential, destination, text string) error {
	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: destination, Text: text}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", credential))
	if err != nil {
		err = scrub(err, credential)
		if classified := classify(err); classified != nil {
			return classified
		}
		return fmt.Errorf("telegram send: %w", err)
	}

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = strings.TrimSpace(resp.String())
		}
		return &RemoteError{StatusCode: resp.StatusCode(), Description: desc}
	}
	return nil
}

// scrubbedError hides the bot token, which is part of the request URL and
// therefore of transport error messages.
type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

func scrub(err error, credential string) error {
	if credential == "" || !strings.Contains(err.Error(), credential) {
		return err
	}
	return &scrubbedError{msg: strings.ReplaceAll(err.Error(), credential, "<redacted>"), err: err}
}

// compile-time check that TelegramChannel implements Channel
var _ Channel = (*TelegramChannel)(nil)
