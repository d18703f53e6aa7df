package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TelegramSender posts HTML messages through the Bot API sendMessage method.
type TelegramSender struct {
	client  *resty.Client
	token   string
	chatID  string
	timeout time.Duration
}

func NewTelegramSender(baseURL, token, chatID string, timeout time.Duration) *TelegramSender {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	return &TelegramSender{client: client, token: token, chatID: chatID, timeout: timeout}
}

func (s *TelegramSender) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var out apiResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: s.chatID, Text: text, ParseMode: "HTML", DisableWebPagePreview: true}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + s.token + "/sendMessage")
	if err != nil {
		err = s.redact(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("telegram send timed out: %w", err)
		}
		return fmt.Errorf("telegram send: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		after := time.Duration(out.Parameters.RetryAfter) * time.Second
		if after <= 0 {
			after = 5 * time.Second
		}
		return &RetryAfterError{After: after, Err: fmt.Errorf("telegram rate limited: %s", out.Description)}
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

const redactedToken = "<redacted>"

// redact strips the bot token from transport errors, which quote the request URL.
func (s *TelegramSender) redact(err error) error {
	if s.token == "" || !strings.Contains(err.Error(), s.token) {
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		clean := &url.Error{Op: ue.Op, URL: strings.ReplaceAll(ue.URL, s.token, redactedToken), Err: ue.Err}
		if !strings.Contains(clean.Error(), s.token) {
			return clean
		}
	}
	return errors.New(strings.ReplaceAll(err.Error(), s.token, redactedToken))
}
