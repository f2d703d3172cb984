package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

// ErrRecipientInvalid marks a permanent delivery failure: the recipient
// cannot receive on this channel and retrying will never succeed.
var ErrRecipientInvalid = errors.New("notify: recipient invalid")

// EmailSender delivers one email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ChatSender delivers one chat-bot message.
type ChatSender interface {
	Send(ctx context.Context, chatID, text string) error
}

// SMTPSender is an EmailSender over a plain SMTP relay.
type SMTPSender struct {
	host string
	port int
	from string
	auth smtp.Auth
}

// NewSMTPSender creates an SMTP email sender. Auth is skipped when no
// username is configured.
func NewSMTPSender(host string, port int, from, username, password string) *SMTPSender {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPSender{host: host, port: port, from: from, auth: auth}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n",
		s.from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// TelegramSender is a ChatSender over the Telegram bot API.
type TelegramSender struct {
	apiURL     string
	botToken   string
	httpClient *http.Client
}

// NewTelegramSender creates a Telegram chat sender.
func NewTelegramSender(apiURL, botToken string) *TelegramSender {
	return &TelegramSender{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var apiErr struct {
		Description string `json:"description"`
	}
	json.NewDecoder(resp.Body).Decode(&apiErr)

	if permanentTelegramError(resp.StatusCode, apiErr.Description) {
		return fmt.Errorf("telegram rejected chat %s (%s): %w", chatID, apiErr.Description, ErrRecipientInvalid)
	}
	return fmt.Errorf("telegram send failed: status %d: %s", resp.StatusCode, apiErr.Description)
}

// permanentTelegramError reports whether the API response means the chat
// can never be reached again with this bot.
func permanentTelegramError(status int, description string) bool {
	if status == http.StatusForbidden {
		return true
	}
	desc := strings.ToLower(description)
	return strings.Contains(desc, "chat not found") ||
		strings.Contains(desc, "bot was blocked") ||
		strings.Contains(desc, "user is deactivated")
}

// HTTPPusher is a best-effort Pusher over an internal push gateway.
type HTTPPusher struct {
	gatewayURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPPusher creates a push sender. Failures are logged and dropped.
func NewHTTPPusher(gatewayURL string, logger *slog.Logger) *HTTPPusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPusher{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

func (p *HTTPPusher) Push(ctx context.Context, deviceToken string, details AlertDetails) {
	payload, err := json.Marshal(map[string]any{
		"device_token": deviceToken,
		"title":        fmt.Sprintf("%s %s", details.TradingSymbol, details.Status),
		"alertDetails": details,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("push send failed", "error", err)
		return
	}
	resp.Body.Close()
}
