package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"astra-responder/internal/schema"
)

// WebhookChannel posts notices as JSON to an HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SlackChannel sends notices to Slack.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, notice Notice) error {
	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color":  severityColor(notice.Severity),
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(string(notice.Severity)), notice.Title),
				"text":   notice.Message,
				"fields": s.buildFields(notice),
				"footer": fmt.Sprintf("astra-responder | %s", notice.ActionType),
				"ts":     notice.Timestamp.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (s *SlackChannel) buildFields(notice Notice) []map[string]interface{} {
	fields := []map[string]interface{}{
		{"title": "Alert", "value": string(notice.AlertType), "short": true},
		{"title": "Action", "value": string(notice.ActionType), "short": true},
		{"title": "Confidence", "value": fmt.Sprintf("%.2f", notice.Confidence), "short": true},
	}

	if notice.SourceIP != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Source", "value": notice.SourceIP, "short": true,
		})
	}
	if notice.TargetIP != "" {
		fields = append(fields, map[string]interface{}{
			"title": "Target", "value": notice.TargetIP, "short": true,
		})
	}

	return fields
}

func severityColor(sev schema.Severity) string {
	switch sev {
	case schema.SeverityCritical:
		return "#FF0000"
	case schema.SeverityHigh:
		return "#FFA500"
	case schema.SeverityMedium:
		return "#FFFF00"
	case schema.SeverityLow:
		return "#00FF00"
	default:
		return "#808080"
	}
}

// TelegramChannel sends notices to Telegram.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, notice Notice) error {
	text := fmt.Sprintf(`*[%s] %s*

%s

*Alert:* %s
*Action:* %s
*Time:* %s`,
		strings.ToUpper(string(notice.Severity)),
		escapeMarkdown(notice.Title),
		escapeMarkdown(notice.Message),
		escapeMarkdown(string(notice.AlertType)),
		escapeMarkdown(string(notice.ActionType)),
		notice.Timestamp.Format("2006-01-02 15:04:05 UTC"),
	)

	if notice.SourceIP != "" {
		text += fmt.Sprintf("\n*Source:* %s", escapeMarkdown(notice.SourceIP))
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// LogChannel writes notices to the process log. Used when no external
// channel is configured.
type LogChannel struct {
	logf func(format string, args ...interface{})
}

// NewLogChannel creates a new log channel.
func NewLogChannel(logf func(format string, args ...interface{})) *LogChannel {
	return &LogChannel{logf: logf}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, notice Notice) error {
	l.logf("NOTICE [%s] %s - %s (alert=%s, action=%s, source=%s)",
		notice.Severity, notice.Title, notice.Message,
		notice.AlertType, notice.ActionType, notice.SourceIP)
	return nil
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"(", "\\(",
		")", "\\)",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
