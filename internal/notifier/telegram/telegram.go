package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/notifier"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiBase  string
	client   *resty.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   resty.New().SetTimeout(30 * time.Second),
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token, ok := cfg.Params["bot_token"].(string); ok {
		t.botToken = token
	}
	if chatID, ok := cfg.Params["chat_id"].(string); ok {
		t.chatID = chatID
	}
	if base, ok := cfg.Params["api_base"].(string); ok && base != "" {
		t.apiBase = base
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}
	if t.apiBase == "" {
		t.apiBase = defaultAPIBase
	}
	if t.client == nil {
		t.client = resty.New().SetTimeout(30 * time.Second)
	}

	return nil
}

func (t *Telegram) Send(n notifier.Notification) error {
	return t.sendMessage(t.format(n))
}

func (t *Telegram) SendBatch(ns []notifier.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *%d TinkClaw Notifications*\n\n", len(ns)))

	for i, n := range ns {
		sb.WriteString(t.format(n))
		if i < len(ns)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(sb.String())
}

func (t *Telegram) format(n notifier.Notification) string {
	var sb strings.Builder

	emoji := "🔔"
	switch {
	case n.Kind == notifier.KindIntent && n.Side == core.SideBuy:
		emoji = "📈"
	case n.Kind == notifier.KindIntent && n.Side == core.SideSell:
		emoji = "📉"
	case n.Kind == notifier.KindHealth:
		emoji = "⚠️"
	}

	sb.WriteString(fmt.Sprintf("%s *%s*\n", emoji, n.Title()))
	if n.Score > 0 {
		sb.WriteString(fmt.Sprintf("📊 Confluence: %.1f\n", n.Score))
	}
	if n.Setup != "" {
		sb.WriteString(fmt.Sprintf("🎯 Setup: %s\n", n.Setup))
	}
	if n.Reason != "" {
		sb.WriteString(fmt.Sprintf("💡 Reason: %s\n", n.Reason))
	}
	if n.Message != "" {
		sb.WriteString(fmt.Sprintf("💬 %s\n", n.Message))
	}
	if n.Price > 0 {
		sb.WriteString(fmt.Sprintf("💰 Price: $%.2f\n", n.Price))
	}

	sb.WriteString(fmt.Sprintf("⏰ Time: %s", n.At.Format("2006-01-02 15:04:05")))

	return sb.String()
}

func (t *Telegram) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(t.apiBase, "/"), t.botToken)

	var result map[string]any
	resp, err := t.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		SetError(&result).
		Post(url)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode(), result)
	}

	return nil
}
