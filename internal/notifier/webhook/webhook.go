// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newthinker/tinkclaw/internal/notifier"
)

// Webhook implements the Notifier interface for HTTP webhooks
type Webhook struct {
	url     string
	headers map[string]string
	client  *resty.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  resty.New().SetTimeout(30 * time.Second),
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Init(cfg notifier.Config) error {
	if url, ok := cfg.Params["url"].(string); ok {
		w.url = url
	}
	switch headers := cfg.Params["headers"].(type) {
	case map[string]string:
		w.headers = headers
	case map[string]any:
		w.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			w.headers[k] = fmt.Sprint(v)
		}
	}

	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}

	if w.client == nil {
		w.client = resty.New().SetTimeout(30 * time.Second)
	}

	return nil
}

func (w *Webhook) Send(n notifier.Notification) error {
	return w.post(toPayload(n))
}

func (w *Webhook) SendBatch(ns []notifier.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	payloads := make([]map[string]any, len(ns))
	for i, n := range ns {
		payloads[i] = toPayload(n)
	}

	return w.post(map[string]any{
		"type":          "batch",
		"count":         len(ns),
		"notifications": payloads,
	})
}

func toPayload(n notifier.Notification) map[string]any {
	p := map[string]any{
		"type":     string(n.Kind),
		"symbol":   n.Symbol,
		"title":    n.Title(),
		"score":    n.Score,
		"advisory": n.Advisory,
		"at":       n.At.Format(time.RFC3339),
	}
	if n.Kind == notifier.KindIntent {
		p["side"] = string(n.Side)
		p["size"] = n.Size.String()
		p["reason"] = n.Reason
		p["setup_type"] = n.Setup
	}
	if n.Price > 0 {
		p["price"] = n.Price
	}
	if n.Message != "" {
		p["message"] = n.Message
	}
	return p
}

func (w *Webhook) post(payload any) error {
	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeaders(w.headers).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode())
	}

	return nil
}
