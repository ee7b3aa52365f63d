// Package email implements an SMTP-based email notifier
package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/notifier"
)

// Email implements the Notifier interface for SMTP email
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// New creates a new Email notifier
func New(host string, port int, username, password, from string, to []string) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Init(cfg notifier.Config) error {
	if host, ok := cfg.Params["host"].(string); ok {
		e.host = host
	}
	switch port := cfg.Params["port"].(type) {
	case int:
		e.port = port
	case float64:
		e.port = int(port)
	}
	if username, ok := cfg.Params["username"].(string); ok {
		e.username = username
	}
	if password, ok := cfg.Params["password"].(string); ok {
		e.password = password
	}
	if from, ok := cfg.Params["from"].(string); ok {
		e.from = from
	}
	switch to := cfg.Params["to"].(type) {
	case []string:
		e.to = to
	case []any:
		e.to = e.to[:0]
		for _, v := range to {
			if s, ok := v.(string); ok {
				e.to = append(e.to, s)
			}
		}
	case string:
		e.to = strings.Split(to, ",")
	}
	if e.port == 0 {
		e.port = 587
	}

	if e.host == "" || e.from == "" || len(e.to) == 0 {
		return fmt.Errorf("email: host, from, and to are required")
	}
	return nil
}

func (e *Email) Send(n notifier.Notification) error {
	subject := fmt.Sprintf("TinkClaw: %s", n.Title())
	return e.sendEmail(subject, e.format(n))
}

func (e *Email) SendBatch(ns []notifier.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	subject := fmt.Sprintf("TinkClaw Digest: %d notifications", len(ns))

	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString("<h2>TinkClaw Notifications</h2>")
	sb.WriteString(fmt.Sprintf("<p>Generated at: %s</p>", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString("<hr>")

	for _, n := range ns {
		sb.WriteString(e.formatHTML(n))
		sb.WriteString("<hr>")
	}

	sb.WriteString("</body></html>")

	return e.sendEmail(subject, sb.String())
}

func (e *Email) format(n notifier.Notification) string {
	return fmt.Sprintf(`
%s

Symbol: %s
Confluence: %.1f
Setup: %s
Reason: %s
Time: %s
`,
		n.Title(),
		n.Symbol,
		n.Score,
		n.Setup,
		firstNonEmpty(n.Reason, n.Message),
		n.At.Format("2006-01-02 15:04:05"),
	)
}

func (e *Email) formatHTML(n notifier.Notification) string {
	color := "#17a2b8" // alerts
	switch n.Side {
	case core.SideBuy:
		color = "#28a745"
	case core.SideSell:
		color = "#dc3545"
	}

	return fmt.Sprintf(`
<div style="margin: 10px 0;">
  <h3 style="color: %s;">%s</h3>
  <p><strong>Confluence:</strong> %.1f</p>
  <p><strong>Reason:</strong> %s</p>
  <p><small>%s</small></p>
</div>
`,
		color,
		n.Title(),
		n.Score,
		firstNonEmpty(n.Reason, n.Message),
		n.At.Format("2006-01-02 15:04:05"),
	)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (e *Email) sendEmail(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	contentType := "text/plain"
	if strings.Contains(body, "<html>") {
		contentType = "text/html"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.from,
		strings.Join(e.to, ","),
		subject,
		contentType,
		body,
	)

	return smtp.SendMail(addr, auth, e.from, e.to, []byte(msg))
}
