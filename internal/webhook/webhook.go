// Package webhook posts gateway status-change notifications to a Discord
// webhook, so operators get connection-loss/restore alerts without polling
// the status API.
package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"
)

// Notifier sends Discord webhook notifications over fasthttp.
type Notifier struct {
	webhookURL string
	client     *fasthttp.Client
	logger     *slog.Logger
}

// Embed represents a Discord embed object.
type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

// Field represents a Discord embed field.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Payload represents a Discord webhook message.
type Payload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Content   string  `json:"content,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Colors for different notification types.
const (
	ColorRed    = 0xFF0000 // Error/Down
	ColorGreen  = 0x00FF00 // Connected/Up
	ColorYellow = 0xFFFF00 // Warning/Reconnecting
)

const webhookUsername = "wsgateway"

const fieldTargetID = "Target"

// NewNotifier creates a new webhook notifier. Returns nil if webhookURL is
// empty, so callers can wire it unconditionally and rely on nil-receiver
// no-ops elsewhere in this file.
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	if webhookURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "webhook"),
	}
}

// NotifyDown sends a notification when a target's supervisor has stopped:
// the connection is closed and no further reconnect is scheduled.
func (n *Notifier) NotifyDown(targetID, reason string) {
	if n == nil {
		return
	}
	n.send(Embed{
		Title:       "Connection Lost",
		Description: "Connection has been closed; no further reconnect is scheduled.",
		Color:       ColorRed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []Field{
			{Name: fieldTargetID, Value: targetID, Inline: true},
			{Name: "Reason", Value: reason, Inline: false},
		},
	})
}

// NotifyReconnecting sends a notification when a retry attempt is scheduled.
func (n *Notifier) NotifyReconnecting(targetID string, attempt int, delay time.Duration) {
	if n == nil {
		return
	}
	n.send(Embed{
		Title:       "Reconnecting",
		Description: fmt.Sprintf("Attempting to reconnect (attempt #%d)", attempt),
		Color:       ColorYellow,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []Field{
			{Name: fieldTargetID, Value: targetID, Inline: true},
			{Name: "Retry In", Value: delay.Round(time.Second).String(), Inline: true},
		},
	})
}

// NotifyUp sends a notification when a connection is established or restored.
func (n *Notifier) NotifyUp(targetID string) {
	if n == nil {
		return
	}
	n.send(Embed{
		Title:       "Connection Restored",
		Description: "Connection has been successfully established.",
		Color:       ColorGreen,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []Field{
			{Name: fieldTargetID, Value: targetID, Inline: true},
		},
	})
}

func (n *Notifier) send(embed Embed) {
	payload := Payload{
		Username: webhookUsername,
		Embeds:   []Embed{embed},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.webhookURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(data)

	if err := n.client.DoTimeout(req, resp, 10*time.Second); err != nil {
		n.logger.Error("failed to send webhook", "error", err)
		return
	}

	if resp.StatusCode() >= 400 {
		n.logger.Error("webhook returned error", "status", resp.StatusCode())
		return
	}

	n.logger.Debug("webhook sent successfully")
}
