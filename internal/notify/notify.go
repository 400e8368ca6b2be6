// Package notify posts the final status of a run to a messaging endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Notification is one status message. Status and Color are fixed per outcome.
type Notification struct {
	RunID    string
	Workflow string
	Status   string
	Color    string
	Channel  string
	Token    string
	Text     string
}

// Notifier delivers a notification. Callers treat it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes the notification to the log only.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Info().
		Str("run_id", n.RunID).
		Str("status", n.Status).
		Str("color", n.Color).
		Str("channel", n.Channel).
		Msg(n.Text)
	return nil
}

// Webhook posts a Slack-compatible attachment payload.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

type attachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

type payload struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

// Notify sends the message; the response body is not processed.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(payload{
		Channel: n.Channel,
		Text:    fmt.Sprintf("%s: %s", n.Workflow, n.Status),
		Attachments: []attachment{{
			Color:  n.Color,
			Title:  n.Status,
			Text:   n.Text,
			Footer: n.RunID,
		}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}

// WithDefaults fills in Channel and Token when the workflow leaves them empty.
func WithDefaults(next Notifier, channel, token string) Notifier {
	return defaults{next: next, channel: channel, token: token}
}

type defaults struct {
	next           Notifier
	channel, token string
}

func (d defaults) Notify(ctx context.Context, n Notification) error {
	if n.Channel == "" {
		n.Channel = d.channel
	}
	if n.Token == "" {
		n.Token = d.token
	}
	return d.next.Notify(ctx, n)
}
