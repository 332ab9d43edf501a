package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/vigildev/vigil/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newHTTPClient builds the retrying HTTP client shared by webhook-style
// channels. Retries absorb transient webhook endpoint hiccups; the final
// failure still surfaces to the dispatcher.
func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil
	return client
}

func postJSON(ctx context.Context, client *retryablehttp.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// -- Chat channel --

// ChatChannel posts a block-formatted message to a chat webhook
// (Slack-compatible payload shape).
type ChatChannel struct {
	name       string
	webhookURL string
	client     *retryablehttp.Client
}

// NewChatChannel builds a chat channel from its configuration.
func NewChatChannel(cfg config.ChannelConfig) *ChatChannel {
	return &ChatChannel{
		name:       channelName(cfg, "chat"),
		webhookURL: cfg.WebhookURL,
		client:     newHTTPClient(),
	}
}

func (c *ChatChannel) Name() string { return c.name }

type chatText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatBlock struct {
	Type string    `json:"type"`
	Text *chatText `json:"text,omitempty"`
}

type chatPayload struct {
	Text   string      `json:"text"`
	Blocks []chatBlock `json:"blocks"`
}

func (c *ChatChannel) Send(ctx context.Context, ev Event) error {
	summary := fmt.Sprintf("Visual regression detected: %s", ev.URL)
	detail := fmt.Sprintf("*URL:* %s\n*Viewport:* %s\n*Diff ratio:* %.2f%%", ev.URL, ev.Viewport, ev.DiffRatio*100)
	if ev.Selector != "" {
		detail += fmt.Sprintf("\n*Selector:* `%s`", ev.Selector)
	}
	if ev.DiffImageRef != "" {
		detail += fmt.Sprintf("\n*Diff image:* %s", ev.DiffImageRef)
	}

	payload := chatPayload{
		Text: summary,
		Blocks: []chatBlock{
			{Type: "header", Text: &chatText{Type: "plain_text", Text: "Visual regression detected"}},
			{Type: "section", Text: &chatText{Type: "mrkdwn", Text: detail}},
		},
	}
	return postJSON(ctx, c.client, c.webhookURL, payload)
}

// -- Generic webhook channel --

// WebhookChannel posts the alert event as a plain JSON envelope to an
// arbitrary HTTP endpoint.
type WebhookChannel struct {
	name       string
	webhookURL string
	client     *retryablehttp.Client
}

// NewWebhookChannel builds a generic webhook channel from its configuration.
func NewWebhookChannel(cfg config.ChannelConfig) *WebhookChannel {
	return &WebhookChannel{
		name:       channelName(cfg, "webhook"),
		webhookURL: cfg.WebhookURL,
		client:     newHTTPClient(),
	}
}

func (w *WebhookChannel) Name() string { return w.name }

type webhookEnvelope struct {
	Event string `json:"event"`
	Alert Event  `json:"alert"`
}

func (w *WebhookChannel) Send(ctx context.Context, ev Event) error {
	return postJSON(ctx, w.client, w.webhookURL, webhookEnvelope{
		Event: "visual-regression-detected",
		Alert: ev,
	})
}

// -- Email channel --

// sendMailFunc matches smtp.SendMail; injectable for tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers alerts as plain-text email over SMTP.
type EmailChannel struct {
	name     string
	cfg      config.EmailConfig
	sendMail sendMailFunc
}

// NewEmailChannel builds an email channel from its configuration.
func NewEmailChannel(cfg config.ChannelConfig) *EmailChannel {
	return &EmailChannel{
		name:     channelName(cfg, "email"),
		cfg:      cfg.Email,
		sendMail: smtp.SendMail,
	}
}

func (e *EmailChannel) Name() string { return e.name }

func (e *EmailChannel) Send(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	port := e.cfg.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, port)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	subject := fmt.Sprintf("[vigil] Visual regression: %s (%s)", ev.URL, ev.Viewport.Name)
	var body strings.Builder
	fmt.Fprintf(&body, "A visual regression was detected at %s.\r\n\r\n", ev.DetectedAt.Format(time.RFC3339))
	fmt.Fprintf(&body, "URL:        %s\r\n", ev.URL)
	fmt.Fprintf(&body, "Viewport:   %s\r\n", ev.Viewport)
	if ev.Selector != "" {
		fmt.Fprintf(&body, "Selector:   %s\r\n", ev.Selector)
	}
	fmt.Fprintf(&body, "Diff ratio: %.2f%%\r\n", ev.DiffRatio*100)
	if ev.DiffImageRef != "" {
		fmt.Fprintf(&body, "Diff image: %s\r\n", ev.DiffImageRef)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.cfg.From, strings.Join(e.cfg.To, ", "), subject, body.String())

	if err := e.sendMail(addr, auth, e.cfg.From, e.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

func channelName(cfg config.ChannelConfig, fallback string) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return fallback
}
