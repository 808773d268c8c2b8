package adapter

import "time"

// Config configures the controller bot connection.
type Config struct {
	Token       string
	PollTimeout time.Duration
	Webhook     WebhookConfig

	// APIURL overrides the Bot API base URL (default https://api.telegram.org).
	APIURL string
}

// WebhookConfig enables webhook delivery instead of long polling.
type WebhookConfig struct {
	Enabled     bool
	Listen      string
	PublicURL   string
	Path        string
	SecretToken string
}

// URL returns the public webhook URL registered with Telegram.
func (w WebhookConfig) URL() string {
	return w.PublicURL + w.Path
}
