package config

// Config is the full bot configuration. It is read from a JSON or YAML file
// (optional) and then overlaid with environment variables, see ApplyEnv.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Counter  CounterConfig  `json:"counter"`
	Delivery DeliveryConfig `json:"delivery"`
	Report   ReportConfig   `json:"report"`
	Metrics  MetricsConfig  `json:"metrics"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// TelegramConfig configures the controller bot.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string        `json:"poll_timeout"`
	Webhook     WebhookConfig `json:"webhook"`
}

// WebhookConfig switches the controller bot from long polling to a webhook.
//
// Example:
//
//	"webhook": { "enabled": true, "listen": ":10000", "public_url": "https://bot.example.com" }
type WebhookConfig struct {
	Enabled     bool   `json:"enabled"`
	Listen      string `json:"listen,omitempty"`       // default ":10000"
	PublicURL   string `json:"public_url,omitempty"`   // base URL; Path is appended
	Path        string `json:"path,omitempty"`         // default "/telegram/webhook"
	SecretToken string `json:"secret_token,omitempty"` // never logged
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CounterConfig bounds every chat's counter. Intervals are seconds and may be
// fractional (0.5 = half a second).
//
// Defaults: default_interval 1, min_interval 0.2, max_interval 3600, max_count 1000.
type CounterConfig struct {
	DefaultInterval float64          `json:"default_interval,omitempty"`
	MinInterval     float64          `json:"min_interval,omitempty"`
	MaxInterval     float64          `json:"max_interval,omitempty"`
	MaxCount        int              `json:"max_count,omitempty"`
	Identities      []IdentityConfig `json:"identities,omitempty"`
}

// IdentityConfig is one sender bot. Order is rotation order.
type IdentityConfig struct {
	Name  string `json:"name,omitempty"`
	Token string `json:"token"`
}

// DeliveryConfig controls the async tick delivery pipeline.
//
// Timeout is a Go duration string; rate_per_sec is per sender identity
// (0 disables limiting).
type DeliveryConfig struct {
	Workers    int     `json:"workers,omitempty"`
	QueueSize  int     `json:"queue_size,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	APIURL     string  `json:"api_url,omitempty"`
}

// ReportConfig controls the periodic status report.
//
// Schedule accepts cron expressions with optional seconds and descriptors
// such as "@hourly" or "@every 30m".
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	// Token is required for non-loopback binds.
	Token string `json:"token,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
}

// StorageConfig controls the optional audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./rrcounter.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultIntervalSeconds = 1.0
	DefaultMinInterval     = 0.2
	DefaultMaxInterval     = 3600.0
	DefaultMaxCount        = 1000
	DefaultWebhookListen   = ":10000"
	DefaultWebhookPath     = "/telegram/webhook"
	DefaultReportSchedule  = "@every 1h"
	DefaultMetricsAddr     = "127.0.0.1:9090"
)

// Defaults returns the base config the file and the environment are laid
// over. An explicit zero counter bound from either source reaches Validate.
func Defaults() Config {
	return Config{Counter: CounterConfig{
		DefaultInterval: DefaultIntervalSeconds,
		MinInterval:     DefaultMinInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxCount:        DefaultMaxCount,
	}}
}

// ApplyDefaults fills zero values of optional settings.
func (c *Config) ApplyDefaults() {
	if c.Telegram.Webhook.Listen == "" {
		c.Telegram.Webhook.Listen = DefaultWebhookListen
	}
	if c.Telegram.Webhook.Path == "" {
		c.Telegram.Webhook.Path = DefaultWebhookPath
	}
	if c.Report.Schedule == "" {
		c.Report.Schedule = DefaultReportSchedule
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// SenderIdentities returns the rotation pool. With no identities configured
// the controller bot is the only sender.
func (c *Config) SenderIdentities() []IdentityConfig {
	if len(c.Counter.Identities) > 0 {
		return c.Counter.Identities
	}
	if c.Telegram.Token == "" {
		return nil
	}
	return []IdentityConfig{{Name: "bot1", Token: c.Telegram.Token}}
}
