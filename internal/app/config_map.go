package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rrcounter/internal/config"
	"rrcounter/internal/counter"
	"rrcounter/internal/delivery"
	"rrcounter/internal/identity"
	"rrcounter/internal/metrics"
	"rrcounter/internal/report"
	"rrcounter/internal/storage"
	telegram "rrcounter/internal/transport/telegram/adapter"
	logx "rrcounter/pkg/logx"
)

const (
	defaultPollTimeout     = 10 * time.Second
	defaultSQLiteBusy      = 1 * time.Second
	defaultDeliveryWorkers = 4
	defaultQueueSize       = 256
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	wh := cfg.Telegram.Webhook
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		APIURL:      cfg.Delivery.APIURL,
		Webhook: telegram.WebhookConfig{
			Enabled:     wh.Enabled,
			Listen:      wh.Listen,
			PublicURL:   strings.TrimRight(strings.TrimSpace(wh.PublicURL), "/"),
			Path:        wh.Path,
			SecretToken: wh.SecretToken,
		},
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log. ok is false when unset or invalid.
func logTarget(cfg *config.Config) (chatID int64, ok bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func mapLimits(cfg *config.Config) counter.Limits {
	c := cfg.Counter
	return counter.Limits{
		DefaultInterval: config.Seconds(c.DefaultInterval),
		MinInterval:     config.Seconds(c.MinInterval),
		MaxInterval:     config.Seconds(c.MaxInterval),
		MaxCount:        c.MaxCount,
	}
}

func buildPool(cfg *config.Config) (*identity.Pool, error) {
	ics := cfg.SenderIdentities()
	ids := make([]identity.Identity, 0, len(ics))
	for i, ic := range ics {
		name := strings.TrimSpace(ic.Name)
		if name == "" {
			name = "bot" + strconv.Itoa(i+1)
		}
		ids = append(ids, identity.Identity{Name: name, Token: ic.Token})
	}
	return identity.New(ids...)
}

func mapDispatcherConfig(cfg *config.Config) delivery.Config {
	d := cfg.Delivery
	workers := d.Workers
	if workers <= 0 {
		workers = defaultDeliveryWorkers
	}
	queue := d.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}
	return delivery.Config{Workers: workers, QueueSize: queue, RatePerSec: d.RatePerSec, Burst: 1}
}

func mapSenderTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, delivery.DefaultTimeout)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReportConfig(cfg *config.Config) report.Config {
	r := cfg.Report
	return report.Config{Enabled: r.Enabled, Schedule: r.Schedule, ChatID: r.ChatID, Timezone: r.Timezone}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics
	return metrics.ServerConfig{Enabled: m.Enabled, Addr: m.Addr, Token: m.Token, Pprof: m.Pprof}
}
