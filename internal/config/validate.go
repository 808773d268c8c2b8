package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rrcounter/internal/report"
)

// Validate reports configuration errors. Any error here must stop startup;
// on hot reload the new config is rejected and the old one stays active.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set %s1)", EnvBotTokenPrefix)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if wh := c.Telegram.Webhook; wh.Enabled {
		if strings.TrimSpace(wh.PublicURL) == "" {
			add("telegram.webhook.public_url is required when the webhook is enabled (or set %s)", EnvPublicURL)
		}
		if !strings.HasPrefix(wh.Path, "/") {
			add("telegram.webhook.path must start with '/'")
		}
	}

	cc := c.Counter
	for name, v := range map[string]float64{
		"counter.default_interval": cc.DefaultInterval,
		"counter.min_interval":     cc.MinInterval,
		"counter.max_interval":     cc.MaxInterval,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			add("%s must be a positive number (got %v)", name, v)
		}
	}
	if cc.MinInterval > cc.MaxInterval {
		add("counter.min_interval (%v) must be <= counter.max_interval (%v)", cc.MinInterval, cc.MaxInterval)
	} else if cc.DefaultInterval < cc.MinInterval || cc.DefaultInterval > cc.MaxInterval {
		add("counter.default_interval (%v) must be within [%v, %v]", cc.DefaultInterval, cc.MinInterval, cc.MaxInterval)
	}
	if cc.MaxCount < 1 {
		add("counter.max_count must be >= 1 (got %d)", cc.MaxCount)
	}
	ids := c.SenderIdentities()
	if len(ids) == 0 {
		add("counter.identities: at least one sender identity is required")
	}
	seen := map[string]bool{}
	for i, id := range ids {
		if strings.TrimSpace(id.Token) == "" {
			add("counter.identities[%d].token is empty", i)
		}
		if n := strings.TrimSpace(id.Name); n != "" {
			if seen[n] {
				add("counter.identities[%d]: duplicate name %q", i, n)
			}
			seen[n] = true
		}
	}

	d := c.Delivery
	if d.Workers < 0 {
		add("delivery.workers must be >= 0")
	}
	if d.QueueSize < 0 {
		add("delivery.queue_size must be >= 0")
	}
	if d.RatePerSec < 0 {
		add("delivery.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("delivery.timeout", d.Timeout); err != nil {
		errs = append(errs, err)
	}

	if c.Report.Enabled {
		if strings.TrimSpace(c.Report.Schedule) == "" {
			add("report.schedule is required when report is enabled")
		} else if err := report.ValidateSchedule(c.Report.Schedule); err != nil {
			add("report.schedule: %v", err)
		}
		if tz := strings.TrimSpace(c.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add("report.timezone: %v", err)
			}
		}
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		add("metrics.addr is required when metrics are enabled")
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
