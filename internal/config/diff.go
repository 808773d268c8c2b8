package config

import (
	"reflect"
	"strconv"
	"strings"

	logx "rrcounter/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Tokens and secrets are never
// included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.GroupLog != nt.GroupLog ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.Webhook != nt.Webhook {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.webhook", nt.Webhook.Enabled),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	oc, nc := oldCfg.Counter, newCfg.Counter
	if oc.DefaultInterval != nc.DefaultInterval || oc.MinInterval != nc.MinInterval ||
		oc.MaxInterval != nc.MaxInterval || oc.MaxCount != nc.MaxCount ||
		!reflect.DeepEqual(oc.Identities, nc.Identities) {
		changed = append(changed, "counter")
		attrs = append(attrs,
			logx.Float64("counter.default_interval", nc.DefaultInterval),
			logx.Float64("counter.min_interval", nc.MinInterval),
			logx.Float64("counter.max_interval", nc.MaxInterval),
			logx.Int("counter.max_count", nc.MaxCount),
			logx.String("counter.identities", identityNames(newCfg.SenderIdentities())),
		)
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.workers", newCfg.Delivery.Workers),
			logx.Float64("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
		)
	}
	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs, logx.Bool("report.enabled", newCfg.Report.Enabled), logx.String("report.schedule", newCfg.Report.Schedule))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	return changed, attrs
}

func identityNames(ids []IdentityConfig) string {
	names := make([]string, 0, len(ids))
	for i, id := range ids {
		n := strings.TrimSpace(id.Name)
		if n == "" {
			n = "bot" + strconv.Itoa(i+1)
		}
		names = append(names, n)
	}
	return strings.Join(names, ",")
}
