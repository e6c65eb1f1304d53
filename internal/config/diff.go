package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tgrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the changed settings that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)
	var restart []string

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	urlChanged := strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL)
	if tokenChanged || urlChanged ||
		strings.TrimSpace(ot.SendTimeout) != strings.TrimSpace(nt.SendTimeout) ||
		ot.RatePerSec != nt.RatePerSec {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(nt.APIURL) != ""),
			logx.String("telegram.send_timeout", strings.TrimSpace(nt.SendTimeout)),
			logx.Int("telegram.rate_per_sec", nt.RatePerSec),
		)
		restart = append(restart, "telegram")
	}

	if oldCfg.Destinations != newCfg.Destinations {
		changed = append(changed, "destinations")
		attrs = append(attrs,
			logx.String("destinations.default", newCfg.Destinations.Default.String()),
			logx.String("destinations.primary", newCfg.Destinations.Primary.String()),
			logx.String("destinations.secondary", newCfg.Destinations.Secondary.String()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		d := newCfg.Delivery
		attrs = append(attrs,
			logx.Int("delivery.max_attempts", d.MaxAttempts),
			logx.String("delivery.base_delay", d.BaseDelay),
			logx.String("delivery.attempt_timeout", d.AttemptTimeout),
			logx.String("delivery.inter_send_delay", d.InterSendDelay),
			logx.String("delivery.parse_mode", d.ParseMode),
		)
	}

	// API (never log token)
	oa, na := oldCfg.API, newCfg.API
	addrChanged := strings.TrimSpace(oa.Addr) != strings.TrimSpace(na.Addr)
	timeoutsChanged := oa.ReadTimeout != na.ReadTimeout ||
		oa.WriteTimeout != na.WriteTimeout ||
		oa.IdleTimeout != na.IdleTimeout ||
		oa.ShutdownTimeout != na.ShutdownTimeout
	if addrChanged || timeoutsChanged || oa.Debug != na.Debug || oa.Pprof != na.Pprof || oa.Token != na.Token {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.String("api.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(na.Token) != ""),
			logx.Bool("api.debug", na.Debug),
			logx.Bool("api.pprof", na.Pprof),
		)
		if addrChanged || timeoutsChanged || oa.Debug != na.Debug || oa.Pprof != na.Pprof {
			restart = append(restart, "api")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs, logx.String("health.probe", newCfg.Health.Probe))
	}

	// Storage. Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
		restart = append(restart, "storage")
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
