package app

import (
	"strings"

	"tgrelay/internal/config"
	"tgrelay/internal/delivery"
	"tgrelay/internal/health"
	"tgrelay/internal/httpapi"
	"tgrelay/internal/routing"
	"tgrelay/internal/storage"
	kit "tgrelay/internal/transport"
	"tgrelay/internal/transport/telegram"
	logx "tgrelay/pkg/logx"
)

// settings is a validated config with its durations parsed once.
type settings struct {
	cfg *config.Config
	d   config.Durations
}

func newSettings(cfg *config.Config) (settings, error) {
	d, err := cfg.Durations()
	if err != nil {
		return settings{}, err
	}
	return settings{cfg: cfg, d: d}, nil
}

func (s settings) logging() logx.Config {
	l := s.cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			Target:     l.Telegram.Target,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func (s settings) telegram() telegram.Config {
	return telegram.Config{
		Token:       s.cfg.Telegram.Token,
		APIURL:      s.cfg.Telegram.APIURL,
		SendTimeout: s.d.SendTimeout,
		RatePerSec:  s.cfg.Telegram.RatePerSec,
	}
}

func (s settings) policy() delivery.Policy {
	return delivery.Policy{
		MaxAttempts:    s.cfg.Delivery.MaxAttempts,
		BaseDelay:      s.d.BaseDelay,
		AttemptTimeout: s.d.AttemptTimeout,
		InterSendDelay: s.d.InterSendDelay,
	}
}

func (s settings) routing() routing.Config {
	return routing.Config{
		Default:   s.cfg.Destinations.Default,
		Primary:   s.cfg.Destinations.Primary,
		Secondary: s.cfg.Destinations.Secondary,
	}
}

func (s settings) parseMode() kit.ParseMode {
	mode, _ := kit.ParseParseMode(s.cfg.Delivery.ParseMode, config.DefaultParseMode)
	return mode
}

func (s settings) disablePreview() bool {
	return s.cfg.Delivery.DisablePreview == nil || *s.cfg.Delivery.DisablePreview
}

func (s settings) http() httpapi.Config {
	a := s.cfg.API
	return httpapi.Config{
		Addr:           a.Addr,
		Token:          a.Token,
		Debug:          a.Debug,
		Pprof:          a.Pprof,
		ReadTimeout:    s.d.ReadTimeout,
		WriteTimeout:   s.d.WriteTimeout,
		IdleTimeout:    s.d.IdleTimeout,
		ParseMode:      s.parseMode(),
		DisablePreview: s.disablePreview(),
	}
}

func (s settings) health() health.Config {
	return health.Config{Spec: s.cfg.Health.Probe, Timeout: s.d.ProbeTimeout}
}

// storage returns the store config; enabled is false when the audit is off.
func (s settings) storage() (storage.Config, bool) {
	sc := s.cfg.Storage
	if sc == nil {
		return storage.Config{}, false
	}
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "", "none", "off":
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: s.d.BusyTimeout,
		Retention:   s.d.Retention,
	}, true
}
