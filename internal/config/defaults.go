package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	kit "tgrelay/internal/transport"
)

const (
	DefaultAddr           = "0.0.0.0:5001"
	DefaultSendTimeout    = "10s"
	DefaultRatePerSec     = 25
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = "1s"
	DefaultInterSendDelay = "100ms"
	DefaultParseMode      = kit.ParseMarkdown
	DefaultProbe          = "@every 1m"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{Logging: LoggingConfig{Level: "info", Console: true}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Telegram.SendTimeout) == "" {
		c.Telegram.SendTimeout = DefaultSendTimeout
	}
	if c.Telegram.RatePerSec <= 0 {
		c.Telegram.RatePerSec = DefaultRatePerSec
	}

	d := &c.Delivery
	if d.MaxAttempts == 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if strings.TrimSpace(d.BaseDelay) == "" {
		d.BaseDelay = DefaultBaseDelay
	}
	if strings.TrimSpace(d.AttemptTimeout) == "" {
		d.AttemptTimeout = c.Telegram.SendTimeout
	}
	if strings.TrimSpace(d.InterSendDelay) == "" {
		d.InterSendDelay = DefaultInterSendDelay
	}
	if strings.TrimSpace(d.ParseMode) == "" {
		d.ParseMode = string(DefaultParseMode)
	}
	if d.DisablePreview == nil {
		v := true
		d.DisablePreview = &v
	}

	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = DefaultAddr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Health.Probe) == "" {
		c.Health.Probe = DefaultProbe
	}
}

// Validate reports every invalid field at once.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token: required (or set BOT_TOKEN)"))
	}
	if c.Telegram.RatePerSec < 0 {
		add(errors.New("telegram.rate_per_sec: must be >= 0"))
	}
	_, err := c.Durations()
	add(err)

	if c.Delivery.MaxAttempts < 1 {
		add(fmt.Errorf("delivery.max_attempts: must be >= 1, got %d", c.Delivery.MaxAttempts))
	}
	if _, ok := kit.ParseParseMode(c.Delivery.ParseMode, DefaultParseMode); !ok {
		add(fmt.Errorf("delivery.parse_mode: unknown mode %q", c.Delivery.ParseMode))
	}

	if strings.TrimSpace(c.API.Addr) == "" {
		add(errors.New("api.addr: required"))
	}

	if p := strings.TrimSpace(c.Health.Probe); p != "" && !strings.EqualFold(p, "off") {
		if _, err := cron.ParseStandard(p); err != nil {
			add(fmt.Errorf("health.probe: invalid schedule %q: %w", p, err))
		}
	}

	if c.Logging.Telegram.Enabled && c.Logging.Telegram.Target.IsZero() {
		add(errors.New("logging.telegram.target: required when logging.telegram.enabled"))
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "off":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path: required for driver " + s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}

	return errors.Join(errs...)
}
