package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations holds the parsed duration fields of a Config. Zero means
// "use the component default" except where noted.
type Durations struct {
	SendTimeout    time.Duration
	BaseDelay      time.Duration // zero is valid: retry immediately
	AttemptTimeout time.Duration
	InterSendDelay time.Duration // zero is valid: no pacing

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	ProbeTimeout time.Duration
	BusyTimeout  time.Duration
	Retention    time.Duration // zero keeps every record
}

// Durations parses every duration field of c.
func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string) {
		v, err := ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&d.SendTimeout, "telegram.send_timeout", c.Telegram.SendTimeout)
	parse(&d.BaseDelay, "delivery.base_delay", c.Delivery.BaseDelay)
	parse(&d.AttemptTimeout, "delivery.attempt_timeout", c.Delivery.AttemptTimeout)
	parse(&d.InterSendDelay, "delivery.inter_send_delay", c.Delivery.InterSendDelay)
	parse(&d.ReadTimeout, "api.read_timeout", c.API.ReadTimeout)
	parse(&d.WriteTimeout, "api.write_timeout", c.API.WriteTimeout)
	parse(&d.IdleTimeout, "api.idle_timeout", c.API.IdleTimeout)
	parse(&d.ShutdownTimeout, "api.shutdown_timeout", c.API.ShutdownTimeout)
	parse(&d.ProbeTimeout, "health.probe_timeout", c.Health.ProbeTimeout)
	if c.Storage != nil {
		parse(&d.BusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout)
		parse(&d.Retention, "storage.retention", c.Storage.Retention)
	}
	return d, errors.Join(errs...)
}
