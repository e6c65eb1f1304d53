package config

import (
	kit "tgrelay/internal/transport"
)

// Config is the relay's file configuration. Every section is optional;
// ApplyDefaults fills what the file and environment leave empty.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Destinations DestinationsConfig `json:"destinations"`
	Delivery     DeliveryConfig     `json:"delivery"`
	API          APIConfig          `json:"api"`
	Logging      LoggingConfig      `json:"logging"`
	Health       HealthConfig       `json:"health"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API server).
	APIURL string `json:"api_url,omitempty"`
	// SendTimeout bounds a single Bot API call. Go duration string.
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// DestinationsConfig accepts chat IDs as numbers or strings and @handles.
type DestinationsConfig struct {
	Default   kit.Destination `json:"default"`
	Primary   kit.Destination `json:"primary"`
	Secondary kit.Destination `json:"secondary"`
}

// DeliveryConfig controls the retry policy shared by every request.
//
// Defaults (when fields are omitted/zero):
//   - max_attempts: 3
//   - base_delay: "1s" (linear: base_delay * attempt)
//   - attempt_timeout: value of telegram.send_timeout
//   - inter_send_delay: "100ms"
//   - parse_mode: "Markdown"
//   - disable_preview: true
type DeliveryConfig struct {
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	BaseDelay      string `json:"base_delay,omitempty"`
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
	InterSendDelay string `json:"inter_send_delay,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview *bool  `json:"disable_preview,omitempty"`
}

// APIConfig controls the HTTP server.
//
// Security note:
//   - Token is optional; when set, /api/* requires it (do not log).
//   - Pprof mounts /debug/pprof/ behind the same token.
type APIConfig struct {
	Addr  string `json:"addr,omitempty"` // default: "0.0.0.0:5001"
	Token string `json:"token,omitempty"`
	Debug bool   `json:"debug,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	JSON     bool            `json:"json,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool            `json:"enabled"`
	Target     kit.Destination `json:"target"`
	MinLevel   string          `json:"min_level"`
	RatePerSec int             `json:"rate_per_sec"`
}

// HealthConfig schedules the Bot API probe. Probe is a robfig/cron spec
// ("@every 1m", "*/5 * * * *"); "off" disables probing.
type HealthConfig struct {
	Probe        string `json:"probe,omitempty"`
	ProbeTimeout string `json:"probe_timeout,omitempty"`
}

// StorageConfig controls the delivery audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tgrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retention   string `json:"retention,omitempty"`    // Go duration string (sqlite)
}
