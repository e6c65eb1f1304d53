package config

import (
	"net"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	kit "tgrelay/internal/transport"
)

// envKeys maps the relay's environment variables to koanf paths.
var envKeys = map[string]string{
	"BOT_TOKEN":  "telegram.token",
	"CHAT_ID":    "destinations.default",
	"CHAT_ID_ZH": "destinations.primary",
	"CHAT_ID_EN": "destinations.secondary",
	"API_HOST":   "api.host",
	"API_PORT":   "api.port",
	"API_DEBUG":  "api.debug",
	"API_TOKEN":  "api.token",
	"LOG_LEVEL":  "logging.level",
}

// loadEnv reads the known environment variables into a koanf instance.
// Unknown variables are skipped.
func loadEnv() (*koanf.Koanf, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// ApplyEnv overlays environment variables on cfg. Set variables win over
// the file; empty ones are ignored.
func ApplyEnv(cfg *Config) error {
	k, err := loadEnv()
	if err != nil {
		return err
	}
	str := func(path string) (string, bool) {
		if !k.Exists(path) {
			return "", false
		}
		v := strings.TrimSpace(k.String(path))
		return v, v != ""
	}

	if v, ok := str("telegram.token"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := str("destinations.default"); ok {
		cfg.Destinations.Default = kit.ParseDestination(v)
	}
	if v, ok := str("destinations.primary"); ok {
		cfg.Destinations.Primary = kit.ParseDestination(v)
	}
	if v, ok := str("destinations.secondary"); ok {
		cfg.Destinations.Secondary = kit.ParseDestination(v)
	}
	if v, ok := str("api.token"); ok {
		cfg.API.Token = v
	}
	if v, ok := str("api.debug"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.API.Debug = b
		}
	}
	if v, ok := str("logging.level"); ok {
		cfg.Logging.Level = v
	}

	host, hostSet := str("api.host")
	port, portSet := str("api.port")
	if hostSet || portSet {
		cfg.API.Addr = joinAddr(cfg.API.Addr, host, port)
	}
	return nil
}

// joinAddr replaces the host and/or port of addr, falling back to DefaultAddr.
func joinAddr(addr, host, port string) string {
	if strings.TrimSpace(addr) == "" {
		addr = DefaultAddr
	}
	curHost, curPort, err := net.SplitHostPort(addr)
	if err != nil {
		curHost, curPort, _ = net.SplitHostPort(DefaultAddr)
	}
	if host == "" {
		host = curHost
	}
	if port == "" {
		port = curPort
	}
	return net.JoinHostPort(host, port)
}
