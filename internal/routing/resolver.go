// Package routing decides which chats a request is delivered to.
package routing

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	kit "tgrelay/internal/transport"
)

var (
	// ErrNoDestination means resolution produced nothing to send to.
	ErrNoDestination = errors.New("no destination: no explicit chat and no default configured")
	// ErrNotConfigured matches every *ConfigError.
	ErrNotConfigured = errors.New("destination not configured")
)

// ConfigError reports a language selector whose destination is not configured.
type ConfigError struct {
	Slot  Slot
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s destination is not configured (set %s)", e.Slot, e.Field)
}

func (e *ConfigError) Is(target error) bool { return target == ErrNotConfigured }

// Slot names where a resolved destination came from.
type Slot string

const (
	SlotExplicit  Slot = "explicit"
	SlotDefault   Slot = "default"
	SlotPrimary   Slot = "primary"
	SlotSecondary Slot = "secondary"
)

// Language is the normalized language/group selector of a request.
type Language string

const (
	LangNone      Language = ""
	LangPrimary   Language = "primary"
	LangSecondary Language = "secondary"
	LangAll       Language = "all"
	LangUnknown   Language = "unknown"
)

// ParseLanguage accepts the wire aliases: zh/primary, en/secondary, both/all.
// Unrecognized tags map to LangUnknown, which resolves like an absent tag.
func ParseLanguage(raw string) Language {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return LangNone
	case "zh", "cn", "primary":
		return LangPrimary
	case "en", "secondary":
		return LangSecondary
	case "both", "all":
		return LangAll
	default:
		return LangUnknown
	}
}

// Config holds the configured destinations. Zero values mean "not configured".
type Config struct {
	Default   kit.Destination `json:"default"`
	Primary   kit.Destination `json:"primary"`
	Secondary kit.Destination `json:"secondary"`
}

// Intent is what a request asks for.
type Intent struct {
	Explicit []kit.Destination
	Language Language
}

// Target is a resolved destination tagged with its origin.
type Target struct {
	Destination kit.Destination
	Slot        Slot
}

type Resolver struct {
	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config) *Resolver { return &Resolver{cfg: cfg} }

func (r *Resolver) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Resolver) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Resolve returns the destinations for in, in delivery order.
//
// Priority: explicit destinations (verbatim, duplicates kept), then the
// language selector, then the default destination.
func (r *Resolver) Resolve(in Intent) ([]kit.Destination, error) {
	ts, err := r.ResolveTargets(in)
	if err != nil {
		return nil, err
	}
	out := make([]kit.Destination, len(ts))
	for i, t := range ts {
		out[i] = t.Destination
	}
	return out, nil
}

func (r *Resolver) ResolveTargets(in Intent) ([]Target, error) {
	cfg := r.Config()

	explicit := make([]Target, 0, len(in.Explicit))
	for _, d := range in.Explicit {
		if !d.IsZero() {
			explicit = append(explicit, Target{Destination: d, Slot: SlotExplicit})
		}
	}
	if len(explicit) > 0 {
		return explicit, nil
	}

	var out []Target
	switch in.Language {
	case LangAll:
		if !cfg.Primary.IsZero() {
			out = append(out, Target{Destination: cfg.Primary, Slot: SlotPrimary})
		}
		if !cfg.Secondary.IsZero() {
			out = append(out, Target{Destination: cfg.Secondary, Slot: SlotSecondary})
		}
	case LangPrimary:
		if cfg.Primary.IsZero() {
			return nil, &ConfigError{Slot: SlotPrimary, Field: "destinations.primary"}
		}
		out = append(out, Target{Destination: cfg.Primary, Slot: SlotPrimary})
	case LangSecondary:
		if cfg.Secondary.IsZero() {
			return nil, &ConfigError{Slot: SlotSecondary, Field: "destinations.secondary"}
		}
		out = append(out, Target{Destination: cfg.Secondary, Slot: SlotSecondary})
	default:
		if !cfg.Default.IsZero() {
			out = append(out, Target{Destination: cfg.Default, Slot: SlotDefault})
		}
	}

	if len(out) == 0 {
		return nil, ErrNoDestination
	}
	return out, nil
}
