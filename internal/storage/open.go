package storage

import (
	"context"
	"errors"
	"strings"

	logx "tgrelay/pkg/logx"
)

// Store is the persistence API used by the HTTP layer.
type Store interface {
	AppendDelivery(ctx context.Context, r DeliveryRecord) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" || driver == "off" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
