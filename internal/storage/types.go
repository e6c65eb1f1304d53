package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // sqlite only; 0 keeps every record
}

// DeliveryRecord summarizes one delivery request.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At                 time.Time `json:"at"`
	BatchID            string    `json:"batch_id"`
	Route              string    `json:"route"`
	Status             string    `json:"status"`
	Sent               int       `json:"sent"`
	Failed             int       `json:"failed"`
	FailedDestinations []string  `json:"failed_destinations,omitempty"`
	Error              string    `json:"error,omitempty"`
	TookMS             int64     `json:"took_ms"`
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultRecentLimit
	}
	return min(n, maxRecentLimit)
}
