package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "tgrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retention  time.Duration
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retention: cfg.Retention, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	failed, err := json.Marshal(r.FailedDestinations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, batch_id, route, status, sent, failed, failed_destinations, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.BatchID, r.Route, r.Status, r.Sent, r.Failed,
		string(failed), nullStr(r.Error), r.TookMS,
	)
	if err == nil && s.retention > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneOlderThan(pctx, time.Now().Add(-s.retention)); perr != nil {
			s.log.Debug("storage prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, batch_id, route, status, sent, failed, failed_destinations, err, took_ms
		 FROM deliveries ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			r      DeliveryRecord
			at     string
			failed sql.NullString
			errStr sql.NullString
		)
		if err := rows.Scan(&at, &r.BatchID, &r.Route, &r.Status, &r.Sent, &r.Failed, &failed, &errStr, &r.TookMS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Error = errStr.String
		if failed.Valid && failed.String != "" && failed.String != "null" {
			_ = json.Unmarshal([]byte(failed.String), &r.FailedDestinations)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
