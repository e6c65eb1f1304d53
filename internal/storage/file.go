package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tgrelay/pkg/logx"
)

// fileStore appends records to <prefix>.deliveries.jsonl.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	p := filepath.Join(dir, base) + ".deliveries.jsonl"
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("storage opened", logx.String("path", p))
	return &fileStore{log: log, path: p, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.f).Encode(r)
}

// RecentDeliveries scans the whole file, keeping the last limit records.
func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	closed := s.f == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrDisabled
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]DeliveryRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r DeliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn final line after a crash is skipped.
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Unroll oldest..newest, then reverse.
	out := make([]DeliveryRecord, 0, len(ring))
	out = append(out, ring[next:]...)
	out = append(out, ring[:next]...)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
