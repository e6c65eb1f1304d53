package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tgrelay/internal/config"
	kit "tgrelay/internal/transport"
)

var envKeys = []string{"BOT_TOKEN", "CHAT_ID", "CHAT_ID_ZH", "CHAT_ID_EN", "API_HOST", "API_PORT", "API_DEBUG", "API_TOKEN", "LOG_LEVEL"}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

type memSender struct {
	mu   sync.Mutex
	sent []string
}

func (m *memSender) Send(ctx context.Context, to kit.Destination, msg kit.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, to.String()+"|"+msg.Text)
	m.mu.Unlock()
	return nil
}

func (m *memSender) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

const baseConfig = `{
  "telegram": {"token": "123:abc"},
  "destinations": {"default": %DEFAULT%, "primary": -200, "secondary": "@relay_en"},
  "delivery": {"max_attempts": 2, "base_delay": "1ms", "inter_send_delay": "1ms"},
  "api": {"addr": "127.0.0.1:0", "token": "tok", "shutdown_timeout": "2s"},
  "logging": {"level": "error", "console": false},
  "health": {"probe": "off"}
}`

func writeConfig(t *testing.T, path, def string) {
	t.Helper()
	body := strings.ReplaceAll(baseConfig, "%DEFAULT%", def)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestSettingsMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.Token = "x"
	cfg.Storage = &config.StorageConfig{Driver: "sqlite", Path: "a.db", Retention: "720h"}
	st, err := newSettings(cfg)
	if err != nil {
		t.Fatalf("newSettings: %v", err)
	}
	p := st.policy()
	if p.MaxAttempts != 3 || p.BaseDelay != time.Second || p.AttemptTimeout != 10*time.Second || p.InterSendDelay != 100*time.Millisecond {
		t.Fatalf("policy = %+v", p)
	}
	h := st.http()
	if h.Addr != config.DefaultAddr || h.ParseMode != kit.ParseMarkdown || !h.DisablePreview {
		t.Fatalf("http = %+v", h)
	}
	sc, ok := st.storage()
	if !ok || sc.Driver != "sqlite" || sc.Retention != 720*time.Hour {
		t.Fatalf("storage = %+v, %v", sc, ok)
	}
	cfg.Storage.Driver = "none"
	if _, ok := st.storage(); ok {
		t.Fatal("driver none should disable storage")
	}
	if hc := st.health(); hc.Spec != config.DefaultProbe {
		t.Fatalf("health = %+v", hc)
	}
}

func TestSendOnce(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "-100")
	ms := &memSender{}

	res, err := SendOnce(context.Background(), path, ms, SendRequest{Language: "both", Text: "gm"})
	if err != nil {
		t.Fatalf("SendOnce: %v", err)
	}
	if res.SentCount() != 2 {
		t.Fatalf("sent = %d", res.SentCount())
	}
	got := ms.all()
	if got[0] != "-200|gm" || got[1] != "@relay_en|gm" {
		t.Fatalf("sent = %v", got)
	}

	if _, err := SendOnce(context.Background(), path, ms, SendRequest{To: []string{"1"}, ParseMode: "bbcode", Text: "x"}); err == nil {
		t.Fatal("expected parse mode error")
	}
}

func TestAppServesAndReloads(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "-100")
	ms := &memSender{}

	a, err := New(path, WithSender(ms), WithVersion("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, StopAppStop)
	}()

	select {
	case <-a.HTTP().Bound():
	case <-time.After(5 * time.Second):
		t.Fatal("http api did not bind")
	}
	req, _ := http.NewRequest(http.MethodPost, "http://"+a.HTTP().Addr()+"/api/v1/send", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := ms.all(); len(got) != 1 || got[0] != "-100|hello" {
		t.Fatalf("sent = %v", got)
	}

	// Wait for the watcher to be armed, then rewrite until the new default lands.
	want := kit.ChatID(-300)
	deadline := time.Now().Add(5 * time.Second)
	for a.Resolver().Config().Default != want {
		if time.Now().After(deadline) {
			t.Fatalf("reload not applied; default = %v", a.Resolver().Config().Default)
		}
		writeConfig(t, path, "-300")
		time.Sleep(300 * time.Millisecond)
	}
}
