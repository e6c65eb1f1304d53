package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tgrelay/internal/delivery"
	"tgrelay/internal/health"
	"tgrelay/internal/routing"
	"tgrelay/internal/storage"
	kit "tgrelay/internal/transport"
	logx "tgrelay/pkg/logx"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type sent struct {
	To  string
	Msg kit.Message
}

type recordSender struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]error
}

func (r *recordSender) Send(ctx context.Context, to kit.Destination, msg kit.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[to.String()]; err != nil {
		return err
	}
	r.sent = append(r.sent, sent{To: to.String(), Msg: msg})
	return nil
}

func (r *recordSender) messages() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type staticHealth health.Status

func (h staticHealth) Status() health.Status { return health.Status(h) }

type fixture struct {
	srv    *Server
	sender *recordSender
	store  storage.Store
}

func newFixture(t *testing.T, cfg Config, dests routing.Config) *fixture {
	t.Helper()
	rs := &recordSender{fail: map[string]error{}}
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if cfg.ParseMode == "" {
		cfg.ParseMode = kit.ParseMarkdown
	}
	engine := delivery.New(delivery.Policy{MaxAttempts: 2}, rs, logx.Nop(), nil)
	srv := New(cfg, Deps{
		Engine:   engine,
		Resolver: routing.New(dests),
		Store:    st,
		Health:   staticHealth{Ready: true, Probes: 1},
		Bot:      "relay_bot",
		Version:  "test",
	}, logx.Nop())
	return &fixture{srv: srv, sender: rs, store: st}
}

func allDests() routing.Config {
	return routing.Config{
		Default:   kit.ChatID(-100),
		Primary:   kit.ChatID(-200),
		Secondary: kit.Destination{Handle: "@relay_en"},
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, out
}

func TestSendToDefaultChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{DisablePreview: true}, allDests())

	code, out := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"hello"}`)
	if code != http.StatusOK || out["success"] != true || out["message"] != "Message sent successfully" {
		t.Fatalf("code=%d body=%v", code, out)
	}
	if out["chat_id"] != float64(-100) {
		t.Fatalf("chat_id = %v, want -100", out["chat_id"])
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || msgs[0].To != "-100" || msgs[0].Msg.ParseMode != kit.ParseMarkdown || !msgs[0].Msg.DisablePreview {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestSendRouting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())

	cases := []struct {
		body   string
		wantTo string
	}{
		{`{"message":"x","chat_id":"@explicit","language":"en"}`, "@explicit"},
		{`{"message":"x","chat_id":"12345"}`, "12345"},
		{`{"message":"x","language":"zh"}`, "-200"},
		{`{"message":"x","language":"en"}`, "@relay_en"},
		{`{"message":"x","language":"klingon"}`, "-100"},
	}
	for _, tc := range cases {
		code, out := f.do(t, http.MethodPost, "/api/v1/send", tc.body)
		if code != http.StatusOK {
			t.Fatalf("%s: code=%d body=%v", tc.body, code, out)
		}
		msgs := f.sender.messages()
		if got := msgs[len(msgs)-1].To; got != tc.wantTo {
			t.Fatalf("%s: sent to %s, want %s", tc.body, got, tc.wantTo)
		}
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, routing.Config{Primary: kit.ChatID(-200)})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "Request body cannot be empty"},
		{"empty object", "{}", "Request body cannot be empty"},
		{"not an object", "[1,2]", "Request body must be a JSON object"},
		{"no message", `{"chat_id":1}`, "Missing message parameter"},
		{"no default", `{"message":"x"}`, "Missing chat_id parameter and no default chat configured"},
		{"unconfigured language", `{"message":"x","language":"en"}`, "secondary destination is not configured (set destinations.secondary)"},
		{"bad parse mode", `{"message":"x","chat_id":1,"parse_mode":"bbcode"}`, "Invalid parse_mode"},
	}
	for _, tc := range cases {
		code, out := f.do(t, http.MethodPost, "/api/v1/send", tc.body)
		if code != http.StatusBadRequest || out["success"] != false {
			t.Fatalf("%s: code=%d body=%v", tc.name, code, out)
		}
		if msg, _ := out["error"].(string); !strings.HasPrefix(msg, tc.want) {
			t.Fatalf("%s: error = %q, want prefix %q", tc.name, msg, tc.want)
		}
	}
	if n := len(f.sender.messages()); n != 0 {
		t.Fatalf("validation failures sent %d messages", n)
	}
}

func TestSendBothGroups(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())
	f.sender.fail["@relay_en"] = kit.NewPermanent(errors.New("chat not found"), "chat not found")

	code, out := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"gm","language":"both"}`)
	if code != http.StatusOK || out["message"] != "Message sent to both groups" {
		t.Fatalf("code=%d body=%v", code, out)
	}
	if out["sent_count"] != float64(1) || out["failed_count"] != float64(1) {
		t.Fatalf("counts = %v/%v", out["sent_count"], out["failed_count"])
	}
	results := out["results"].(map[string]any)
	if failed := results["failed"].([]any); len(failed) != 1 || failed[0] != "@relay_en" {
		t.Fatalf("failed = %v", failed)
	}
	if out["batch_id"] == "" {
		t.Fatal("missing batch_id")
	}

	empty := newFixture(t, Config{}, routing.Config{Default: kit.ChatID(1)})
	code, out = empty.do(t, http.MethodPost, "/api/v1/send", `{"message":"gm","language":"both"}`)
	if code != http.StatusBadRequest || out["error"] != "No chat groups configured" {
		t.Fatalf("no groups: code=%d body=%v", code, out)
	}
}

func TestSendFailureIsServerError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())
	f.sender.fail["-100"] = kit.NewPermanent(errors.New("bot was blocked"), "blocked")

	code, out := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`)
	if code != http.StatusInternalServerError || out["error"] != "Failed to send message" {
		t.Fatalf("code=%d body=%v", code, out)
	}

	recs, err := f.store.RecentDeliveries(context.Background(), 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("audit: %v, %v", recs, err)
	}
	if r := recs[0]; r.Status != "failed" || r.Failed != 1 || r.Route != "/api/v1/send" || r.FailedDestinations[0] != "-100" {
		t.Fatalf("audit record = %+v", r)
	}
}

func TestSendMultiple(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())
	f.sender.fail["2"] = kit.NewPermanent(errors.New("chat not found"), "chat not found")

	code, out := f.do(t, http.MethodPost, "/api/v1/send/multiple", `{"message":"x","chat_ids":[1,"2","@chan",1]}`)
	if code != http.StatusOK || out["sent_count"] != float64(3) || out["failed_count"] != float64(1) {
		t.Fatalf("code=%d body=%v", code, out)
	}
	var order []string
	for _, m := range f.sender.messages() {
		order = append(order, m.To)
	}
	if strings.Join(order, ",") != "1,@chan,1" {
		t.Fatalf("order = %v", order)
	}

	// Empty entries are attempted and reported, so the counts match the request.
	code, out = f.do(t, http.MethodPost, "/api/v1/send/multiple", `{"message":"x","chat_ids":[3,"",0,null]}`)
	if code != http.StatusOK || out["sent_count"] != float64(1) || out["failed_count"] != float64(3) {
		t.Fatalf("code=%d body=%v", code, out)
	}

	for _, body := range []string{
		`{"message":"x","chat_ids":"1"}`,
		`{"message":"x","chat_ids":[]}`,
		`{"message":"x"}`,
	} {
		code, out := f.do(t, http.MethodPost, "/api/v1/send/multiple", body)
		if code != http.StatusBadRequest || out["error"] != "chat_ids must be an array" {
			t.Fatalf("%s: code=%d body=%v", body, code, out)
		}
	}
}

func TestSendFormatted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())

	code, out := f.do(t, http.MethodPost, "/api/v1/send/formatted", `{"chain":"Solana","token":"BONK","amount":12345.6}`)
	if code != http.StatusOK || out["message"] != "Trading signal sent successfully" {
		t.Fatalf("code=%d body=%v", code, out)
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || msgs[0].To != "-100" {
		t.Fatalf("sent = %+v", msgs)
	}
	text := msgs[0].Msg.Text
	for _, want := range []string{"Solana", "BONK", "12,345.60", "Trade", "N/A"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text missing %q:\n%s", want, text)
		}
	}

	none := newFixture(t, Config{}, routing.Config{})
	code, out = none.do(t, http.MethodPost, "/api/v1/send/formatted", `{"token":"X"}`)
	if code != http.StatusBadRequest || out["error"] != "Missing chat_id parameter" {
		t.Fatalf("no chat: code=%d body=%v", code, out)
	}
}

func TestWhaleSendLocalized(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())

	body := `{"message_type":1,"action":1,"direction":2,"value_usd":2150000,"token":"BTC","trader_address":"0x1234567890abcdef1234567890abcdef12345678"}`
	code, out := f.do(t, http.MethodPost, "/api/v1/whale/send", body)
	if code != http.StatusOK || out["message"] != "Whale trade alert sent to multiple groups" || out["sent_count"] != float64(2) {
		t.Fatalf("code=%d body=%v", code, out)
	}
	msgs := f.sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	if msgs[0].To != "-200" || !strings.Contains(msgs[0].Msg.Text, "巨鲸交易提醒") || !strings.Contains(msgs[0].Msg.Text, "做空 (Short)") {
		t.Fatalf("primary got %+v", msgs[0])
	}
	if msgs[1].To != "@relay_en" || !strings.Contains(msgs[1].Msg.Text, "Whale Trade Alert") || !strings.Contains(msgs[1].Msg.Text, "$2,150,000") {
		t.Fatalf("secondary got %+v", msgs[1])
	}
	for _, m := range msgs {
		if m.Msg.ParseMode != kit.ParseMarkdown {
			t.Fatalf("parse mode = %q", m.Msg.ParseMode)
		}
	}
}

func TestWhaleSendValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())

	cases := []struct {
		body string
		want string
	}{
		{`{"message_type":3}`, "Invalid message_type. Must be 1 (trade) or 2 (liquidation)"},
		{`{"message_type":2,"direction":1,"value_usd":1,"token":"ETH"}`, "Missing required fields: trader_address, liquidation_price"},
		{`{"message_type":1,"direction":1,"value_usd":1,"token":"ETH","trader_address":"0x1"}`, "Missing required fields: action"},
		{`{"message_type":1,"action":1,"direction":5,"value_usd":1,"token":"ETH","trader_address":"0x1"}`, "Invalid direction. Must be 1 (long) or 2 (short)"},
		{`{"message_type":1,"action":9,"direction":1,"value_usd":1,"token":"ETH","trader_address":"0x1"}`, "Invalid action. Must be 1 (buy) or 2 (sell)"},
	}
	for _, tc := range cases {
		code, out := f.do(t, http.MethodPost, "/api/v1/whale/send", tc.body)
		if code != http.StatusBadRequest || out["error"] != tc.want {
			t.Fatalf("%s: code=%d body=%v", tc.body, code, out)
		}
	}
}

func TestWhaleLiquidationCoded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, routing.Config{Secondary: kit.ChatID(-300)})

	body := `{"message_type":2,"direction":1,"value_usd":500000,"token":"ETH","trader_address":"0xabc","liquidation_price":2980.5}`
	code, out := f.do(t, http.MethodPost, "/api/v1/whale/send", body)
	if code != http.StatusOK || out["message"] != "Whale liquidation alert sent to multiple groups" || out["sent_count"] != float64(1) {
		t.Fatalf("code=%d body=%v", code, out)
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Msg.Text, "Liquidation Alert") || !strings.Contains(msgs[0].Msg.Text, "$2,980.50") {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestWhaleTradeAndLiquidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())

	trade := `{"action":"Long","value_usd":1000,"token":"SOL","direction":"Long","trader_address":"0xdef","language":"en"}`
	code, out := f.do(t, http.MethodPost, "/api/v1/whale/trade", trade)
	if code != http.StatusOK || out["message"] != "Whale trade alert sent successfully" || out["language"] != "en" {
		t.Fatalf("trade: code=%d body=%v", code, out)
	}
	if last := f.sender.messages()[0]; last.To != "@relay_en" || !strings.Contains(last.Msg.Text, "Whale Trade Alert") {
		t.Fatalf("trade sent %+v", last)
	}

	code, out = f.do(t, http.MethodPost, "/api/v1/whale/trade", `{"token":"SOL"}`)
	if code != http.StatusBadRequest || out["error"] != "Missing required fields: action, value_usd, direction, trader_address" {
		t.Fatalf("missing: code=%d body=%v", code, out)
	}

	liq := `{"position_type":"做多","token":"ETH","position_value":1,"liquidation_price":2,"trader_address":"0x1","language":"both"}`
	code, out = f.do(t, http.MethodPost, "/api/v1/whale/liquidation", liq)
	if code != http.StatusOK || out["message"] != "Liquidation alert sent to multiple groups" || out["sent_count"] != float64(2) {
		t.Fatalf("liquidation: code=%d body=%v", code, out)
	}
	msgs := f.sender.messages()
	if !strings.Contains(msgs[1].Msg.Text, "强平提醒") || !strings.Contains(msgs[2].Msg.Text, "Liquidation Alert") {
		t.Fatalf("per-language rendering wrong: %q / %q", msgs[1].Msg.Text, msgs[2].Msg.Text)
	}

	bare := newFixture(t, Config{}, routing.Config{})
	code, out = bare.do(t, http.MethodPost, "/api/v1/whale/liquidation", `{"position_type":"x","token":"ETH","position_value":1,"liquidation_price":2,"trader_address":"0x1"}`)
	if code != http.StatusBadRequest || out["error"] != "No chat_id specified" {
		t.Fatalf("no chat: code=%d body=%v", code, out)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Token: "s3cret"}, allDests())

	if code, _ := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`); code != http.StatusUnauthorized {
		t.Fatalf("no token: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`, "Authorization", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`, "Authorization", "Bearer s3cret"); code != http.StatusOK {
		t.Fatalf("bearer: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/v1/send?token=s3cret", `{"message":"x"}`); code != http.StatusOK {
		t.Fatalf("query token: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/health", ""); code != http.StatusOK {
		t.Fatalf("health must stay open: code=%d", code)
	}

	f.srv.Apply(Config{Token: "rotated", ParseMode: kit.ParseHTML})
	if code, _ := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`, "Authorization", "Bearer s3cret"); code != http.StatusUnauthorized {
		t.Fatalf("old token after rotation: code=%d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`, "Authorization", "Bearer rotated"); code != http.StatusOK {
		t.Fatalf("rotated token: code=%d", code)
	}
	msgs := f.sender.messages()
	if mode := msgs[len(msgs)-1].Msg.ParseMode; mode != kit.ParseHTML {
		t.Fatalf("parse mode after Apply = %q", mode)
	}
}

func TestHealthPingAndStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())

	code, out := f.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK || out["status"] != "ok" || out["telegram_ready"] != true || out["bot"] != "@relay_bot" || out["version"] != "test" {
		t.Fatalf("health: code=%d body=%v", code, out)
	}
	code, out = f.do(t, http.MethodGet, "/ping", "")
	if code != http.StatusOK || out["message"] != "pong" {
		t.Fatalf("ping: code=%d body=%v", code, out)
	}

	f.do(t, http.MethodPost, "/api/v1/send", `{"message":"x"}`)
	code, out = f.do(t, http.MethodGet, "/api/v1/status", "")
	if code != http.StatusOK {
		t.Fatalf("status: code=%d body=%v", code, out)
	}
	stats := out["stats"].(map[string]any)
	if stats["sent"] != float64(1) {
		t.Fatalf("stats = %v", stats)
	}
	dests := out["destinations"].(map[string]any)
	if dests["primary"] != float64(-200) || dests["secondary"] != "@relay_en" {
		t.Fatalf("destinations = %v", dests)
	}
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, Deps{
		Engine:   delivery.New(delivery.DefaultPolicy(), &recordSender{}, logx.Nop(), nil),
		Resolver: routing.New(routing.Config{}),
		Health:   staticHealth{Ready: false, LastError: "timeout", LastProbe: time.Now()},
	}, logx.Nop())
	f := &fixture{srv: srv}
	_, out := f.do(t, http.MethodGet, "/health", "")
	if out["status"] != "degraded" || out["telegram_ready"] != false || out["last_error"] != "timeout" {
		t.Fatalf("health = %v", out)
	}
}

func TestDeliveriesNewestFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, allDests())
	f.do(t, http.MethodPost, "/api/v1/send", `{"message":"one"}`)
	f.do(t, http.MethodPost, "/api/v1/send/multiple", `{"message":"two","chat_ids":[1,2]}`)

	code, out := f.do(t, http.MethodGet, "/api/v1/deliveries?limit=10", "")
	if code != http.StatusOK || out["enabled"] != true {
		t.Fatalf("code=%d body=%v", code, out)
	}
	recs := out["deliveries"].([]any)
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	first := recs[0].(map[string]any)
	if first["route"] != "/api/v1/send/multiple" || first["sent"] != float64(2) || first["status"] != "completed" {
		t.Fatalf("newest record = %v", first)
	}
	if _, ok := first["text"]; ok {
		t.Fatal("message text must not be stored")
	}

	if code, _ := f.do(t, http.MethodGet, "/api/v1/deliveries?limit=abc", ""); code != http.StatusBadRequest {
		t.Fatalf("bad limit: code=%d", code)
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Addr: "127.0.0.1:0"}, allDests())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.srv.Start(ctx)

	select {
	case <-f.srv.Bound():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not bind")
	}
	resp, err := http.Get("http://" + f.srv.Addr() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	f.srv.Stop(sctx)
	if f.srv.Supervisor() != nil || f.srv.Addr() != "" {
		t.Fatal("server state not cleared after Stop")
	}
}

func TestPprofMount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Pprof: true, Token: "tok"}, allDests())

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("unauthenticated pprof: code=%d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline?token=tok", nil)
	w = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cmdline: code=%d", w.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:5001": true,
		"localhost:80":   true,
		"[::1]:5001":     true,
		"0.0.0.0:5001":   false,
		":5001":          false,
		"10.0.0.2:5001":  false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
