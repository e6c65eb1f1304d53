package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tgrelay/internal/delivery"
	kit "tgrelay/internal/transport"
	logx "tgrelay/pkg/logx"
)

// fakeBotAPI answers sendMessage. fail decides, per 1-based call number,
// which Bot API error body (if any) to return.
type fakeBotAPI struct {
	mu        sync.Mutex
	calls     int
	delivered []string
	fail      func(call int) (status int, body string)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	var params map[string]string
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.fail != nil {
		if status, body := f.fail(call); body != "" {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, params["text"])
	f.mu.Unlock()
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"group"}}}`))
}

func (f *fakeBotAPI) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.delivered...)
}

func newFakeSender(t *testing.T, api *fakeBotAPI) *Sender {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	s, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true, SendTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

const serverError = `{"ok":false,"error_code":500,"description":"Internal Server Error"}`

func twoChunkText() string {
	return strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
}

func TestSendDeliversChunks(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{}
	s := newFakeSender(t, api)

	if err := s.Send(context.Background(), kit.ChatID(-100), kit.Message{Text: twoChunkText()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls, got := api.snapshot()
	if calls != 2 || len(got) != 2 {
		t.Fatalf("calls = %d, delivered = %d", calls, len(got))
	}
	if !strings.HasPrefix(got[0], "a") || !strings.HasPrefix(got[1], "b") {
		t.Fatal("chunks delivered out of order")
	}
}

func TestRetryResumesAfterDeliveredChunks(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{fail: func(call int) (int, string) {
		if call == 2 {
			return http.StatusInternalServerError, serverError
		}
		return 0, ""
	}}
	s := newFakeSender(t, api)
	e := delivery.New(delivery.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, s, logx.Nop(), nil)

	o := e.DeliverOne(context.Background(), kit.ChatID(-100), kit.Message{Text: twoChunkText()})
	if !o.Succeeded || o.Attempts != 2 {
		t.Fatalf("outcome = %+v", o)
	}
	calls, got := api.snapshot()
	if calls != 3 {
		t.Fatalf("sendMessage calls = %d, want 3", calls)
	}
	if len(got) != 2 || !strings.HasPrefix(got[0], "a") || !strings.HasPrefix(got[1], "b") {
		t.Fatalf("delivered %d chunks, want each part exactly once", len(got))
	}
}

func TestSendWithoutCursorStopsAfterPartialDelivery(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{fail: func(call int) (int, string) {
		if call == 2 {
			return http.StatusInternalServerError, serverError
		}
		return 0, ""
	}}
	s := newFakeSender(t, api)

	err := s.Send(context.Background(), kit.ChatID(-100), kit.Message{Text: twoChunkText()})
	c, de := kit.Classify(err)
	if c != kit.ClassPermanent || !strings.HasPrefix(de.Reason, "partially delivered") {
		t.Fatalf("class = %q, err = %v", c, err)
	}
}

func TestSendMigratedChatIsPermanent(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{fail: func(int) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,` +
			`"description":"Bad Request: group chat was upgraded to a supergroup chat",` +
			`"parameters":{"migrate_to_chat_id":-100123456789}}`
	}}
	s := newFakeSender(t, api)
	e := delivery.New(delivery.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, s, logx.Nop(), nil)

	o := e.DeliverOne(context.Background(), kit.ChatID(-42), kit.Message{Text: "hi"})
	if o.Succeeded || o.Attempts != 1 || o.Class != kit.ClassPermanent || o.Reason != "chat migrated" {
		t.Fatalf("outcome = %+v", o)
	}
	if !strings.Contains(o.Error, "-100123456789") {
		t.Fatalf("error %q does not name the new chat id", o.Error)
	}
}

func TestSendTransientServerError(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{fail: func(int) (int, string) { return http.StatusInternalServerError, serverError }}
	s := newFakeSender(t, api)

	err := s.Send(context.Background(), kit.ChatID(-100), kit.Message{Text: "hi"})
	if c, _ := kit.Classify(err); c != kit.ClassTransient {
		t.Fatalf("class = %q, err = %v", c, err)
	}
}
