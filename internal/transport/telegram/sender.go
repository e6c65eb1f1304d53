package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "tgrelay/internal/transport"
	logx "tgrelay/pkg/logx"
)

var (
	ErrEmptyToken      = errors.New("telegram token is empty")
	ErrNoDestination   = errors.New("telegram: empty destination")
	ErrSenderNotActive = errors.New("telegram: sender not initialized")
)

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string
	// SendTimeout bounds a single HTTP call to the Bot API.
	SendTimeout time.Duration
	// RatePerSec caps outgoing messages across all destinations.
	RatePerSec int
	// Offline skips the getMe handshake. Used by tests and dry runs.
	Offline bool
}

// Sender delivers messages through the Telegram Bot API.
// It performs one attempt per Send call; retries belong to the caller.
type Sender struct {
	bot     *tele.Bot
	log     logx.Logger
	limiter *rate.Limiter
}

// New connects to the Bot API and validates the token (getMe).
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrEmptyToken
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}

	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		URL:     strings.TrimSpace(cfg.APIURL),
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}

	s := &Sender{
		bot:     b,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	if b.Me != nil && b.Me.Username != "" {
		log.Info("telegram bot ready", logx.String("bot", "@"+b.Me.Username))
	}
	return s, nil
}

// Username returns the bot's username (without "@"), if known.
func (s *Sender) Username() string {
	if s == nil || s.bot == nil || s.bot.Me == nil {
		return ""
	}
	return s.bot.Me.Username
}

// Send implements transport.Sender.
func (s *Sender) Send(ctx context.Context, to kit.Destination, msg kit.Message) error {
	if s == nil || s.bot == nil {
		return ErrSenderNotActive
	}
	if to.IsZero() {
		return ErrNoDestination
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return kit.NewTransient(err, "rate limiter")
	}

	opts := &tele.SendOptions{
		ParseMode:             tele.ParseMode(msg.ParseMode),
		DisableWebPagePreview: msg.DisablePreview,
	}
	rcpt := recipient(to)
	// Chunks counted by a previous attempt of this delivery are not resent.
	progress := kit.ProgressFrom(ctx)
	chunks := splitText(msg.Text, textLimit, string(msg.ParseMode))
	for i := progress.Sent(); i < len(chunks); i++ {
		chunk := chunks[i]
		if err := s.call(ctx, func() error {
			_, err := s.bot.Send(rcpt, chunk, opts)
			return err
		}); err != nil {
			if i > 0 && progress == nil && ctx.Err() == nil {
				// Without a cursor a retry would repeat the chunks already posted.
				return kit.NewPermanent(err, fmt.Sprintf("partially delivered (%d/%d parts)", i, len(chunks)))
			}
			return err
		}
		progress.Advance()
	}
	return nil
}

// Ping checks Bot API reachability and token validity.
func (s *Sender) Ping(ctx context.Context) error {
	if s == nil || s.bot == nil {
		return ErrSenderNotActive
	}
	return s.call(ctx, func() error {
		_, err := s.bot.Raw("getMe", nil)
		return err
	})
}

// Chat is a chat the bot has seen in recent updates.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// RecentChats lists distinct chats from the last pending updates.
// It does not acknowledge updates, so it is safe to run next to other consumers.
func (s *Sender) RecentChats(ctx context.Context) ([]Chat, error) {
	if s == nil || s.bot == nil {
		return nil, ErrSenderNotActive
	}
	var raw []byte
	err := s.call(ctx, func() error {
		b, err := s.bot.Raw("getUpdates", map[string]string{"offset": "-100", "timeout": "0"})
		raw = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseUpdatesChats(raw)
}

type updateChat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type chatHolder struct {
	Chat *updateChat `json:"chat"`
}

func parseUpdatesChats(raw []byte) ([]Chat, error) {
	var resp struct {
		Result []struct {
			Message       *chatHolder `json:"message"`
			EditedMessage *chatHolder `json:"edited_message"`
			ChannelPost   *chatHolder `json:"channel_post"`
			MyChatMember  *chatHolder `json:"my_chat_member"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("getUpdates: decode: %w", err)
	}
	seen := map[int64]bool{}
	out := make([]Chat, 0, len(resp.Result))
	for _, u := range resp.Result {
		for _, h := range []*chatHolder{u.Message, u.EditedMessage, u.ChannelPost, u.MyChatMember} {
			if h == nil || h.Chat == nil || seen[h.Chat.ID] {
				continue
			}
			seen[h.Chat.ID] = true
			c := h.Chat
			out = append(out, Chat{
				ID:       c.ID,
				Type:     c.Type,
				Title:    c.Title,
				Username: c.Username,
				Name:     strings.TrimSpace(c.FirstName + " " + c.LastName),
			})
		}
	}
	return out, nil
}

// call runs a blocking Bot API call but returns as soon as ctx is done.
// The HTTP client timeout bounds the abandoned call.
func (s *Sender) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return kit.NewTransient(ctx.Err(), "timeout")
		}
		return ctx.Err()
	}
}

var permanentErrors = []struct {
	err    error
	reason string
}{
	{tele.ErrChatNotFound, "chat not found"},
	{tele.ErrBlockedByUser, "bot blocked by user"},
	{tele.ErrKickedFromGroup, "bot removed from group"},
	{tele.ErrKickedFromSuperGroup, "bot removed from supergroup"},
	{tele.ErrUserIsDeactivated, "user deactivated"},
	{tele.ErrNotStartedByUser, "bot not started by user"},
}

// classify maps Bot API failures onto delivery error kinds.
// Every failure reported by the client is retryable unless the destination
// is known to be unreachable for good.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, p := range permanentErrors {
		if errors.Is(err, p.err) {
			return kit.NewPermanent(err, p.reason)
		}
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return kit.WithRetryAfter(err, "rate limited", time.Duration(fe.RetryAfter)*time.Second)
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return kit.NewPermanent(fmt.Errorf("%w (migrated to %d)", err, ge.MigratedTo), "chat migrated")
	}
	return kit.NewTransient(err, "")
}

type handleRecipient string

func (h handleRecipient) Recipient() string { return string(h) }

func recipient(d kit.Destination) tele.Recipient {
	if d.Handle != "" {
		return handleRecipient(d.Handle)
	}
	return tele.ChatID(d.ID)
}
