package app

import (
	"context"
	"fmt"

	"tgrelay/internal/config"
	"tgrelay/internal/delivery"
	"tgrelay/internal/routing"
	kit "tgrelay/internal/transport"
	"tgrelay/internal/transport/telegram"
	logx "tgrelay/pkg/logx"
)

// SendRequest is a one-off delivery from the command line.
type SendRequest struct {
	To        []string
	Language  string
	ParseMode string
	Text      string
}

// SendOnce loads the config, resolves the destinations and delivers text
// through the same retry policy the server uses. sender may be nil, in which
// case a Telegram sender is built from the config.
func SendOnce(ctx context.Context, cfgPath string, sender kit.Sender, req SendRequest) (delivery.BatchResult, error) {
	st, log, err := loadOnce(cfgPath)
	if err != nil {
		return delivery.BatchResult{}, err
	}
	mode, ok := kit.ParseParseMode(req.ParseMode, st.parseMode())
	if !ok {
		return delivery.BatchResult{}, fmt.Errorf("unknown parse mode %q", req.ParseMode)
	}
	dests, err := routing.New(st.routing()).Resolve(routing.Intent{
		Explicit: kit.ParseDestinations(req.To),
		Language: routing.ParseLanguage(req.Language),
	})
	if err != nil {
		return delivery.BatchResult{}, err
	}
	if sender == nil {
		tg, err := telegram.New(st.telegram(), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return delivery.BatchResult{}, err
		}
		sender = tg
	}
	engine := delivery.New(st.policy(), sender, log.With(logx.String("comp", "delivery")), nil)
	return engine.DeliverMany(ctx, dests, kit.Message{
		Text:           req.Text,
		ParseMode:      mode,
		DisablePreview: st.disablePreview(),
	})
}

// RecentChats lists chats the bot has seen recently, to find chat IDs for
// the destinations section.
func RecentChats(ctx context.Context, cfgPath string) ([]telegram.Chat, error) {
	st, log, err := loadOnce(cfgPath)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(st.telegram(), log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	return tg.RecentChats(ctx)
}

func loadOnce(cfgPath string) (settings, logx.Logger, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return settings{}, logx.Logger{}, err
	}
	st, err := newSettings(cfg)
	if err != nil {
		return settings{}, logx.Logger{}, err
	}
	return st, logx.NewConsole(cfg.Logging.Level), nil
}
