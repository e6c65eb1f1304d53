package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tgrelay/internal/alert"
	"tgrelay/internal/delivery"
	"tgrelay/internal/routing"
	kit "tgrelay/internal/transport"
)

type whaleSendRequest struct {
	MessageType      int     `json:"message_type"`
	Action           int     `json:"action"`
	Direction        int     `json:"direction"`
	ValueUSD         float64 `json:"value_usd"`
	Token            string  `json:"token"`
	TraderAddress    string  `json:"trader_address"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

type whaleTradeRequest struct {
	Action        string          `json:"action"`
	ValueUSD      float64         `json:"value_usd"`
	Token         string          `json:"token"`
	Direction     string          `json:"direction"`
	TraderAddress string          `json:"trader_address"`
	ChatID        kit.Destination `json:"chat_id"`
	Language      string          `json:"language"`
}

type liquidationRequest struct {
	PositionType     string          `json:"position_type"`
	Token            string          `json:"token"`
	PositionValue    float64         `json:"position_value"`
	LiquidationPrice float64         `json:"liquidation_price"`
	TraderAddress    string          `json:"trader_address"`
	ChatID           kit.Destination `json:"chat_id"`
	Language         string          `json:"language"`
}

func requireFields(c *gin.Context, missing []string) bool {
	if len(missing) == 0 {
		return true
	}
	failMsg(c, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
	return false
}

// slotLang maps the configured language chats to the language they read.
func slotLang(slot routing.Slot, def alert.Lang) alert.Lang {
	switch slot {
	case routing.SlotPrimary:
		return alert.LangZH
	case routing.SlotSecondary:
		return alert.LangEN
	default:
		return def
	}
}

// deliverLocalized renders one message per language chat (primary gets
// Chinese, secondary gets English) and delivers them as one batch.
func (s *Server) deliverLocalized(c *gin.Context, okMsg string, render func(alert.Lang) string) {
	targets, err := s.deps.Resolver.ResolveTargets(routing.Intent{Language: routing.LangAll})
	if err != nil {
		failMsg(c, http.StatusBadRequest, "No chat groups configured")
		return
	}
	envs := make([]delivery.Envelope, 0, len(targets))
	for _, t := range targets {
		text := render(slotLang(t.Slot, alert.LangZH))
		envs = append(envs, delivery.Envelope{To: t.Destination, Msg: s.message(text, kit.ParseMarkdown)})
	}
	res, err := s.deps.Engine.DeliverEach(c.Request.Context(), envs)
	s.respondBatch(c, okMsg, res, err)
}

// POST /api/v1/whale/send
func (s *Server) handleWhaleSend(c *gin.Context) {
	var req whaleSendRequest
	fields, ok := bindBody(c, &req)
	if !ok {
		return
	}
	coded := alert.Coded{Kind: req.MessageType}
	if req.MessageType != alert.KindTrade && req.MessageType != alert.KindLiquidation {
		fail(c, http.StatusBadRequest, coded.Validate())
		return
	}
	required := []string{"direction", "value_usd", "token", "trader_address"}
	if req.MessageType == alert.KindTrade {
		required = append(required, "action")
	} else {
		required = append(required, "liquidation_price")
	}
	if !requireFields(c, missingFields(fields, required...)) {
		return
	}

	coded = alert.Coded{
		Kind:             req.MessageType,
		Action:           req.Action,
		Direction:        req.Direction,
		ValueUSD:         req.ValueUSD,
		Token:            req.Token,
		TraderAddress:    req.TraderAddress,
		LiquidationPrice: req.LiquidationPrice,
	}
	if err := coded.Validate(); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	s.deliverLocalized(c, "Whale "+coded.KindName()+" alert sent to multiple groups", coded.Render)
}

// POST /api/v1/whale/trade
func (s *Server) handleWhaleTrade(c *gin.Context) {
	var req whaleTradeRequest
	fields, ok := bindBody(c, &req)
	if !ok {
		return
	}
	if !requireFields(c, missingFields(fields, "action", "value_usd", "token", "direction", "trader_address")) {
		return
	}
	trade := alert.WhaleTrade{
		Action:        req.Action,
		Direction:     req.Direction,
		ValueUSD:      req.ValueUSD,
		Token:         req.Token,
		TraderAddress: req.TraderAddress,
	}
	s.deliverRendered(c, req.ChatID, req.Language, trade.Render,
		"Whale trade alert sent successfully", "Whale trade alert sent to multiple groups")
}

// POST /api/v1/whale/liquidation
func (s *Server) handleWhaleLiquidation(c *gin.Context) {
	var req liquidationRequest
	fields, ok := bindBody(c, &req)
	if !ok {
		return
	}
	if !requireFields(c, missingFields(fields, "position_type", "token", "position_value", "liquidation_price", "trader_address")) {
		return
	}
	liq := alert.Liquidation{
		PositionType:     req.PositionType,
		Token:            req.Token,
		PositionValue:    req.PositionValue,
		LiquidationPrice: req.LiquidationPrice,
		TraderAddress:    req.TraderAddress,
	}
	s.deliverRendered(c, req.ChatID, req.Language, liq.Render,
		"Liquidation alert sent successfully", "Liquidation alert sent to multiple groups")
}

// deliverRendered sends a pre-labelled alert. Without chat_id, language
// "both" fans out per language; otherwise one chat gets the requested
// language (Chinese by default).
func (s *Server) deliverRendered(c *gin.Context, chat kit.Destination, language string, render func(alert.Lang) string, okOne, okMany string) {
	route := routing.ParseLanguage(language)
	if chat.IsZero() && route == routing.LangAll {
		s.deliverLocalized(c, okMany, render)
		return
	}

	lang, _ := alert.ParseLang(language, alert.LangZH)
	in := routing.Intent{Language: route}
	if !chat.IsZero() {
		in.Explicit = []kit.Destination{chat}
	}
	targets, err := s.deps.Resolver.ResolveTargets(in)
	if err != nil {
		if errors.Is(err, routing.ErrNotConfigured) {
			fail(c, http.StatusBadRequest, err)
			return
		}
		failMsg(c, http.StatusBadRequest, "No chat_id specified")
		return
	}
	t := targets[0]
	out := s.deps.Engine.DeliverOne(c.Request.Context(), t.Destination, s.message(render(lang), kit.ParseMarkdown))
	s.respondOne(c, okOne, out, string(lang))
}
