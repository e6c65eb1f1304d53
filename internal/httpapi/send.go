package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tgrelay/internal/alert"
	"tgrelay/internal/routing"
	kit "tgrelay/internal/transport"
)

type sendRequest struct {
	Message   string          `json:"message"`
	ChatID    kit.Destination `json:"chat_id"`
	Language  string          `json:"language"`
	ParseMode string          `json:"parse_mode"`
}

type sendMultipleRequest struct {
	Message   string          `json:"message"`
	ChatIDs   json.RawMessage `json:"chat_ids"`
	ParseMode string          `json:"parse_mode"`
}

type formattedRequest struct {
	ChatID      kit.Destination `json:"chat_id"`
	Chain       string          `json:"chain"`
	Token       string          `json:"token"`
	Amount      float64         `json:"amount"`
	Action      string          `json:"action"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	TxHash      string          `json:"tx_hash"`
	Timestamp   string          `json:"timestamp"`
}

func (s *Server) parseMode(c *gin.Context, raw string) (kit.ParseMode, bool) {
	mode, ok := kit.ParseParseMode(raw, s.config().ParseMode)
	if !ok {
		failMsg(c, http.StatusBadRequest, "Invalid parse_mode. Must be one of Markdown, MarkdownV2, HTML, none")
	}
	return mode, ok
}

// POST /api/v1/send
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if _, ok := bindBody(c, &req); !ok {
		return
	}
	if req.Message == "" {
		failMsg(c, http.StatusBadRequest, "Missing message parameter")
		return
	}
	mode, ok := s.parseMode(c, req.ParseMode)
	if !ok {
		return
	}
	msg := s.message(req.Message, mode)
	lang := routing.ParseLanguage(req.Language)

	if req.ChatID.IsZero() && lang == routing.LangAll {
		dests, err := s.deps.Resolver.Resolve(routing.Intent{Language: routing.LangAll})
		if err != nil {
			failMsg(c, http.StatusBadRequest, "No chat groups configured")
			return
		}
		res, err := s.deps.Engine.DeliverMany(c.Request.Context(), dests, msg)
		s.respondBatch(c, "Message sent to both groups", res, err)
		return
	}

	to, ok := s.resolveOne(c, req.ChatID, lang, "Missing chat_id parameter and no default chat configured")
	if !ok {
		return
	}
	out := s.deps.Engine.DeliverOne(c.Request.Context(), to, msg)
	s.respondOne(c, "Message sent successfully", out, optional(req.Language))
}

// resolveOne picks the single destination for explicit/language/default
// routing and writes the 400 itself when nothing resolves.
func (s *Server) resolveOne(c *gin.Context, chat kit.Destination, lang routing.Language, noDest string) (kit.Destination, bool) {
	in := routing.Intent{Language: lang}
	if !chat.IsZero() {
		in.Explicit = []kit.Destination{chat}
	}
	dests, err := s.deps.Resolver.Resolve(in)
	switch {
	case errors.Is(err, routing.ErrNotConfigured):
		fail(c, http.StatusBadRequest, err)
		return kit.Destination{}, false
	case err != nil:
		failMsg(c, http.StatusBadRequest, noDest)
		return kit.Destination{}, false
	}
	return dests[0], true
}

// POST /api/v1/send/multiple
func (s *Server) handleSendMultiple(c *gin.Context) {
	var req sendMultipleRequest
	if _, ok := bindBody(c, &req); !ok {
		return
	}
	if req.Message == "" {
		failMsg(c, http.StatusBadRequest, "Missing message parameter")
		return
	}
	var ids []kit.Destination
	if err := json.Unmarshal(req.ChatIDs, &ids); err != nil || len(ids) == 0 {
		failMsg(c, http.StatusBadRequest, "chat_ids must be an array")
		return
	}
	mode, ok := s.parseMode(c, req.ParseMode)
	if !ok {
		return
	}
	// Every entry is attempted in order; empty ones ("", 0, null) are reported as failed.
	res, err := s.deps.Engine.DeliverMany(c.Request.Context(), ids, s.message(req.Message, mode))
	s.respondBatch(c, "Messages sent", res, err)
}

// POST /api/v1/send/formatted
func (s *Server) handleSendFormatted(c *gin.Context) {
	var req formattedRequest
	if _, ok := bindBody(c, &req); !ok {
		return
	}
	to, ok := s.resolveOne(c, req.ChatID, routing.LangNone, "Missing chat_id parameter")
	if !ok {
		return
	}
	text := alert.TradeSignal{
		Chain:     req.Chain,
		Token:     req.Token,
		Amount:    req.Amount,
		Action:    req.Action,
		From:      req.FromAddress,
		To:        req.ToAddress,
		TxHash:    req.TxHash,
		Timestamp: req.Timestamp,
	}.Render()
	out := s.deps.Engine.DeliverOne(c.Request.Context(), to, s.message(text, kit.ParseMarkdown))
	s.respondOne(c, "Trading signal sent successfully", out, nil)
}
