// Package alert renders trading alerts into Telegram Markdown messages.
package alert

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Lang is the language an alert is rendered in.
type Lang string

const (
	LangZH Lang = "zh"
	LangEN Lang = "en"
)

// ParseLang accepts "zh" and "en" (case-insensitive). Empty input yields def.
func ParseLang(raw string, def Lang) (Lang, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, true
	case "zh", "cn":
		return LangZH, true
	case "en":
		return LangEN, true
	default:
		return def, false
	}
}

// Code tables for numeric alert fields.
const (
	CodeLong  = 1
	CodeShort = 2

	KindTrade       = 1
	KindLiquidation = 2
)

var (
	actionLabels = map[int]map[Lang]string{
		CodeLong:  {LangZH: "买入", LangEN: "Long"},
		CodeShort: {LangZH: "卖出", LangEN: "Short"},
	}
	directionLabels = map[int]map[Lang]string{
		CodeLong:  {LangZH: "做多 (Long)", LangEN: "Long"},
		CodeShort: {LangZH: "做空 (Short)", LangEN: "Short"},
	}
	positionLabels = map[int]map[Lang]string{
		CodeLong:  {LangZH: "做多", LangEN: "Long"},
		CodeShort: {LangZH: "做空", LangEN: "Short"},
	}
)

func label(table map[int]map[Lang]string, code int, lang Lang) (string, bool) {
	m, ok := table[code]
	if !ok {
		return "", false
	}
	s, ok := m[lang]
	return s, ok
}

func ActionLabel(code int, lang Lang) (string, bool)    { return label(actionLabels, code, lang) }
func DirectionLabel(code int, lang Lang) (string, bool) { return label(directionLabels, code, lang) }
func PositionLabel(code int, lang Lang) (string, bool)  { return label(positionLabels, code, lang) }

// WhaleTrade is a large trade with already-localized labels.
type WhaleTrade struct {
	Action        string
	Direction     string
	ValueUSD      float64
	Token         string
	TraderAddress string
}

func (w WhaleTrade) Render(lang Lang) string {
	var b strings.Builder
	if lang == LangEN {
		b.WriteString("🐋 *Whale Trade Alert*\n\n")
		line(&b, "📊", "Action", escape(w.Action))
		line(&b, "💰", "Value", usd(w.ValueUSD))
		line(&b, "🪙", "Token", escape(w.Token))
		line(&b, "📈", "Direction", escape(w.Direction))
		line(&b, "👤", "Trader", code(w.TraderAddress))
	} else {
		b.WriteString("🐋 *巨鲸交易提醒*\n\n")
		line(&b, "📊", "操作", escape(w.Action))
		line(&b, "💰", "金额", usd(w.ValueUSD))
		line(&b, "🪙", "代币", escape(w.Token))
		line(&b, "📈", "方向", escape(w.Direction))
		line(&b, "👤", "交易员", code(w.TraderAddress))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Liquidation is a forced position close with already-localized labels.
type Liquidation struct {
	PositionType     string
	Token            string
	PositionValue    float64
	LiquidationPrice float64
	TraderAddress    string
}

func (l Liquidation) Render(lang Lang) string {
	var b strings.Builder
	if lang == LangEN {
		b.WriteString("💥 *Liquidation Alert*\n\n")
		line(&b, "📉", "Position", escape(l.PositionType))
		line(&b, "🪙", "Token", escape(l.Token))
		line(&b, "💰", "Position Value", usd(l.PositionValue))
		line(&b, "🎯", "Liquidation Price", usd(l.LiquidationPrice))
		line(&b, "👤", "Trader", code(l.TraderAddress))
	} else {
		b.WriteString("💥 *强平提醒*\n\n")
		line(&b, "📉", "仓位类型", escape(l.PositionType))
		line(&b, "🪙", "代币", escape(l.Token))
		line(&b, "💰", "仓位价值", usd(l.PositionValue))
		line(&b, "🎯", "强平价格", usd(l.LiquidationPrice))
		line(&b, "👤", "交易员", code(l.TraderAddress))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Coded is a whale alert described by numeric codes. It is rendered once
// per language, with labels looked up from the code tables.
type Coded struct {
	Kind             int
	Action           int
	Direction        int
	ValueUSD         float64
	Token            string
	TraderAddress    string
	LiquidationPrice float64
}

// Validate checks the codes and reports the first invalid field.
func (c Coded) Validate() error {
	if c.Kind != KindTrade && c.Kind != KindLiquidation {
		return fmt.Errorf("Invalid message_type. Must be 1 (trade) or 2 (liquidation)")
	}
	if c.Direction != CodeLong && c.Direction != CodeShort {
		return fmt.Errorf("Invalid direction. Must be 1 (long) or 2 (short)")
	}
	if c.Kind == KindTrade && c.Action != CodeLong && c.Action != CodeShort {
		return fmt.Errorf("Invalid action. Must be 1 (buy) or 2 (sell)")
	}
	return nil
}

// KindName is "trade" or "liquidation".
func (c Coded) KindName() string {
	if c.Kind == KindLiquidation {
		return "liquidation"
	}
	return "trade"
}

// Render localizes the codes and renders the alert. Call Validate first.
func (c Coded) Render(lang Lang) string {
	if c.Kind == KindLiquidation {
		pos, _ := PositionLabel(c.Direction, lang)
		return Liquidation{
			PositionType:     pos,
			Token:            c.Token,
			PositionValue:    c.ValueUSD,
			LiquidationPrice: c.LiquidationPrice,
			TraderAddress:    c.TraderAddress,
		}.Render(lang)
	}
	act, _ := ActionLabel(c.Action, lang)
	dir, _ := DirectionLabel(c.Direction, lang)
	return WhaleTrade{
		Action:        act,
		Direction:     dir,
		ValueUSD:      c.ValueUSD,
		Token:         c.Token,
		TraderAddress: c.TraderAddress,
	}.Render(lang)
}

// TradeSignal is an on-chain DEX trade.
type TradeSignal struct {
	Chain     string
	Token     string
	Amount    float64
	Action    string
	From      string
	To        string
	TxHash    string
	Timestamp string
}

func (s TradeSignal) Render() string {
	var b strings.Builder
	b.WriteString("⚡ **DEX Trading Signal**\n\n")
	fmt.Fprintf(&b, "🔹 **Chain**: %s\n", or(s.Chain, "Unknown"))
	fmt.Fprintf(&b, "💰 **Token**: %s\n", or(s.Token, "Unknown"))
	fmt.Fprintf(&b, "📊 **Amount**: %s\n", printer.Sprintf("%.2f", s.Amount))
	fmt.Fprintf(&b, "📈 **Action**: %s\n\n", or(s.Action, "Trade"))
	b.WriteString("🔗 **Transaction Details**:\n")
	fmt.Fprintf(&b, "  • From: `%s`\n", or(s.From, "N/A"))
	fmt.Fprintf(&b, "  • To: `%s`\n", or(s.To, "N/A"))
	fmt.Fprintf(&b, "  • Hash: `%s`\n\n", or(s.TxHash, "N/A"))
	fmt.Fprintf(&b, "⏰ Time: %s", or(s.Timestamp, "N/A"))
	return b.String()
}

var printer = message.NewPrinter(language.English)

func usd(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return printer.Sprintf("$%d", int64(v))
	}
	return printer.Sprintf("$%.2f", v)
}

func line(b *strings.Builder, icon, name, value string) {
	fmt.Fprintf(b, "%s %s: %s\n", icon, name, value)
}

func code(addr string) string {
	addr = strings.ReplaceAll(strings.TrimSpace(addr), "`", "")
	if addr == "" {
		return "N/A"
	}
	return "`" + ShortAddress(addr) + "`"
}

// ShortAddress abbreviates long hex addresses as 0x1234...abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 14 || !strings.HasPrefix(addr, "0x") {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escape neutralizes legacy Markdown control characters in free text.
func escape(s string) string { return mdEscaper.Replace(strings.TrimSpace(s)) }

func or(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
