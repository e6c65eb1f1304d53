package alert

import (
	"strings"
	"testing"
)

func TestParseLang(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Lang
		ok   bool
	}{
		{"", LangZH, true},
		{"zh", LangZH, true},
		{"EN", LangEN, true},
		{"fr", LangZH, false},
	}
	for _, tt := range tests {
		got, ok := ParseLang(tt.in, LangZH)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParseLang(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLabels(t *testing.T) {
	t.Parallel()
	if s, ok := ActionLabel(CodeLong, LangZH); !ok || s != "买入" {
		t.Fatalf("ActionLabel = %q,%v", s, ok)
	}
	if s, ok := DirectionLabel(CodeShort, LangZH); !ok || s != "做空 (Short)" {
		t.Fatalf("DirectionLabel = %q,%v", s, ok)
	}
	if s, ok := PositionLabel(CodeShort, LangEN); !ok || s != "Short" {
		t.Fatalf("PositionLabel = %q,%v", s, ok)
	}
	if _, ok := ActionLabel(3, LangEN); ok {
		t.Fatal("expected unknown code")
	}
}

func TestCodedValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Coded
		want string
	}{
		{"ok trade", Coded{Kind: 1, Action: 1, Direction: 2}, ""},
		{"ok liquidation ignores action", Coded{Kind: 2, Direction: 1}, ""},
		{"bad kind", Coded{Kind: 3, Action: 1, Direction: 1}, "message_type"},
		{"bad direction", Coded{Kind: 1, Action: 1, Direction: 0}, "direction"},
		{"bad action", Coded{Kind: 1, Action: 9, Direction: 1}, "action"},
	}
	for _, tt := range tests {
		err := tt.in.Validate()
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestCodedRenderPerLanguage(t *testing.T) {
	t.Parallel()
	c := Coded{
		Kind:          KindTrade,
		Action:        CodeLong,
		Direction:     CodeLong,
		ValueUSD:      2150000,
		Token:         "BTC",
		TraderAddress: "0x1234567890abcdef1234567890abcdef12345678",
	}
	zh := c.Render(LangZH)
	for _, want := range []string{"巨鲸交易提醒", "买入", "做多 (Long)", "$2,150,000", "`0x1234...5678`"} {
		if !strings.Contains(zh, want) {
			t.Fatalf("zh render missing %q:\n%s", want, zh)
		}
	}
	en := c.Render(LangEN)
	for _, want := range []string{"Whale Trade Alert", "Action: Long", "Direction: Long", "$2,150,000"} {
		if !strings.Contains(en, want) {
			t.Fatalf("en render missing %q:\n%s", want, en)
		}
	}
}

func TestLiquidationRender(t *testing.T) {
	t.Parallel()
	c := Coded{Kind: KindLiquidation, Direction: CodeShort, ValueUSD: 500000, Token: "ETH", TraderAddress: "abc", LiquidationPrice: 12.5}
	en := c.Render(LangEN)
	for _, want := range []string{"Liquidation Alert", "Position: Short", "Position Value: $500,000", "Liquidation Price: $12.50", "`abc`"} {
		if !strings.Contains(en, want) {
			t.Fatalf("render missing %q:\n%s", want, en)
		}
	}
	if c.KindName() != "liquidation" {
		t.Fatalf("KindName = %q", c.KindName())
	}
}

func TestRenderEscapesMarkdown(t *testing.T) {
	t.Parallel()
	out := WhaleTrade{Action: "buy", Direction: "long", Token: "MY_TOKEN*"}.Render(LangEN)
	if !strings.Contains(out, `MY\_TOKEN\*`) {
		t.Fatalf("token not escaped:\n%s", out)
	}
	if !strings.Contains(out, "Trader: N/A") {
		t.Fatalf("empty trader not rendered as N/A:\n%s", out)
	}
}

func TestTradeSignalDefaults(t *testing.T) {
	t.Parallel()
	out := TradeSignal{}.Render()
	for _, want := range []string{
		"⚡ **DEX Trading Signal**",
		"**Chain**: Unknown",
		"**Token**: Unknown",
		"**Amount**: 0.00",
		"**Action**: Trade",
		"From: `N/A`",
		"Hash: `N/A`",
		"⏰ Time: N/A",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestTradeSignalAmountGrouping(t *testing.T) {
	t.Parallel()
	out := TradeSignal{Chain: "ethereum", Token: "USDC", Amount: 10000, Action: "Buy"}.Render()
	if !strings.Contains(out, "**Amount**: 10,000.00") {
		t.Fatalf("amount not grouped:\n%s", out)
	}
}

func TestShortAddress(t *testing.T) {
	t.Parallel()
	if got := ShortAddress("0xabcdef0123456789"); got != "0xabcd...6789" {
		t.Fatalf("ShortAddress = %q", got)
	}
	if got := ShortAddress("bc1qxyz"); got != "bc1qxyz" {
		t.Fatalf("ShortAddress = %q", got)
	}
}
