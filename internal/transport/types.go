package transport

import (
	"context"
	"strings"
)

// ParseMode selects how the messaging platform interprets markup in Message.Text.
type ParseMode string

const (
	ParsePlain      ParseMode = ""
	ParseMarkdown   ParseMode = "Markdown"
	ParseMarkdownV2 ParseMode = "MarkdownV2"
	ParseHTML       ParseMode = "HTML"
)

// ParseParseMode normalizes a user supplied parse mode.
// Empty input maps to def; "none"/"plain"/"text" map to ParsePlain.
func ParseParseMode(raw string, def ParseMode) (ParseMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, true
	case "none", "plain", "text":
		return ParsePlain, true
	case "markdown":
		return ParseMarkdown, true
	case "markdownv2":
		return ParseMarkdownV2, true
	case "html":
		return ParseHTML, true
	default:
		return def, false
	}
}

// Message is the payload for a single send. It is a value type and is never
// mutated by the delivery path.
type Message struct {
	Text           string
	ParseMode      ParseMode
	DisablePreview bool
}

// Sender performs exactly one send attempt to one destination.
//
// Implementations report failures as *DeliveryError (see Transient/Permanent)
// when they can tell retryable failures from terminal ones. Any other error is
// treated as unclassified by callers and is not retried.
type Sender interface {
	Send(ctx context.Context, to Destination, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to Destination, msg Message) error

func (f SenderFunc) Send(ctx context.Context, to Destination, msg Message) error {
	return f(ctx, to, msg)
}
