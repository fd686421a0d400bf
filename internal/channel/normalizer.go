// Package channel converts decrypted platform events into the ordered
// conversation context consumed by the reasoning loop, and owns the
// routing decisions for events that never reach it.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roadbotai/roadbot/internal/wecom"
)

// UnsupportedReply is the fixed answer for message kinds the pipeline
// cannot reason about. It bypasses the reasoning loop entirely.
const UnsupportedReply = "我暂时无法处理这种类型的消息。"

// greeting injected for a user entering a customer-service session.
const enterSessionGreeting = "用户发送了一条消息，content是: 你好"

// ErrIgnored signals an event that must not enter the pipeline at all:
// no task, no outbound call.
var ErrIgnored = errors.New("channel: event ignored")

// ContextLine is one attributable line of conversation context.
// Insertion order is chronological and semantically meaningful.
type ContextLine struct {
	Sender string
	Text   string
}

// MediaResolver resolves a platform media id to a fetchable URL.
type MediaResolver interface {
	MediaURL(ctx context.Context, mediaID string) (string, error)
}

// Normalizer flattens events into context lines.
type Normalizer struct {
	resolver MediaResolver
	logger   *slog.Logger
}

func NewNormalizer(log *slog.Logger, resolver MediaResolver) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		resolver: resolver,
		logger:   log.With(slog.String("service", "normalizer")),
	}
}

// Normalize converts an event into ordered context lines. Merged
// bundles flatten depth-first, left to right, each line keeping its
// original sender. Session events other than enter_session, and
// notifications without a sync token, yield ErrIgnored.
func (n *Normalizer) Normalize(ctx context.Context, ev wecom.Event) ([]ContextLine, error) {
	switch e := ev.(type) {
	case wecom.TextEvent:
		return []ContextLine{{
			Sender: e.From,
			Text:   fmt.Sprintf("用户发送了一条消息，content是: %s", e.Content),
		}}, nil

	case wecom.MediaEvent:
		url, err := n.resolver.MediaURL(ctx, e.MediaID)
		if err != nil {
			return nil, fmt.Errorf("resolve media %s: %w", e.MediaID, err)
		}
		return []ContextLine{{
			Sender: e.From,
			Text:   fmt.Sprintf("用户发送了一个%s，URL是: %s", e.Kind, url),
		}}, nil

	case wecom.SessionEvent:
		if e.EventType == wecom.EventEnterSession {
			return []ContextLine{{Sender: e.From, Text: enterSessionGreeting}}, nil
		}
		return nil, ErrIgnored

	case wecom.MergedEvent:
		var lines []ContextLine
		for _, child := range e.Events {
			if _, ok := child.(wecom.UnsupportedEvent); ok {
				// Only top-level unsupported kinds get the fixed
				// apology; inside a bundle they are skipped.
				continue
			}
			childLines, err := n.Normalize(ctx, child)
			if err != nil {
				if errors.Is(err, ErrIgnored) {
					continue
				}
				return nil, err
			}
			lines = append(lines, childLines...)
		}
		if len(lines) == 0 {
			return nil, ErrIgnored
		}
		return lines, nil

	case wecom.UnsupportedEvent:
		// Answered upstream with UnsupportedReply; reaching the
		// normalizer with one is a routing bug.
		return nil, fmt.Errorf("unsupported event kind %q must not be normalized", e.MsgType)

	default:
		return nil, fmt.Errorf("unhandled event type %T", ev)
	}
}
