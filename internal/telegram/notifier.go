package telegram

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

const (
	globalSendRate  = 30
	perChatSendRate = 1
	perChatBurst    = 20
	maxChatLimiters = 1024
)

// Notifier sends acknowledgements best-effort. A formatted message that the
// API rejects is retried once as plain text; after that the failure is only
// logged.
type Notifier struct {
	messenger Messenger

	global *rate.Limiter

	mu       sync.Mutex
	perChat  map[int64]*rate.Limiter
	chatRate rate.Limit
	burst    int
}

func NewNotifier(messenger Messenger) *Notifier {
	return &Notifier{
		messenger: messenger,
		global:    rate.NewLimiter(rate.Limit(globalSendRate), globalSendRate),
		perChat:   make(map[int64]*rate.Limiter),
		chatRate:  rate.Limit(perChatSendRate),
		burst:     perChatBurst,
	}
}

func (n *Notifier) chatLimiter(chatID int64) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()

	if limiter, ok := n.perChat[chatID]; ok {
		return limiter
	}

	// Drop idle limiters instead of running a cleanup goroutine
	if len(n.perChat) >= maxChatLimiters {
		for id, limiter := range n.perChat {
			if limiter.Tokens() >= float64(n.burst) {
				delete(n.perChat, id)
			}
		}
	}

	limiter := rate.NewLimiter(n.chatRate, n.burst)
	n.perChat[chatID] = limiter
	return limiter
}

func (n *Notifier) wait(ctx context.Context, chatID int64) error {
	if err := n.global.Wait(ctx); err != nil {
		return err
	}
	return n.chatLimiter(chatID).Wait(ctx)
}

// Send delivers text and reports whether it reached the chat.
func (n *Notifier) Send(ctx context.Context, chatID int64, text, parseMode string) bool {
	if err := n.wait(ctx, chatID); err != nil {
		logger.Warn("Send throttled out", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		return false
	}

	err := n.messenger.SendMessage(ctx, chatID, text, parseMode)
	if err == nil {
		return true
	}

	logger.Error("Failed to send message", map[string]interface{}{
		"chat_id":    chatID,
		"parse_mode": parseMode,
		"error":      err.Error(),
	})
	if parseMode == consts.ParseModeNone {
		return false
	}

	plain := text
	if parseMode == consts.ParseModeMarkdownV2 {
		plain = unescapeMarkdownV2(text)
	}
	if err := n.messenger.SendMessage(ctx, chatID, plain, consts.ParseModeNone); err != nil {
		logger.Error("Plain text fallback also failed", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

// Plain sends text with no formatting.
func (n *Notifier) Plain(ctx context.Context, chatID int64, text string) bool {
	return n.Send(ctx, chatID, text, consts.ParseModeNone)
}

// unescapeMarkdownV2 strips escapes and bold markers so the fallback reads
// cleanly.
func unescapeMarkdownV2(s string) string {
	out := make([]rune, 0, len(s))
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			out = append(out, r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
