package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harryneopotter/teacher-website-public/internal/auth"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/conversation"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/file"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/harryneopotter/teacher-website-public/internal/metrics"
	"github.com/harryneopotter/teacher-website-public/internal/ratelimit"
	"github.com/harryneopotter/teacher-website-public/internal/storage"
)

// Update kinds, also used as metric labels
const (
	KindCommand  = "command"
	KindText     = "text"
	KindDocument = "document"
	KindPhoto    = "photo"
	KindVoice    = "voice"
	KindOther    = "other"
	KindIgnored  = "ignored"
)

const assistTimeout = 20 * time.Second

// DescriptionAssistant proposes a polished description for a new record.
type DescriptionAssistant interface {
	SuggestDescription(ctx context.Context, title, author, description string) (string, error)
}

// Deps are the collaborators a Bot needs. Assistant and Collector may be nil.
type Deps struct {
	Messenger    Messenger
	Downloader   Downloader
	Roles        *auth.RoleTable
	Machine      *conversation.Machine
	Storage      *storage.Orchestrator
	Showcases    database.ShowcaseRepository
	DocLimiter   *ratelimit.Limiter
	ThumbLimiter *ratelimit.Limiter
	Recorder     *metrics.Recorder
	Collector    *metrics.Collector
	Assistant    DescriptionAssistant
	Namer        *file.Namer
	Status       StatusInfo
}

type Bot struct {
	notifier     *Notifier
	messenger    Messenger
	downloader   Downloader
	roles        *auth.RoleTable
	machine      *conversation.Machine
	storage      *storage.Orchestrator
	showcases    database.ShowcaseRepository
	docLimiter   *ratelimit.Limiter
	thumbLimiter *ratelimit.Limiter
	recorder     *metrics.Recorder
	collector    *metrics.Collector
	assistant    DescriptionAssistant
	namer        *file.Namer
	status       StatusInfo
}

func NewBot(deps Deps) (*Bot, error) {
	switch {
	case deps.Messenger == nil:
		return nil, errors.New("messenger is required")
	case deps.Downloader == nil:
		return nil, errors.New("downloader is required")
	case deps.Roles == nil:
		return nil, errors.New("role table is required")
	case deps.Machine == nil:
		return nil, errors.New("conversation machine is required")
	case deps.Storage == nil:
		return nil, errors.New("storage orchestrator is required")
	case deps.Showcases == nil:
		return nil, errors.New("showcase repository is required")
	case deps.DocLimiter == nil || deps.ThumbLimiter == nil:
		return nil, errors.New("document and thumbnail limiters are required")
	}

	namer := deps.Namer
	if namer == nil {
		namer = file.NewNamer()
	}
	status := deps.Status
	status.AIAssist = deps.Assistant != nil

	return &Bot{
		notifier:     NewNotifier(deps.Messenger),
		messenger:    deps.Messenger,
		downloader:   deps.Downloader,
		roles:        deps.Roles,
		machine:      deps.Machine,
		storage:      deps.Storage,
		showcases:    deps.Showcases,
		docLimiter:   deps.DocLimiter,
		thumbLimiter: deps.ThumbLimiter,
		recorder:     deps.Recorder,
		collector:    deps.Collector,
		assistant:    deps.Assistant,
		namer:        namer,
		status:       status,
	}, nil
}

// Notifier exposes the throttled sender for other outbound notifications.
func (b *Bot) Notifier() *Notifier {
	return b.notifier
}

// Classify names the handling path for a message.
func Classify(msg *tgbotapi.Message) string {
	switch {
	case msg == nil:
		return KindIgnored
	case msg.Text != "":
		if isCommandText(msg.Text) {
			return KindCommand
		}
		return KindText
	case msg.Document != nil:
		return KindDocument
	case len(msg.Photo) > 0:
		return KindPhoto
	case msg.Voice != nil:
		return KindVoice
	default:
		return KindOther
	}
}

// HandleUpdate runs exactly one handling path for update. Failures inside
// a handler, panics included, are logged, answered with a generic reply and
// counted; they never escape.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil {
		logger.Debug("Update has no message, skipping", map[string]interface{}{
			"update_id": update.UpdateID,
		})
		b.collector.RecordUpdate(KindIgnored, 0)
		return nil
	}
	if msg.Chat == nil {
		// Nobody to answer; acknowledging stops Telegram redelivering it
		logger.Warn("Update message has no chat, skipping", map[string]interface{}{
			"update_id":  update.UpdateID,
			"message_id": msg.MessageID,
		})
		b.collector.RecordUpdate(KindIgnored, 0)
		b.recorder.IncrementMetric(ctx, consts.MetricErrors)
		return nil
	}

	kind := Classify(msg)
	started := time.Now()
	defer func() {
		b.collector.RecordUpdate(kind, time.Since(started))
	}()

	if err := b.dispatch(ctx, msg, kind); err != nil {
		logger.Error("Error handling message", map[string]interface{}{
			"error":   err.Error(),
			"kind":    kind,
			"chat_id": msg.Chat.ID,
		})
		b.notifier.Plain(ctx, msg.Chat.ID, InternalErrorMessage)
		b.recorder.IncrementMetric(ctx, consts.MetricErrors)
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message, kind string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in message handler", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	chatID := msg.Chat.ID
	if msg.From == nil {
		b.notifier.Plain(ctx, chatID, NotAuthorizedMessage)
		return nil
	}
	userID := strconv.FormatInt(msg.From.ID, 10)

	logger.Debug("Received message from user", map[string]interface{}{
		"user_id": userID,
		"chat_id": chatID,
		"kind":    kind,
	})

	if !b.roles.IsAuthorized(userID) {
		logger.Info("Rejected unauthorized user", map[string]interface{}{
			"user_id": userID,
			"kind":    kind,
		})
		b.notifier.Plain(ctx, chatID, NotAuthorizedMessage)
		return nil
	}

	req := &request{chatID: chatID, userID: userID, msg: msg}
	switch kind {
	case KindCommand, KindText:
		return b.handleText(ctx, req)
	case KindDocument:
		return b.handleDocument(ctx, req)
	case KindPhoto:
		return b.handlePhoto(ctx, req)
	case KindVoice:
		b.notifier.Plain(ctx, chatID, VoiceMessage)
		return nil
	default:
		b.notifier.Plain(ctx, chatID, UnknownTypeMessage)
		return nil
	}
}

// request carries the identifiers every handler needs.
type request struct {
	chatID int64
	userID string
	msg    *tgbotapi.Message
}

func isCommandText(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, consts.AddUserPrefix)
}

// AlertAdmins is installed as the error spike hook.
func (b *Bot) AlertAdmins(ctx context.Context, errors int, window time.Duration) {
	b.NotifyAdmins(ctx, spikeAlertMessage(errors, window), consts.ParseModeNone)
}

// NotifyAdmins sends text to every admin; user ids double as private chat ids.
func (b *Bot) NotifyAdmins(ctx context.Context, text, parseMode string) {
	b.notifyRole(ctx, auth.RoleAdmin, text, parseMode)
}

// NotifyContentManagers sends text to every content manager.
func (b *Bot) NotifyContentManagers(ctx context.Context, text, parseMode string) {
	b.notifyRole(ctx, auth.RoleContentManager, text, parseMode)
}

func (b *Bot) notifyRole(ctx context.Context, role auth.Role, text, parseMode string) {
	ids := b.roles.UsersWithRole(role)
	if len(ids) == 0 {
		logger.Warn("No user to notify", map[string]interface{}{"role": role.String()})
		return
	}
	for _, id := range ids {
		chatID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			logger.Warn("User id is not a chat id", map[string]interface{}{"user_id": id})
			continue
		}
		b.notifier.Send(ctx, chatID, text, parseMode)
	}
}
