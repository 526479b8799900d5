package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/harryneopotter/teacher-website-public/internal/auth"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/conversation"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

func (b *Bot) handleText(ctx context.Context, req *request) error {
	text := strings.TrimSpace(req.msg.Text)

	switch text {
	case consts.CommandStart:
		return b.handleStartCommand(ctx, req)
	case consts.CommandHelp:
		b.notifier.Plain(ctx, req.chatID, helpMessage)
		return nil
	case consts.CommandList:
		return b.handleListCommand(ctx, req)
	case consts.CommandStatus:
		return b.handleStatusCommand(ctx, req)
	case consts.CommandUserID:
		b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(UserIDTemplate, req.userID))
		return nil
	case consts.CommandAddUser:
		if !b.roles.HasPermission(req.userID, auth.RoleAdmin) {
			b.notifier.Plain(ctx, req.chatID, AdminOnlyMessage)
			return nil
		}
		b.notifier.Plain(ctx, req.chatID, AddUserUsageMessage)
		return nil
	case consts.CommandCancel:
		return b.handleCancelCommand(ctx, req)
	}

	if strings.HasPrefix(text, consts.AddUserPrefix) {
		return b.handleAddUser(ctx, req, text)
	}

	return b.handleConversationInput(ctx, req, text)
}

func (b *Bot) handleStartCommand(ctx context.Context, req *request) error {
	b.notifier.Plain(ctx, req.chatID, startMessage(b.roles.GetUserRole(req.userID).String()))
	return nil
}

func (b *Bot) handleListCommand(ctx context.Context, req *request) error {
	items, err := b.showcases.ListPublishedShowcases(ctx, consts.ListCommandLimit)
	if err != nil {
		logger.Error("Error listing showcase items", map[string]interface{}{
			"error":   err.Error(),
			"user_id": req.userID,
		})
		b.notifier.Plain(ctx, req.chatID, ListFailedMessage)
		return nil
	}
	if len(items) == 0 {
		b.notifier.Plain(ctx, req.chatID, NoShowcaseItemsMessage)
		return nil
	}
	b.notifier.Send(ctx, req.chatID, listMessage(items), consts.ParseModeMarkdownV2)
	return nil
}

func (b *Bot) handleStatusCommand(ctx context.Context, req *request) error {
	text := statusMessage(b.status, b.roles.GetUserRole(req.userID).String(), req.userID, b.roles.Count())
	b.notifier.Send(ctx, req.chatID, text, consts.ParseModeMarkdownV2)
	return nil
}

func (b *Bot) handleCancelCommand(ctx context.Context, req *request) error {
	cancelled, err := b.machine.Cancel(ctx, req.userID)
	if err != nil {
		return fmt.Errorf("cancel conversation: %w", err)
	}
	if cancelled {
		logger.Info("Conversation cancelled", map[string]interface{}{"user_id": req.userID})
		b.notifier.Plain(ctx, req.chatID, CancelledMessage)
		return nil
	}
	b.notifier.Plain(ctx, req.chatID, NothingToCancelMessage)
	return nil
}

// handleAddUser accepts exactly "adduser <id> <role>" from an admin.
func (b *Bot) handleAddUser(ctx context.Context, req *request, text string) error {
	if !b.roles.HasPermission(req.userID, auth.RoleAdmin) {
		logger.Warn("Non-admin tried to add a user", map[string]interface{}{"user_id": req.userID})
		b.notifier.Plain(ctx, req.chatID, AdminOnlyMessage)
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) != 3 {
		b.notifier.Plain(ctx, req.chatID, AddUserFormatMessage)
		return nil
	}
	newUserID, roleName := parts[1], parts[2]

	if _, err := strconv.ParseInt(newUserID, 10, 64); err != nil {
		b.notifier.Plain(ctx, req.chatID, AddUserIDMessage)
		return nil
	}
	role, err := auth.ParseRole(roleName)
	if err != nil {
		b.notifier.Plain(ctx, req.chatID, AddUserRoleMessage)
		return nil
	}

	if err := b.roles.AddUser(ctx, newUserID, role, req.userID); err != nil {
		logger.Error("Error saving authorized user", map[string]interface{}{
			"error":    err.Error(),
			"user_id":  newUserID,
			"added_by": req.userID,
		})
		b.notifier.Plain(ctx, req.chatID, AddUserFailedMessage)
		return nil
	}

	b.recorder.IncrementMetric(ctx, consts.MetricUsersAdded)
	b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(AddUserSavedTemplate, newUserID, role))
	return nil
}

func stepPrompt(step conversation.Step) string {
	switch step {
	case conversation.StepWaitingForTitle:
		return AskTitleMessage
	case conversation.StepWaitingForAuthor:
		return AskAuthorMessage
	case conversation.StepWaitingForDescription:
		return AskDescriptionMessage
	case conversation.StepWaitingForThumbnailOrDone:
		return AwaitThumbnailMessage
	default:
		return GenericHintMessage
	}
}

func (b *Bot) handleConversationInput(ctx context.Context, req *request, text string) error {
	out, err := b.machine.HandleText(ctx, req.userID, text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logger.Error("Failed to advance conversation", map[string]interface{}{
			"error":   err.Error(),
			"user_id": req.userID,
		})
		b.notifier.Plain(ctx, req.chatID, PublishFailedMessage)
		b.recorder.IncrementMetric(ctx, consts.MetricErrors)
		return nil
	}

	switch out.Kind {
	case conversation.OutcomeNoConversation:
		b.notifier.Plain(ctx, req.chatID, GenericHintMessage)
	case conversation.OutcomeAskAuthor:
		b.notifier.Plain(ctx, req.chatID, AskAuthorMessage)
	case conversation.OutcomeAskDescription:
		b.notifier.Plain(ctx, req.chatID, AskDescriptionMessage)
	case conversation.OutcomePublished:
		b.recorder.IncrementMetric(ctx, consts.MetricShowcasesPublished)
		b.notifier.Send(ctx, req.chatID, publishedMessage(out.Item.Title), consts.ParseModeMarkdownV2)
		b.notifier.Plain(ctx, req.chatID, OfferThumbnailMessage)
		b.suggestDescription(ctx, req, out)
	case conversation.OutcomeCompleted:
		b.notifier.Plain(ctx, req.chatID, AllDoneMessage)
	case conversation.OutcomeAwaitThumbnail:
		b.notifier.Plain(ctx, req.chatID, AwaitThumbnailMessage)
	case conversation.OutcomeFinishStepFirst:
		b.notifier.Plain(ctx, req.chatID, FinishStepFirstPrefix+"\n\n"+stepPrompt(out.Step))
	case conversation.OutcomeEmptyInput:
		b.notifier.Plain(ctx, req.chatID, EmptyInputPrefix+"\n\n"+stepPrompt(out.Step))
	}
	return nil
}

// suggestDescription is advisory and bounded; the record is never changed.
func (b *Bot) suggestDescription(ctx context.Context, req *request, out conversation.Outcome) {
	if b.assistant == nil || out.Item == nil {
		return
	}

	actx, cancel := context.WithTimeout(ctx, assistTimeout)
	defer cancel()

	suggestion, err := b.assistant.SuggestDescription(actx, out.Item.Title, out.Item.Author, out.Item.Description)
	if err != nil {
		logger.Warn("Description suggestion failed", map[string]interface{}{
			"error":       err.Error(),
			"showcase_id": out.Item.ID,
		})
		return
	}
	suggestion = strings.TrimSpace(suggestion)
	if suggestion == "" || suggestion == out.Item.Description {
		return
	}
	b.notifier.Plain(ctx, req.chatID, fmt.Sprintf(SuggestionTemplate, suggestion))
}
