package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger is the slice of the Bot API this package talks to.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
	// FileURL resolves a file id to a direct download link.
	FileURL(ctx context.Context, fileID string) (string, error)
}

type apiMessenger struct {
	api *tgbotapi.BotAPI
}

// NewAPIMessenger connects to the Bot API with token.
func NewAPIMessenger(token string) (Messenger, *tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &apiMessenger{api: api}, api, nil
}

// WrapAPI adapts an existing client.
func WrapAPI(api *tgbotapi.BotAPI) Messenger {
	return &apiMessenger{api: api}
}

func (m *apiMessenger) SendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true
	_, err := m.api.Send(msg)
	return err
}

func (m *apiMessenger) FileURL(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	link, err := m.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %w", err)
	}
	return link, nil
}
