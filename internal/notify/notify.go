package notify

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Log writes notifications to the process log.
type Log struct{}

func (Log) Notify(_ context.Context, title, body string) error {
	log.Printf("notify [%s] %s\n", title, body)
	return nil
}

// Telegram sends notifications to a single chat.
type Telegram struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
}

func NewTelegram(token, chatID string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(bot, chatID)
}

func newTelegram(bot *tgbotapi.BotAPI, chatIDStr string) (*Telegram, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatIDStr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %v", err)
	}
	return &Telegram{Bot: bot, ChatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.ChatID, fmt.Sprintf("*[%s]*\n\n%s", escapeMarkdown(title), escapeMarkdown(body)))
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := t.Bot.Send(msg)
	return err
}

func escapeMarkdown(text string) string {
	return strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	).Replace(text)
}
