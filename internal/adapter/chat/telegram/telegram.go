package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ChatRelay/internal/app/dispatcher"
	"ChatRelay/internal/history"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxMessageRunes — лимит длины одного сообщения Telegram.
const maxMessageRunes = 4096

// Config хранит параметры подключения к Bot API.
type Config struct {
	Token       string
	PollTimeout int // long polling, в секундах
	Debug       bool
}

// Submitter принимает входящие сообщения на обработку.
type Submitter interface {
	Submit(ctx context.Context, msg dispatcher.Message) bool
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot получает обновления через long polling и отправляет их в диспетчер.
type Bot struct {
	api      *tgbotapi.BotAPI
	cfg      Config
	logger   *zap.SugaredLogger
	greeting string
	submit   Submitter
	out      sender
}

// New подключается к Bot API (getMe). Ошибка означает неверный токен или недоступность API.
func New(cfg Config, logger *zap.SugaredLogger, greeting string, submit Submitter) (*Bot, error) {
	if err := tgbotapi.SetLogger(zap.NewStdLog(logger.Desugar().Named("telegram"))); err != nil {
		return nil, fmt.Errorf("telegram logger: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	api.Debug = cfg.Debug
	return &Bot{api: api, cfg: cfg, logger: logger, greeting: greeting, submit: submit, out: api}, nil
}

// Run читает обновления до отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)
	b.logger.Infow("Telegram polling started", "bot", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return context.Cause(ctx)
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		if msg.Command() == "start" {
			if err := b.send(chatID, b.greeting); err != nil {
				b.logger.Warnw("Не удалось отправить приветствие", "chat", chatID, "error", err)
			}
		}
		return
	}

	// Только текст: стикеры, фото и прочее пропускаем
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	b.submit.Submit(ctx, dispatcher.Message{
		ConversationID: ConversationID(chatID),
		Text:           msg.Text,
		Reply: func(_ context.Context, text string) error {
			return b.send(chatID, text)
		},
	})
}

func (b *Bot) send(chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if _, err := b.out.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// ConversationID строит идентификатор диалога для чата Telegram.
func ConversationID(chatID int64) history.ConversationID {
	return history.ConversationID("telegram:" + strconv.FormatInt(chatID, 10))
}

// splitMessage режет текст на части не длиннее limit рун.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	parts := make([]string, 0, len(runes)/limit+1)
	for len(runes) > 0 {
		n := min(limit, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
