package relay

import (
	"context"
	"errors"
	"time"

	"ChatRelay/internal/ai"
	"ChatRelay/internal/history"

	"go.uber.org/zap"
)

// Тексты, которые видит пользователь.
const (
	GreetingText       = "Привет! Я бот, подключенный к Large Language Model через OpenRouter. Отправь мне любое сообщение, чтобы начать общение."
	PromptMissingText  = "Критическая ошибка: Системный промпт не загружен."
	APIKeyMissingText  = "Ошибка: Ключ API для OpenRouter не настроен."
	CompletionFailText = "Извините, произошла ошибка при обращении к модели."
	BusyText           = "Бот перегружен, попробуйте позже."
)

// Relay связывает хранилище историй и клиента модели: одно входящее сообщение — один запрос.
type Relay struct {
	store     *history.Store
	completer ai.Completer
	logger    *zap.SugaredLogger
	locks     *keyedMutex
}

// New создаёт сервис. Сообщения одного диалога обрабатываются строго по очереди.
func New(store *history.Store, completer ai.Completer, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		store:     store,
		completer: completer,
		logger:    logger,
		locks:     newKeyedMutex(),
	}
}

// Greeting — ответ на команду start, историю не трогает.
func (r *Relay) Greeting() string { return GreetingText }

// Conversations — текущее количество диалогов в памяти.
func (r *Relay) Conversations() int { return r.store.Len() }

// Handle обрабатывает текст пользователя и всегда возвращает текст для ответа.
// Ошибки превращаются в уведомления: после сбоя модели реплика пользователя остаётся в истории.
func (r *Relay) Handle(ctx context.Context, id history.ConversationID, text string) string {
	unlock := r.locks.Lock(string(id))
	defer unlock()

	log := r.logger.With("conversation", id)

	// 1. Получаем или инициализируем историю
	if _, err := r.store.GetOrCreate(id); err != nil {
		log.Errorw("Не удалось получить историю", "error", err)
		return PromptMissingText
	}

	// 2. Добавляем сообщение пользователя
	turns, err := r.store.AppendAndTruncate(id, history.UserTurn(text))
	if err != nil {
		log.Errorw("Не удалось добавить сообщение пользователя", "error", err)
		return PromptMissingText
	}

	// 3. Запрос к модели
	start := time.Now()
	reply, err := r.completer.Complete(ctx, turns)
	dur := time.Since(start)
	switch {
	case errors.Is(err, ai.ErrMissingAPIKey):
		log.Errorw("Ключ API не найден")
		return APIKeyMissingText
	case err != nil:
		log.Warnw("Модель не ответила", "duration", dur.String(), "history", len(turns), "error", err)
		return CompletionFailText
	}

	// 4. Сохраняем ответ и усекаем историю
	after, err := r.store.AppendAndTruncate(id, history.AssistantTurn(reply))
	if err != nil {
		log.Errorw("Не удалось сохранить ответ модели", "error", err)
	}
	log.Infow("Ответ модели получен", "duration", dur.String(), "history", len(after))
	return reply
}
