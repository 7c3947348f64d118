package ai

import (
	"context"
	"errors"

	"ChatRelay/internal/history"
)

var (
	// ErrMissingAPIKey — ключ API не задан на момент запроса.
	ErrMissingAPIKey = errors.New("completion api key is not configured")
	// ErrEmptyResponse — ответ без choices или с пустым текстом.
	ErrEmptyResponse = errors.New("completion response has no content")
)

// Completer интерфейс для получения ответа модели по всей истории диалога.
// Все реализации должны быть взаимозаменяемыми.
type Completer interface {
	Complete(ctx context.Context, turns []history.Turn) (string, error)
}
