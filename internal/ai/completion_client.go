package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ChatRelay/internal/history"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// CompletionClient отправляет историю диалога в OpenAI-совместимый Chat Completions API (OpenRouter).
// Один запрос на сообщение, без повторов.
type CompletionClient struct {
	client *openai.Client
	model  openai.ChatModel
	apiKey func() string
	logger *zap.SugaredLogger
}

// NewCompletionClient создаёт клиента. apiKey вызывается перед каждым запросом,
// пустое значение означает, что ключ не настроен.
func NewCompletionClient(client *openai.Client, model string, apiKey func() string, logger *zap.SugaredLogger) *CompletionClient {
	return &CompletionClient{
		client: client,
		model:  openai.ChatModel(model),
		apiKey: apiKey,
		logger: logger,
	}
}

// NewOpenAIClient собирает SDK-клиент под OpenRouter: свой base URL, без автоматических повторов.
func NewOpenAIClient(baseURL, appTitle, referer string, timeout time.Duration) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	if appTitle != "" {
		opts = append(opts, option.WithHeader("X-Title", appTitle))
	}
	if referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", referer))
	}
	return openai.NewClient(opts...)
}

func (c *CompletionClient) Complete(ctx context.Context, turns []history.Turn) (string, error) {
	key := ""
	if c.apiKey != nil {
		key = strings.TrimSpace(c.apiKey())
	}
	if key == "" {
		return "", ErrMissingAPIKey
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: toMessages(turns),
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
	dur := time.Since(start)
	if err != nil {
		c.logger.Errorw("Ошибка ответа модели", "model", c.model, "duration", dur.String(), "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	c.logger.Debugw("Ответ модели получен", "model", c.model, "duration", dur.String(), "choices", len(resp.Choices))

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := resp.Choices[0].Message.Content
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func toMessages(turns []history.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case history.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case history.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}
