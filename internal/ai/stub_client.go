package ai

import (
	"context"

	"ChatRelay/internal/history"
)

// StubClient заглушка, которая не делает реальных запросов и повторяет последнюю реплику пользователя.
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (c *StubClient) Complete(_ context.Context, turns []history.Turn) (string, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == history.RoleUser {
			return "echo:" + turns[i].Content, nil
		}
	}
	return "запрос получен", nil
}
