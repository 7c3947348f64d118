package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"ChatRelay/internal/history"
)

// LoadSystemPrompt читает системный промпт из JSON-файла вида {"role":"system","content":"..."}.
// Любая ошибка фатальна для процесса: без промпта бот не обслуживает сообщения.
func LoadSystemPrompt(path string) (history.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return history.Turn{}, fmt.Errorf("read system prompt: %w", err)
	}

	var t history.Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return history.Turn{}, fmt.Errorf("parse system prompt %s: %w", path, err)
	}
	if t.Role != history.RoleSystem {
		return history.Turn{}, fmt.Errorf("system prompt %s: role must be %q, got %q", path, history.RoleSystem, t.Role)
	}
	if strings.TrimSpace(t.Content) == "" {
		return history.Turn{}, fmt.Errorf("system prompt %s: empty content", path)
	}
	return t, nil
}
