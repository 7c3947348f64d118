package history

import "time"

// Role — роль автора реплики.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultWindow — системный промпт + 19 последних реплик.
const DefaultWindow = 20

// ConversationID идентифицирует один диалог (чат Telegram, зритель Twitch, websocket-соединение).
type ConversationID string

// Turn — одна реплика диалога. После создания не меняется.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemTurn(content string) Turn    { return Turn{Role: RoleSystem, Content: content} }
func UserTurn(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// conversation хранит историю одного диалога.
type conversation struct {
	turns      []Turn
	lastActive time.Time
}

// truncate оставляет первый (системный) элемент и window-1 последних.
// Всегда возвращает новый срез, чтобы выданные ранее снимки не менялись.
func truncate(turns []Turn, window int) []Turn {
	if len(turns) <= window {
		return turns
	}
	out := make([]Turn, 0, window)
	out = append(out, turns[0])
	out = append(out, turns[len(turns)-(window-1):]...)
	return out
}
