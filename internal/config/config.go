package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Имена переменных окружения с секретами.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvAPIKey        = "OPENROUTER_API_KEY"
)

// ErrMissingSecret — не задан обязательный секрет.
var ErrMissingSecret = errors.New("required secret is not set")

type Config struct {
	DebugMode        bool   `env:"DEBUG_MODE"`         //Режим дебага
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"` // JSON-файл {"role":"system","content":"..."}

	// История диалогов
	HistoryWindow          int           `env:"HISTORY_WINDOW"`           // Максимум реплик в истории вместе с системной
	HistoryTTL             time.Duration `env:"HISTORY_TTL"`              // Через сколько удалять неактивный диалог; 0 — никогда
	HistoryJanitorInterval time.Duration `env:"HISTORY_JANITOR_INTERVAL"` // Периодичность очистки

	// Диспетчер
	MaxWorkers int `env:"MAX_WORKERS"` // Сколько запросов к модели выполняется одновременно
	QueueSize  int `env:"QUEUE_SIZE"`  // Размер очереди входящих сообщений

	AI           AIConfig
	Telegram     TelegramConfig
	Twitch       TwitchConfig
	StatusServer StatusServerConfig
}

// AIConfig параметры OpenAI-совместимого API (OpenRouter).
type AIConfig struct {
	APIKey         string        `env:"OPENROUTER_API_KEY"`
	BaseURL        string        `env:"OPENROUTER_BASE_URL"`
	Model          string        `env:"OPENROUTER_MODEL"`
	AppTitle       string        `env:"OPENROUTER_APP_TITLE"` // заголовок X-Title (опционально)
	Referer        string        `env:"OPENROUTER_REFERER"`   // заголовок HTTP-Referer (опционально)
	RequestTimeout time.Duration `env:"AI_REQUEST_TIMEOUT"`   // 0 — без явного дедлайна
	Stub           bool          `env:"AI_STUB"`              // эхо вместо реального запроса
}

// TelegramConfig параметры бота Telegram.
type TelegramConfig struct {
	Token       string `env:"TELEGRAM_BOT_TOKEN"`
	PollTimeout int    `env:"TELEGRAM_POLL_TIMEOUT"` // long polling, в секундах
}

// TwitchConfig параметры чата Twitch. Пустые поля — адаптер не запускается.
type TwitchConfig struct {
	Username string `env:"TWITCH_USERNAME"`    // Имя пользователя Twitch (логин)
	OAuth    string `env:"TWITCH_OAUTH_TOKEN"` // OAuth токен Twitch (может быть без префикса oauth:)
	Channel  string `env:"TWITCH_CHANNEL"`     // Канал Twitch (один), без #
}

// Enabled сообщает, заданы ли все параметры подключения.
func (t TwitchConfig) Enabled() bool {
	return strings.TrimSpace(t.Username) != "" && strings.TrimSpace(t.OAuth) != "" && strings.TrimSpace(t.Channel) != ""
}

// StatusServerConfig конфигурация HTTP-сервера статуса и web-чата.
type StatusServerConfig struct {
	Enabled   bool   `env:"STATUS_SERVER_ENABLED"`    // Главный флаг включения/выключения
	BindAddr  string `env:"STATUS_SERVER_BIND_ADDR"`  // Адрес слушателя, напр. 127.0.0.1:8080
	AuthToken string `env:"STATUS_SERVER_AUTH_TOKEN"` // Токен авторизации (опционально)
	WebChat   bool   `env:"STATUS_SERVER_WEB_CHAT"`   // Включить /ws
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode:              false,
		SystemPromptPath:       "system_prompt.json",
		HistoryWindow:          20,
		HistoryTTL:             0,
		HistoryJanitorInterval: time.Minute,
		MaxWorkers:             16,
		QueueSize:              500,
		AI: AIConfig{
			BaseURL: "https://openrouter.ai/api/v1/",
			Model:   "google/gemini-2.5-flash",
		},
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		StatusServer: StatusServerConfig{
			Enabled:  false,
			BindAddr: "127.0.0.1:8080",
			WebChat:  true,
		},
	}
}

// NewConfig загружает конфигурацию приложения из .env, окружения и os.Args.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()
	return Load(os.Args[1:])
}

// Load стартует с дефолтов, перекрывает окружением, затем флагами args и валидирует результат.
func Load(args []string) (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("relaybot", flag.ContinueOnError)
	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	fs.StringVar(&cfg.SystemPromptPath, "system-prompt", cfg.SystemPromptPath, "путь к JSON-файлу системного промпта")
	fs.IntVar(&cfg.HistoryWindow, "history-window", cfg.HistoryWindow, "максимум реплик в истории, включая системную")
	fs.DurationVar(&cfg.HistoryTTL, "history-ttl", cfg.HistoryTTL, "удалять диалоги без активности дольше этого времени (0 — никогда)")
	fs.DurationVar(&cfg.HistoryJanitorInterval, "history-janitor-interval", cfg.HistoryJanitorInterval, "периодичность очистки неактивных диалогов")
	fs.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "число одновременных запросов к модели")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "размер очереди входящих сообщений")
	// AI
	fs.StringVar(&cfg.AI.BaseURL, "ai-base-url", cfg.AI.BaseURL, "базовый URL OpenAI-совместимого API")
	fs.StringVar(&cfg.AI.Model, "ai-model", cfg.AI.Model, "идентификатор модели")
	fs.StringVar(&cfg.AI.AppTitle, "ai-app-title", cfg.AI.AppTitle, "значение заголовка X-Title")
	fs.StringVar(&cfg.AI.Referer, "ai-referer", cfg.AI.Referer, "значение заголовка HTTP-Referer")
	fs.DurationVar(&cfg.AI.RequestTimeout, "ai-request-timeout", cfg.AI.RequestTimeout, "таймаут запроса к модели (0 — без таймаута)")
	fs.BoolVar(&cfg.AI.Stub, "ai-stub", cfg.AI.Stub, "не ходить в API, отвечать эхом")
	// Telegram
	fs.IntVar(&cfg.Telegram.PollTimeout, "telegram-poll-timeout", cfg.Telegram.PollTimeout, "таймаут long polling Telegram, в секундах")
	// Twitch
	fs.StringVar(&cfg.Twitch.Username, "twitch-username", cfg.Twitch.Username, "логин Twitch для подключения к чату")
	fs.StringVar(&cfg.Twitch.OAuth, "twitch-oauth-token", cfg.Twitch.OAuth, "OAuth токен Twitch (может быть без префикса oauth:)")
	fs.StringVar(&cfg.Twitch.Channel, "twitch-channel", cfg.Twitch.Channel, "канал Twitch (без #)")
	// StatusServer
	fs.BoolVar(&cfg.StatusServer.Enabled, "status-server-enabled", cfg.StatusServer.Enabled, "включить HTTP-сервер статуса")
	fs.StringVar(&cfg.StatusServer.BindAddr, "status-server-bind-addr", cfg.StatusServer.BindAddr, "адрес для прослушивания (напр. 127.0.0.1:8080)")
	fs.StringVar(&cfg.StatusServer.AuthToken, "status-server-auth-token", cfg.StatusServer.AuthToken, "токен авторизации (опционально)")
	fs.BoolVar(&cfg.StatusServer.WebChat, "status-server-web-chat", cfg.StatusServer.WebChat, "включить web-чат по websocket на /ws")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные секреты и ограничения.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("%s: %w", EnvTelegramToken, ErrMissingSecret)
	}
	if strings.TrimSpace(c.AI.APIKey) == "" && !c.AI.Stub {
		return fmt.Errorf("%s: %w", EnvAPIKey, ErrMissingSecret)
	}
	if c.HistoryWindow < 2 {
		return fmt.Errorf("history window must be at least 2, got %d", c.HistoryWindow)
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1
	}
	return nil
}

// APIKey возвращает актуальный ключ API: перечитывает окружение на каждый вызов,
// чтобы сброс переменной во время работы отражался на следующих сообщениях.
// Удалённая и пустая переменная одинаково означают, что ключа нет.
func (c *Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(EnvAPIKey))
}
