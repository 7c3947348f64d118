package web

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"ChatRelay/internal/app/dispatcher"
	"ChatRelay/internal/history"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	startCommand = "/start"
	writeTimeout = 10 * time.Second
	maxFrame     = 16 << 10
)

// Submitter принимает входящие сообщения на обработку.
// Release вызывает fn после обработки всех уже принятых сообщений диалога.
type Submitter interface {
	Submit(ctx context.Context, msg dispatcher.Message) bool
	Release(ctx context.Context, id history.ConversationID, fn func())
}

// Handler — web-чат поверх websocket: одно соединение — один диалог.
// Кадры текстовые, без обёртки: входящий кадр — реплика пользователя, исходящий — ответ.
type Handler struct {
	ctx      context.Context
	greeting string
	submit   Submitter
	forget   func(history.ConversationID)
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewHandler создаёт обработчик. ctx ограничивает время жизни всех соединений.
// forget удаляет историю диалога после отключения клиента: вернуться к ней нельзя.
func NewHandler(ctx context.Context, greeting string, submit Submitter, forget func(history.ConversationID), logger *zap.SugaredLogger) *Handler {
	return &Handler{
		ctx:      ctx,
		greeting: greeting,
		submit:   submit,
		forget:   forget,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrame)

	id := history.ConversationID("web:" + uuid.NewString())
	log := h.logger.With("conversation", id, "remote", r.RemoteAddr)
	log.Infow("Web chat connected")

	var wmu sync.Mutex
	write := func(_ context.Context, text string) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(text))
	}

	// Закрываем соединение при остановке процесса, чтобы ReadMessage вернул ошибку
	stop := context.AfterFunc(h.ctx, func() { _ = conn.Close() })
	defer stop()
	if h.forget != nil {
		defer h.submit.Release(h.ctx, id, func() { h.forget(id) })
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnw("Web chat read error", "error", err)
			}
			log.Infow("Web chat disconnected")
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if text == startCommand {
			if err := write(h.ctx, h.greeting); err != nil {
				log.Warnw("Не удалось отправить приветствие", "error", err)
			}
			continue
		}
		h.submit.Submit(h.ctx, dispatcher.Message{ConversationID: id, Text: text, Reply: write})
	}
}
