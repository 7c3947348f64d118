package twitch

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"ChatRelay/internal/app/dispatcher"
	"ChatRelay/internal/history"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"
)

const (
	// maxReplyRunes — ответ в чат Twitch ограничен 500 символами, оставляем запас на @user.
	maxReplyRunes = 450
	spamWindow    = 5 * time.Second
	startCommand  = "!start"
)

// Config хранит параметры подключения к Twitch IRC.
type Config struct {
	Username string
	OAuth    string // может быть с/без префикса oauth:
	Channel  string // без #, регистр не важен
}

// Submitter принимает входящие сообщения на обработку.
type Submitter interface {
	Submit(ctx context.Context, msg dispatcher.Message) bool
}

type sayer interface {
	Say(channel, text string)
}

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

type lastMsg struct {
	text string
	at   time.Time
}

// relay фильтрует сообщения чата и пересылает их в диспетчер: у каждого зрителя свой диалог.
type relay struct {
	self     string
	greeting string
	submit   Submitter
	out      sayer
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu         sync.Mutex
	lastByUser map[string]lastMsg
}

// Run запускает клиент Twitch IRC и пересылает отфильтрованные сообщения в диспетчер.
// Базовые реконнекты обеспечиваются клиентом; функция завершается по отмене ctx.
func Run(ctx context.Context, logger *zap.SugaredLogger, cfg Config, greeting string, submit Submitter) error {
	if submit == nil {
		return nil
	}
	username := strings.ToLower(strings.TrimSpace(cfg.Username))
	token := strings.TrimSpace(cfg.OAuth)
	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	if username == "" || token == "" || channel == "" {
		logger.Warnw("Twitch chat not configured: missing env", "username", username != "", "token", token != "", "channel", channel != "")
		return nil
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	client := twitchirc.NewClient(username, token)
	r := &relay{
		self:       username,
		greeting:   greeting,
		submit:     submit,
		out:        client,
		logger:     logger,
		now:        time.Now,
		lastByUser: map[string]lastMsg{},
	}

	client.OnConnect(func() {
		logger.Infow("Twitch connected", "as", username, "join", channel)
		client.Join(channel)
	})
	client.OnPrivateMessage(func(msg twitchirc.PrivateMessage) {
		r.handle(ctx, msg.Channel, msg.User.Name, msg.Message)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case <-ctx.Done():
		_ = client.Disconnect()
		// Подождём чуть-чуть корректного завершения
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
		}
		return context.Cause(ctx)
	case err := <-errCh:
		if err != nil {
			logger.Errorw("twitch connect error", "error", err)
		}
		return err
	}
}

func (r *relay) handle(ctx context.Context, channel, user, text string) {
	user = strings.TrimSpace(user)
	text = strings.TrimSpace(text)
	if text == "" || user == "" || strings.EqualFold(user, r.self) {
		return
	}
	// Вырезаем URL
	text = strings.TrimSpace(urlRe.ReplaceAllString(text, ""))
	if text == "" { // всё было URL — пропускаем
		return
	}

	if strings.EqualFold(text, startCommand) {
		r.say(channel, user, r.greeting)
		return
	}
	// Прочие команды чата не наши
	if strings.HasPrefix(text, "!") {
		return
	}

	// Антиспам: одинаковый текст от того же пользователя в течение окна — дропаем
	now := r.now()
	r.mu.Lock()
	lm, seen := r.lastByUser[user]
	drop := seen && lm.text == text && now.Sub(lm.at) <= spamWindow
	if !drop {
		r.lastByUser[user] = lastMsg{text: text, at: now}
	}
	r.mu.Unlock()
	if drop {
		return
	}

	r.submit.Submit(ctx, dispatcher.Message{
		ConversationID: ConversationID(channel, user),
		Text:           text,
		Reply: func(_ context.Context, reply string) error {
			r.say(channel, user, reply)
			return nil
		},
	})
}

func (r *relay) say(channel, user, text string) {
	line := "@" + user + " " + strings.Join(strings.Fields(text), " ")
	if runes := []rune(line); len(runes) > maxReplyRunes {
		line = string(runes[:maxReplyRunes-1]) + "…"
	}
	r.out.Say(channel, line)
}

// ConversationID строит идентификатор диалога зрителя в канале.
func ConversationID(channel, user string) history.ConversationID {
	return history.ConversationID("twitch:" + strings.ToLower(channel) + ":" + strings.ToLower(user))
}
