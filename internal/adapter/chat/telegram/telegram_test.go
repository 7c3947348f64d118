package telegram

import (
	"context"
	"strings"
	"testing"

	"ChatRelay/internal/app/dispatcher"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

// syncSubmitter сразу отвечает через Reply, как если бы модель вернула "re:"+текст.
type syncSubmitter struct {
	msgs []dispatcher.Message
}

func (s *syncSubmitter) Submit(ctx context.Context, msg dispatcher.Message) bool {
	s.msgs = append(s.msgs, msg)
	_ = msg.Reply(ctx, "re:"+msg.Text)
	return true
}

func newTestBot() (*Bot, *fakeSender, *syncSubmitter) {
	out := &fakeSender{}
	sub := &syncSubmitter{}
	return &Bot{logger: zap.NewNop().Sugar(), greeting: "hello", submit: sub, out: out}, out, sub
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	m := &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID}}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: m}
}

func TestHandleUpdate_Start(t *testing.T) {
	b, out, sub := newTestBot()

	b.handleUpdate(context.Background(), textUpdate(42, "/start"))

	require.Len(t, out.sent, 1)
	assert.Equal(t, int64(42), out.sent[0].ChatID)
	assert.Equal(t, "hello", out.sent[0].Text)
	assert.Empty(t, sub.msgs)
}

func TestHandleUpdate_OtherCommandsIgnored(t *testing.T) {
	b, out, sub := newTestBot()

	b.handleUpdate(context.Background(), textUpdate(42, "/help"))

	assert.Empty(t, out.sent)
	assert.Empty(t, sub.msgs)
}

func TestHandleUpdate_TextIsSubmitted(t *testing.T) {
	b, out, sub := newTestBot()

	b.handleUpdate(context.Background(), textUpdate(42, "как дела?"))

	require.Len(t, sub.msgs, 1)
	assert.Equal(t, ConversationID(42), sub.msgs[0].ConversationID)
	assert.Equal(t, "как дела?", sub.msgs[0].Text)
	require.Len(t, out.sent, 1)
	assert.Equal(t, "re:как дела?", out.sent[0].Text)
}

func TestHandleUpdate_SkipsNonText(t *testing.T) {
	b, out, sub := newTestBot()

	b.handleUpdate(context.Background(), tgbotapi.Update{})
	b.handleUpdate(context.Background(), textUpdate(42, "  "))

	assert.Empty(t, out.sent)
	assert.Empty(t, sub.msgs)
}

func TestSend_SplitsLongReplies(t *testing.T) {
	b, out, _ := newTestBot()

	long := strings.Repeat("я", maxMessageRunes+10)
	require.NoError(t, b.send(7, long))

	require.Len(t, out.sent, 2)
	assert.Equal(t, maxMessageRunes, len([]rune(out.sent[0].Text)))
	assert.Equal(t, 10, len([]rune(out.sent[1].Text)))
}

func TestConversationID(t *testing.T) {
	assert.EqualValues(t, "telegram:-100123", ConversationID(-100123))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"abc"}, splitMessage("abc", 5))
	assert.Equal(t, []string{"ab", "cd", "e"}, splitMessage("abcde", 2))
}
