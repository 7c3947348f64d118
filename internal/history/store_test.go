package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, Turn) {
	t.Helper()
	prompt := SystemTurn("ты пират")
	return NewStore(&prompt, DefaultWindow), prompt
}

func TestGetOrCreate_SeedsWithPrompt(t *testing.T) {
	s, prompt := newTestStore(t)

	turns, err := s.GetOrCreate("c1")
	require.NoError(t, err)
	assert.Equal(t, []Turn{prompt}, turns)
	assert.Equal(t, 1, s.Len())

	// повторный вызов не создаёт второй диалог
	_, err = s.GetOrCreate("c1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestGetOrCreate_NoPrompt(t *testing.T) {
	s := NewStore(nil, DefaultWindow)

	_, err := s.GetOrCreate("c1")
	assert.ErrorIs(t, err, ErrPromptUnavailable)

	_, err = s.AppendAndTruncate("c1", UserTurn("hi"))
	assert.ErrorIs(t, err, ErrPromptUnavailable)
	assert.Equal(t, 0, s.Len())
}

func TestOneExchange(t *testing.T) {
	s, prompt := newTestStore(t)

	_, err := s.GetOrCreate("c1")
	require.NoError(t, err)
	_, err = s.AppendAndTruncate("c1", UserTurn("привет"))
	require.NoError(t, err)
	turns, err := s.AppendAndTruncate("c1", AssistantTurn("йо-хо-хо"))
	require.NoError(t, err)

	assert.Equal(t, []Turn{prompt, UserTurn("привет"), AssistantTurn("йо-хо-хо")}, turns)
}

func TestWindowKeepsSystemAndLatest(t *testing.T) {
	s, prompt := newTestStore(t)

	var all []Turn
	for i := range 25 {
		u := UserTurn(fmt.Sprintf("u%d", i))
		a := AssistantTurn(fmt.Sprintf("a%d", i))
		all = append(all, u, a)

		turns, err := s.AppendAndTruncate("c1", u)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(turns), DefaultWindow)
		turns, err = s.AppendAndTruncate("c1", a)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(turns), DefaultWindow)
	}

	turns, ok := s.Snapshot("c1")
	require.True(t, ok)
	require.Len(t, turns, DefaultWindow)
	assert.Equal(t, prompt, turns[0])
	assert.Equal(t, all[len(all)-19:], turns[1:])
}

func TestSnapshotIsolation(t *testing.T) {
	s, _ := newTestStore(t)

	turns, err := s.AppendAndTruncate("c1", UserTurn("a"))
	require.NoError(t, err)
	turns[1] = UserTurn("changed")

	got, ok := s.Snapshot("c1")
	require.True(t, ok)
	assert.Equal(t, "a", got[1].Content)

	_, ok = s.Snapshot("missing")
	assert.False(t, ok)
}

func TestConcurrentDistinctConversations(t *testing.T) {
	s, prompt := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(id ConversationID) {
			defer wg.Done()
			_, err := s.GetOrCreate(id)
			assert.NoError(t, err)
			_, err = s.AppendAndTruncate(id, UserTurn(string(id)))
			assert.NoError(t, err)
			_, err = s.AppendAndTruncate(id, AssistantTurn("re:"+string(id)))
			assert.NoError(t, err)
		}(ConversationID(fmt.Sprintf("c%d", i)))
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	for i := range 50 {
		id := ConversationID(fmt.Sprintf("c%d", i))
		turns, ok := s.Snapshot(id)
		require.True(t, ok)
		assert.Equal(t, []Turn{prompt, UserTurn(string(id)), AssistantTurn("re:" + string(id))}, turns)
	}
}

func TestEvictIdle(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.GetOrCreate("old")
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	_, err = s.GetOrCreate("fresh")
	require.NoError(t, err)

	assert.Equal(t, 0, s.EvictIdle(0))
	assert.Equal(t, 1, s.EvictIdle(5*time.Minute))
	_, ok := s.Snapshot("old")
	assert.False(t, ok)
	_, ok = s.Snapshot("fresh")
	assert.True(t, ok)
}

func TestNewStore_SmallWindowFallsBack(t *testing.T) {
	prompt := SystemTurn("p")
	assert.Equal(t, DefaultWindow, NewStore(&prompt, 1).Window())
	assert.Equal(t, 4, NewStore(&prompt, 4).Window())
}

func TestDelete(t *testing.T) {
	prompt := SystemTurn("sys")
	s := NewStore(&prompt, DefaultWindow)
	_, err := s.AppendAndTruncate("c1", UserTurn("hi"))
	require.NoError(t, err)

	assert.True(t, s.Delete("c1"))
	assert.False(t, s.Delete("c1"))
	assert.Equal(t, 0, s.Len())

	turns, err := s.GetOrCreate("c1")
	require.NoError(t, err)
	assert.Equal(t, []Turn{prompt}, turns)
}
