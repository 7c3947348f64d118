package history

import (
	"errors"
	"sync"
	"time"
)

// ErrPromptUnavailable — системный промпт не загружен, обслуживать диалоги нельзя.
var ErrPromptUnavailable = errors.New("system prompt is not loaded")

// Store — потокобезопасное хранилище историй диалогов в памяти процесса.
// Диалоги создаются лениво при первом сообщении и живут до вызова EvictIdle.
type Store struct {
	prompt *Turn
	window int
	now    func() time.Time

	mu    sync.RWMutex
	convs map[ConversationID]*conversation
}

// NewStore создаёт хранилище. prompt == nil означает, что промпт не загрузился:
// все обращения будут завершаться ErrPromptUnavailable.
func NewStore(prompt *Turn, window int) *Store {
	if window < 2 {
		window = DefaultWindow
	}
	return &Store{
		prompt: prompt,
		window: window,
		now:    time.Now,
		convs:  make(map[ConversationID]*conversation),
	}
}

// Window возвращает максимальную длину истории.
func (s *Store) Window() int { return s.window }

// GetOrCreate возвращает копию истории диалога, создавая её с системным промптом при первом обращении.
func (s *Store) GetOrCreate(id ConversationID) ([]Turn, error) {
	if s.prompt == nil {
		return nil, ErrPromptUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(id)
	return clone(c.turns), nil
}

// AppendAndTruncate добавляет реплику и усекает историю до окна.
// Возвращает копию истории после изменения.
func (s *Store) AppendAndTruncate(id ConversationID, t Turn) ([]Turn, error) {
	if s.prompt == nil {
		return nil, ErrPromptUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateLocked(id)
	c.turns = truncate(append(c.turns, t), s.window)
	return clone(c.turns), nil
}

// Snapshot возвращает копию истории без создания диалога.
func (s *Store) Snapshot(id ConversationID) ([]Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, false
	}
	return clone(c.turns), true
}

// Len — количество диалогов в хранилище.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Delete удаляет диалог. Возвращает false, если его не было.
func (s *Store) Delete(id ConversationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return false
	}
	delete(s.convs, id)
	return true
}

// EvictIdle удаляет диалоги, не менявшиеся дольше ttl. Возвращает число удалённых.
func (s *Store) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	deadline := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.convs {
		if c.lastActive.Before(deadline) {
			delete(s.convs, id)
			removed++
		}
	}
	return removed
}

func (s *Store) getOrCreateLocked(id ConversationID) *conversation {
	c, ok := s.convs[id]
	if !ok {
		turns := make([]Turn, 1, s.window)
		turns[0] = *s.prompt
		c = &conversation{turns: turns}
		s.convs[id] = c
	}
	c.lastActive = s.now()
	return c
}

func clone(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
