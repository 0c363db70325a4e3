package history

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
)

// Memory keeps session histories in process. The number of sessions is
// bounded; the least recently used session is evicted first, and sessions
// idle for longer than the TTL are dropped on access.
type Memory struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	evictList   *list.List
	maxSessions int
	ttl         time.Duration
	now         func() time.Time
	onEvict     func(id string)
}

type entry struct {
	id         string
	history    *syncHistory
	element    *list.Element
	accessTime time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMaxSessions sets the maximum number of retained sessions. Zero means
// unbounded.
func WithMaxSessions(n int) MemoryOption {
	return func(m *Memory) {
		m.maxSessions = n
	}
}

// WithIdleTTL drops sessions that have not been accessed for ttl.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

// WithEvictionCallback sets a callback for evicted sessions.
func WithEvictionCallback(fn func(id string)) MemoryOption {
	return func(m *Memory) {
		m.onEvict = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an in-process history store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		sessions:    make(map[string]*entry),
		evictList:   list.New(),
		maxSessions: 1000,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the history for id, creating it if needed.
func (m *Memory) Session(_ context.Context, id string) (schema.ChatMessageHistory, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if ent, ok := m.sessions[id]; ok {
		if m.ttl > 0 && now.Sub(ent.accessTime) > m.ttl {
			m.remove(ent)
		} else {
			ent.accessTime = now
			m.evictList.MoveToFront(ent.element)
			return ent.history, nil
		}
	}

	ent := &entry{
		id:         id,
		history:    &syncHistory{inner: memory.NewChatMessageHistory()},
		accessTime: now,
	}
	ent.element = m.evictList.PushFront(ent)
	m.sessions[id] = ent

	for m.maxSessions > 0 && len(m.sessions) > m.maxSessions {
		m.remove(m.evictList.Back().Value.(*entry))
	}
	return ent.history, nil
}

// Delete drops a session.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ent, ok := m.sessions[id]; ok {
		m.remove(ent)
	}
}

// Len returns the number of retained sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CleanExpired drops every session idle for longer than the TTL and reports
// how many were removed.
func (m *Memory) CleanExpired() int {
	if m.ttl <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for e := m.evictList.Back(); e != nil; {
		ent := e.Value.(*entry)
		prev := e.Prev()
		if now.Sub(ent.accessTime) <= m.ttl {
			// The list is ordered by access time.
			break
		}
		m.remove(ent)
		removed++
		e = prev
	}
	return removed
}

func (m *Memory) remove(ent *entry) {
	delete(m.sessions, ent.id)
	m.evictList.Remove(ent.element)
	if m.onEvict != nil {
		m.onEvict(ent.id)
	}
}

// syncHistory guards a langchaingo history, which is not safe for
// concurrent use, and hands out copies of its messages.
type syncHistory struct {
	mu    sync.Mutex
	inner *memory.ChatMessageHistory
}

func (h *syncHistory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs, err := h.inner.Messages(ctx)
	return slices.Clone(msgs), err
}

func (h *syncHistory) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.AddMessage(ctx, message)
}

func (h *syncHistory) AddUserMessage(ctx context.Context, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.AddUserMessage(ctx, message)
}

func (h *syncHistory) AddAIMessage(ctx context.Context, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.AddAIMessage(ctx, message)
}

func (h *syncHistory) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.Clear(ctx)
}

func (h *syncHistory) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.SetMessages(ctx, slices.Clone(messages))
}
