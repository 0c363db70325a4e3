package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
)

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	m := NewMemory(WithMaxSessions(2), WithEvictionCallback(func(id string) {
		evicted = append(evicted, id)
	}))
	ctx := context.Background()

	a, err := m.Session(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, a.AddUserMessage(ctx, "hi"))

	_, err = m.Session(ctx, "b")
	require.NoError(t, err)

	// Touch a so b becomes the eviction candidate.
	again, err := m.Session(ctx, "a")
	require.NoError(t, err)
	msgs, err := again.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = m.Session(ctx, "c")
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, m.Len())
}

func TestMemoryIdleTTL(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMemory(WithIdleTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s, err := m.Session(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, s.AddAIMessage(ctx, "hello"))
	_, err = m.Session(ctx, "b")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := m.Session(ctx, "a")
	require.NoError(t, err)
	msgs, err := fresh.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.Equal(t, 1, m.CleanExpired())
	assert.Equal(t, 1, m.Len())
}

func TestSessionRequired(t *testing.T) {
	ctx := context.Background()
	for _, s := range []Store{NewMemory(), NewRedis(redis.NewClient(&redis.Options{}))} {
		_, err := s.Session(ctx, "")
		assert.ErrorIs(t, err, ErrSessionRequired)
	}
}

func TestRedisHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedis(client, WithKeyPrefix("chat:"), WithTTL(time.Hour))
	ctx := context.Background()

	h, err := store.Session(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, h.AddUserMessage(ctx, "what is 2+2?"))
	require.NoError(t, h.AddAIMessage(ctx, "4"))

	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []llms.ChatMessage{
		llms.HumanChatMessage{Content: "what is 2+2?"},
		llms.AIChatMessage{Content: "4"},
	}, msgs)

	raw, err := mr.List("chat:s1")
	require.NoError(t, err)
	assert.Len(t, raw, 2)
	assert.Equal(t, time.Hour, mr.TTL("chat:s1"))

	require.NoError(t, h.SetMessages(ctx, []llms.ChatMessage{llms.SystemChatMessage{Content: "be brief"}}))
	msgs, err = h.Messages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []llms.ChatMessage{llms.SystemChatMessage{Content: "be brief"}}, msgs)

	require.NoError(t, h.Clear(ctx))
	assert.False(t, mr.Exists("chat:s1"))
}

func TestRedisHistoryRejectsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := mr.RPush("runnable:history:s1", "not json")
	require.NoError(t, err)

	h, err := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).Session(context.Background(), "s1")
	require.NoError(t, err)

	_, err = h.Messages(context.Background())
	assert.Error(t, err)
}

func newMockSQL(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQL(sqlx.NewDb(db, "postgres"), "chat_history")
	require.NoError(t, err)
	return store, mock
}

func TestSQLHistory(t *testing.T) {
	store, mock := newMockSQL(t)
	ctx := context.Background()

	h, err := store.Session(ctx, "s1")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_history (session_id, role, content) VALUES ($1, $2, $3)")).
		WithArgs("s1", "human", "hello").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, h.AddUserMessage(ctx, "hello"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT role, content FROM chat_history WHERE session_id = $1 ORDER BY seq")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "content"}).
			AddRow("human", "hello").
			AddRow("ai", "hi there"))

	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []llms.ChatMessage{
		llms.HumanChatMessage{Content: "hello"},
		llms.AIChatMessage{Content: "hi there"},
	}, msgs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSetMessagesIsTransactional(t *testing.T) {
	store, mock := newMockSQL(t)
	ctx := context.Background()
	h, err := store.Session(ctx, "s1")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_history WHERE session_id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_history")).
		WithArgs("s1", "system", "be brief").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = h.SetMessages(ctx, []llms.ChatMessage{llms.SystemChatMessage{Content: "be brief"}})
	assert.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLRejectsBadTable(t *testing.T) {
	_, err := NewSQL(nil, "history; DROP TABLE users")
	assert.Error(t, err)
}

func TestWithHistory(t *testing.T) {
	store := NewMemory()
	var seen [][]llms.ChatMessage
	echo := runnable.Func("echo", func(_ context.Context, in map[string]any) (string, error) {
		seen = append(seen, in["history"].([]llms.ChatMessage))
		return "re: " + in["input"].(string), nil
	})

	node, err := WithHistory("chat", echo, store)
	require.NoError(t, err)
	ctx := context.Background()

	input := map[string]any{"session_id": "s1", "input": "one"}
	out, err := node.Invoke(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "re: one", out)
	assert.NotContains(t, input, "history")

	_, err = node.Invoke(ctx, map[string]any{"session_id": "s1", "input": "two"})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Empty(t, seen[0])
	assert.Equal(t, []llms.ChatMessage{
		llms.HumanChatMessage{Content: "one"},
		llms.AIChatMessage{Content: "re: one"},
	}, seen[1])
}

func TestWithHistoryErrors(t *testing.T) {
	store := NewMemory()
	boom := errors.New("boom")
	failing := runnable.NewLambda("fail", func(context.Context, any) (any, error) { return nil, boom })

	node, err := WithHistory("chat", failing, store, WithSessionKey("sid"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = node.Invoke(ctx, map[string]any{"session_id": "s1"})
	assert.ErrorIs(t, err, ErrSessionRequired)

	_, err = node.Invoke(ctx, "plain")
	assert.ErrorIs(t, err, runnable.ErrInvalidInput)

	_, err = node.Invoke(ctx, map[string]any{"sid": "s1", "input": "x"})
	assert.ErrorIs(t, err, boom)

	// Failed exchanges are not recorded.
	s, err := store.Session(ctx, "s1")
	require.NoError(t, err)
	msgs, err := s.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = WithHistory("chat", nil, store)
	assert.ErrorIs(t, err, runnable.ErrNilNode)
}
