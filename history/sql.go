package history

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQL keeps history in a table of (session_id, seq, role, content) rows.
type SQL struct {
	db    *sqlx.DB
	table string
}

// OpenSQL connects to a PostgreSQL database.
func OpenSQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	return db, nil
}

// NewSQL creates a SQL-backed history store over table.
func NewSQL(db *sqlx.DB, table string) (*SQL, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("history: invalid table name %q", table)
	}
	return &SQL{db: db, table: table}, nil
}

// Migrate creates the history table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Session returns the history stored under id.
func (s *SQL) Session(_ context.Context, id string) (schema.ChatMessageHistory, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}
	return &sqlHistory{store: s, session: id}, nil
}

type sqlHistory struct {
	store   *SQL
	session string
}

var _ schema.ChatMessageHistory = (*sqlHistory)(nil)

func (h *sqlHistory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	db := h.store.db
	query := db.Rebind(fmt.Sprintf("SELECT role, content FROM %s WHERE session_id = ? ORDER BY seq", h.store.table))

	var records []record
	if err := db.SelectContext(ctx, &records, query, h.session); err != nil {
		return nil, fmt.Errorf("history: load %s: %w", h.session, err)
	}
	return toMessages(records)
}

func (h *sqlHistory) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	return h.insert(ctx, h.store.db, message)
}

func (h *sqlHistory) AddUserMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.HumanChatMessage{Content: message})
}

func (h *sqlHistory) AddAIMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.AIChatMessage{Content: message})
}

func (h *sqlHistory) Clear(ctx context.Context) error {
	return h.clear(ctx, h.store.db)
}

func (h *sqlHistory) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	tx, err := h.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := h.clear(ctx, tx); err != nil {
		return err
	}
	for _, m := range messages {
		if err := h.insert(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

func (h *sqlHistory) insert(ctx context.Context, ex sqlx.ExtContext, m llms.ChatMessage) error {
	r := toRecord(m)
	query := ex.Rebind(fmt.Sprintf("INSERT INTO %s (session_id, role, content) VALUES (?, ?, ?)", h.store.table))
	if _, err := ex.ExecContext(ctx, query, h.session, r.Role, r.Content); err != nil {
		return fmt.Errorf("history: append %s: %w", h.session, err)
	}
	return nil
}

func (h *sqlHistory) clear(ctx context.Context, ex sqlx.ExtContext) error {
	query := ex.Rebind(fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", h.store.table))
	if _, err := ex.ExecContext(ctx, query, h.session); err != nil {
		return fmt.Errorf("history: clear %s: %w", h.session, err)
	}
	return nil
}
