// Package store is the local SQLite persistence layer for agent definitions,
// conversation threads and messages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Thread status values. DELETED threads are retained for audit but are
// invisible to chat and orchestration lookups.
const (
	ThreadActive   = "ACTIVE"
	ThreadArchived = "ARCHIVED"
	ThreadDeleted  = "DELETED"
)

// OrchestrationToolName is the sentinel tool name that grants an agent the
// ability to create and coordinate sub-agents. It is never propagated to
// sub-agent definitions.
const OrchestrationToolName = "subAgentTool"

// Store is a local SQLite-backed persistence layer.
//
// WAL is enabled to support concurrent reads while background sub-agent
// workers are writing.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AgentDefinition is a persisted agent. Sub-agents carry ParentThreadID > 0
// and an AgentType naming the archetype they were created from.
type AgentDefinition struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`

	Provider     string `json:"provider"`
	ModelName    string `json:"model_name"`
	SystemPrompt string `json:"system_prompt"`

	// ToolNames is a comma-joined list of named tools.
	ToolNames string `json:"tool_names"`

	AgentType      string  `json:"agent_type"`
	ParentThreadID int64   `json:"parent_thread_id"`
	MemoryWindow   int     `json:"memory_window"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	IsActive       bool    `json:"is_active"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// ToolList splits ToolNames into trimmed, non-empty entries.
func (d AgentDefinition) ToolList() []string {
	out := make([]string, 0, 4)
	for _, name := range strings.Split(d.ToolNames, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// HasTool reports whether the definition names the given tool.
func (d AgentDefinition) HasTool(name string) bool {
	name = strings.TrimSpace(name)
	for _, t := range d.ToolList() {
		if t == name {
			return true
		}
	}
	return false
}

// Thread is a conversation thread bound to one agent definition. Sub-agent
// threads carry ParentThreadID pointing at the lead thread.
type Thread struct {
	ID             int64  `json:"id"`
	AgentID        int64  `json:"agent_id"`
	UserID         int64  `json:"user_id"`
	ParentThreadID int64  `json:"parent_thread_id"`
	Title          string `json:"title"`
	Status         string `json:"status"`

	MessageCount int   `json:"message_count"`
	TotalTokens  int64 `json:"total_tokens"`

	LastMessageAtUnixMs int64 `json:"last_message_at_unix_ms"`
	CreatedAtUnixMs     int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs     int64 `json:"updated_at_unix_ms"`
}

// Message is one persisted conversation turn. Failed model turns are stored
// as assistant messages with an "[Error] " content prefix. Reasoning traces
// are stored as tool-role messages with ToolName "thinking".
type Message struct {
	ID       int64  `json:"id"`
	ThreadID int64  `json:"thread_id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"`

	TokenCount      int   `json:"token_count"`
	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
}

func normalizeThreadStatus(status string) string {
	switch strings.TrimSpace(status) {
	case ThreadActive, ThreadArchived, ThreadDeleted:
		return strings.TrimSpace(status)
	default:
		return ThreadActive
	}
}

const agentColumns = `
  id, user_id, name, display_name, description,
  provider, model_name, system_prompt, tool_names,
  agent_type, parent_thread_id, memory_window, temperature, max_tokens, is_active,
  created_at_unix_ms, updated_at_unix_ms`

func scanAgent(row interface{ Scan(...any) error }) (*AgentDefinition, error) {
	var d AgentDefinition
	var active int
	if err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.DisplayName,
		&d.Description,
		&d.Provider,
		&d.ModelName,
		&d.SystemPrompt,
		&d.ToolNames,
		&d.AgentType,
		&d.ParentThreadID,
		&d.MemoryWindow,
		&d.Temperature,
		&d.MaxTokens,
		&active,
		&d.CreatedAtUnixMs,
		&d.UpdatedAtUnixMs,
	); err != nil {
		return nil, err
	}
	d.IsActive = active != 0
	return &d, nil
}

const threadColumns = `
  id, agent_id, user_id, parent_thread_id, title, status,
  message_count, total_tokens, last_message_at_unix_ms,
  created_at_unix_ms, updated_at_unix_ms`

func scanThread(row interface{ Scan(...any) error }) (*Thread, error) {
	var t Thread
	if err := row.Scan(
		&t.ID,
		&t.AgentID,
		&t.UserID,
		&t.ParentThreadID,
		&t.Title,
		&t.Status,
		&t.MessageCount,
		&t.TotalTokens,
		&t.LastMessageAtUnixMs,
		&t.CreatedAtUnixMs,
		&t.UpdatedAtUnixMs,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertAgent persists a definition and returns its id. Used for lead agents
// created at bootstrap; sub-agents go through CreateSubAgent.
func (s *Store) InsertAgent(ctx context.Context, d AgentDefinition) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Provider = strings.TrimSpace(d.Provider)
	d.ModelName = strings.TrimSpace(d.ModelName)
	if d.UserID <= 0 || d.Name == "" || d.Provider == "" || d.ModelName == "" {
		return 0, errors.New("invalid agent definition")
	}

	now := time.Now().UnixMilli()
	if d.CreatedAtUnixMs <= 0 {
		d.CreatedAtUnixMs = now
	}
	if d.UpdatedAtUnixMs <= 0 {
		d.UpdatedAtUnixMs = d.CreatedAtUnixMs
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO agent_definitions(
  user_id, name, display_name, description,
  provider, model_name, system_prompt, tool_names,
  agent_type, parent_thread_id, memory_window, temperature, max_tokens, is_active,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		d.UserID,
		d.Name,
		strings.TrimSpace(d.DisplayName),
		strings.TrimSpace(d.Description),
		d.Provider,
		d.ModelName,
		d.SystemPrompt,
		strings.TrimSpace(d.ToolNames),
		strings.TrimSpace(d.AgentType),
		d.ParentThreadID,
		d.MemoryWindow,
		d.Temperature,
		d.MaxTokens,
		boolToInt(d.IsActive),
		d.CreatedAtUnixMs,
		d.UpdatedAtUnixMs,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) AgentByID(ctx context.Context, id int64) (*AgentDefinition, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id <= 0 {
		return nil, errors.New("invalid request")
	}

	d, err := scanAgent(s.db.QueryRowContext(ctx, `
SELECT`+agentColumns+`
FROM agent_definitions
WHERE id = ?
`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// AgentsByParentThread returns all definitions created under a lead thread,
// active or not, ordered by id.
func (s *Store) AgentsByParentThread(ctx context.Context, parentThreadID int64) ([]AgentDefinition, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if parentThreadID <= 0 {
		return nil, errors.New("invalid request")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT`+agentColumns+`
FROM agent_definitions
WHERE parent_thread_id = ?
ORDER BY id ASC
`, parentThreadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AgentDefinition, 0, 8)
	for rows.Next() {
		d, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// InsertThread persists a thread and returns its id. Used for lead threads;
// sub-agent threads go through CreateSubAgent.
func (s *Store) InsertThread(ctx context.Context, t Thread) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if t.AgentID <= 0 || t.UserID <= 0 {
		return 0, errors.New("invalid thread")
	}

	now := time.Now().UnixMilli()
	if t.CreatedAtUnixMs <= 0 {
		t.CreatedAtUnixMs = now
	}
	if t.UpdatedAtUnixMs <= 0 {
		t.UpdatedAtUnixMs = t.CreatedAtUnixMs
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO agent_threads(
  agent_id, user_id, parent_thread_id, title, status,
  message_count, total_tokens, last_message_at_unix_ms,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		t.AgentID,
		t.UserID,
		t.ParentThreadID,
		strings.TrimSpace(t.Title),
		normalizeThreadStatus(t.Status),
		t.MessageCount,
		t.TotalTokens,
		t.LastMessageAtUnixMs,
		t.CreatedAtUnixMs,
		t.UpdatedAtUnixMs,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ThreadByID(ctx context.Context, id int64) (*Thread, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id <= 0 {
		return nil, errors.New("invalid request")
	}

	t, err := scanThread(s.db.QueryRowContext(ctx, `
SELECT`+threadColumns+`
FROM agent_threads
WHERE id = ?
`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// ThreadsByUserAndAgent returns the user's threads for one agent, newest first.
func (s *Store) ThreadsByUserAndAgent(ctx context.Context, userID int64, agentID int64) ([]Thread, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if userID <= 0 || agentID <= 0 {
		return nil, errors.New("invalid request")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT`+threadColumns+`
FROM agent_threads
WHERE user_id = ? AND agent_id = ?
ORDER BY id DESC
`, userID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Thread, 0, 4)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CreateSubAgent inserts a sub-agent definition and its ACTIVE thread in one
// transaction. Either both rows exist afterwards or neither does.
func (s *Store) CreateSubAgent(ctx context.Context, d AgentDefinition, title string) (agentID int64, threadID int64, err error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Provider = strings.TrimSpace(d.Provider)
	d.ModelName = strings.TrimSpace(d.ModelName)
	if d.UserID <= 0 || d.ParentThreadID <= 0 || d.Name == "" || d.Provider == "" || d.ModelName == "" {
		return 0, 0, errors.New("invalid sub-agent definition")
	}

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO agent_definitions(
  user_id, name, display_name, description,
  provider, model_name, system_prompt, tool_names,
  agent_type, parent_thread_id, memory_window, temperature, max_tokens, is_active,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
`,
		d.UserID,
		d.Name,
		strings.TrimSpace(d.DisplayName),
		strings.TrimSpace(d.Description),
		d.Provider,
		d.ModelName,
		d.SystemPrompt,
		strings.TrimSpace(d.ToolNames),
		strings.TrimSpace(d.AgentType),
		d.ParentThreadID,
		d.MemoryWindow,
		d.Temperature,
		d.MaxTokens,
		now,
		now,
	)
	if err != nil {
		return 0, 0, err
	}
	agentID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `
INSERT INTO agent_threads(
  agent_id, user_id, parent_thread_id, title, status,
  message_count, total_tokens, last_message_at_unix_ms,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, 0, 0, 0, ?, ?)
`,
		agentID,
		d.UserID,
		d.ParentThreadID,
		strings.TrimSpace(title),
		ThreadActive,
		now,
		now,
	)
	if err != nil {
		return 0, 0, err
	}
	threadID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return agentID, threadID, nil
}

// ArchiveSubAgent deactivates a definition and archives its thread in one
// transaction.
func (s *Store) ArchiveSubAgent(ctx context.Context, agentID int64, threadID int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if agentID <= 0 || threadID <= 0 {
		return errors.New("invalid request")
	}

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE agent_definitions
SET is_active = 0, updated_at_unix_ms = ?
WHERE id = ?
`, now, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	res, err = tx.ExecContext(ctx, `
UPDATE agent_threads
SET status = ?, updated_at_unix_ms = ?
WHERE id = ?
`, ThreadArchived, now, threadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// MarkThreadDeleted soft-deletes a thread.
func (s *Store) MarkThreadDeleted(ctx context.Context, threadID int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if threadID <= 0 {
		return errors.New("invalid request")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE agent_threads
SET status = ?, updated_at_unix_ms = ?
WHERE id = ?
`, ThreadDeleted, time.Now().UnixMilli(), threadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertMessage persists a message and returns its id. Thread counters are
// updated separately via IncrementThreadMessageCount so streaming turns can
// count exactly once.
func (s *Store) InsertMessage(ctx context.Context, m Message) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.Role = strings.TrimSpace(m.Role)
	if m.ThreadID <= 0 || m.Role == "" {
		return 0, errors.New("invalid message")
	}
	if m.CreatedAtUnixMs <= 0 {
		m.CreatedAtUnixMs = time.Now().UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO agent_messages(thread_id, role, content, tool_name, token_count, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`,
		m.ThreadID,
		m.Role,
		m.Content,
		strings.TrimSpace(m.ToolName),
		m.TokenCount,
		m.CreatedAtUnixMs,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateMessageContent replaces the content of an existing message. Used by
// the streaming pipeline to grow a partial assistant message in place.
func (s *Store) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if id <= 0 {
		return errors.New("invalid request")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE agent_messages
SET content = ?
WHERE id = ?
`, content, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementThreadMessageCount bumps the counter and last-message timestamp.
func (s *Store) IncrementThreadMessageCount(ctx context.Context, threadID int64, delta int) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if threadID <= 0 || delta == 0 {
		return errors.New("invalid request")
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
UPDATE agent_threads
SET message_count = message_count + ?,
    last_message_at_unix_ms = ?,
    updated_at_unix_ms = ?
WHERE id = ?
`, delta, now, now, threadID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LatestMessages returns the newest limit messages in ascending order.
func (s *Store) LatestMessages(ctx context.Context, threadID int64, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if threadID <= 0 {
		return nil, errors.New("invalid request")
	}
	if limit <= 0 {
		limit = 40
	}
	if limit > 400 {
		limit = 400
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, role, content, tool_name, token_count, created_at_unix_ms
FROM agent_messages
WHERE thread_id = ?
ORDER BY id DESC
LIMIT ?
`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tmp := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.ToolName, &m.TokenCount, &m.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		tmp = append(tmp, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ASC order.
	out := make([]Message, 0, len(tmp))
	for i := len(tmp) - 1; i >= 0; i-- {
		out = append(out, tmp[i])
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS agent_definitions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  provider TEXT NOT NULL,
  model_name TEXT NOT NULL,
  system_prompt TEXT NOT NULL DEFAULT '',
  tool_names TEXT NOT NULL DEFAULT '',
  agent_type TEXT NOT NULL DEFAULT '',
  parent_thread_id INTEGER NOT NULL DEFAULT 0,
  memory_window INTEGER NOT NULL DEFAULT 0,
  temperature REAL NOT NULL DEFAULT 0,
  max_tokens INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  UNIQUE(user_id, name)
);
CREATE INDEX IF NOT EXISTS idx_agent_definitions_parent ON agent_definitions(parent_thread_id, is_active);

CREATE TABLE IF NOT EXISTS agent_threads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  agent_id INTEGER NOT NULL,
  user_id INTEGER NOT NULL,
  parent_thread_id INTEGER NOT NULL DEFAULT 0,
  title TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  message_count INTEGER NOT NULL DEFAULT 0,
  total_tokens INTEGER NOT NULL DEFAULT 0,
  last_message_at_unix_ms INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_threads_user_agent ON agent_threads(user_id, agent_id, status);

CREATE TABLE IF NOT EXISTS agent_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  thread_id INTEGER NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  tool_name TEXT NOT NULL DEFAULT '',
  token_count INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_thread ON agent_messages(thread_id, id ASC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
