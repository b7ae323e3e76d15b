// Package store provides the SQLite-backed persistence layer for
// conversations and content blocks. Block writes are batched on a background
// flusher; all writes are keyed upserts so repeated writes to the same id
// replace the stored row.
package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// schemaVersion is incremented when the schema changes; an outdated cache is
// dropped and rebuilt from scratch.
const schemaVersion = 1

const (
	flushBatchSize = 64
	blockQueueSize = 1024
)

// Store is the durable table of conversations and messages.
type Store struct {
	db   *sql.DB
	path string

	queue chan *conversation.ContentBlock
	done  chan struct{}
	wg    sync.WaitGroup

	flushInterval time.Duration

	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the database at path and starts the write flusher.
func Open(path string, flushInterval time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL for concurrent readers while the flusher writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if flushInterval <= 0 {
		flushInterval = 250 * time.Millisecond
	}

	s := &Store{
		db:            db,
		path:          path,
		queue:         make(chan *conversation.ContentBlock, blockQueueSize),
		done:          make(chan struct{}),
		flushInterval: flushInterval,
	}

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'")
	if err := row.Scan(&currentVersion); err != nil {
		currentVersion = 0
	}

	if currentVersion != 0 && currentVersion < schemaVersion {
		log.Info().
			Int("old_version", currentVersion).
			Int("new_version", schemaVersion).
			Msg("schema version changed, rebuilding store")
		if _, err := db.Exec(`DROP TABLE IF EXISTS conversations; DROP TABLE IF EXISTS messages`); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT PRIMARY KEY,
			tool         TEXT NOT NULL,
			topic        TEXT,
			model        TEXT,
			mode         TEXT,
			projectPath  TEXT,
			status       TEXT NOT NULL,
			createdAt    TIMESTAMP,
			updatedAt    TIMESTAMP,
			sessionId    TEXT,
			lastActivity TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS messages (
			id             TEXT PRIMARY KEY,
			conversationId TEXT NOT NULL,
			type           TEXT NOT NULL,
			role           TEXT,
			content        TEXT,
			timestamp      TIMESTAMP,
			isPartial      INTEGER NOT NULL DEFAULT 0,
			toolId         TEXT,
			toolName       TEXT,
			isError        INTEGER NOT NULL DEFAULT 0,
			metadata       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversationId);
		CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(lastActivity);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

// SaveConversation upserts a conversation row synchronously. Conversation
// writes are low-rate; blocks go through the batched queue instead.
func (s *Store) SaveConversation(c *conversation.Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations
			(id, tool, topic, model, mode, projectPath, status, createdAt, updatedAt, sessionId, lastActivity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tool=excluded.tool, topic=excluded.topic, model=excluded.model,
			mode=excluded.mode, projectPath=excluded.projectPath,
			status=excluded.status, updatedAt=excluded.updatedAt,
			sessionId=excluded.sessionId, lastActivity=excluded.lastActivity`,
		c.ID, string(c.Tool), c.Topic, c.Model, string(c.Mode), c.ProjectPath,
		string(c.Status), c.CreatedAt, c.UpdatedAt, c.SessionID, c.LastActivity)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", c.ID).Msg("failed to save conversation")
	}
	return err
}

// SaveBlock enqueues a block for the batched flusher. Never blocks the
// interactive path: if the queue is full the block is written synchronously.
func (s *Store) SaveBlock(b *conversation.ContentBlock) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.queue <- b:
	default:
		if err := s.writeBlocks([]*conversation.ContentBlock{b}); err != nil {
			log.Warn().Err(err).Str("block_id", b.ID).Msg("failed to persist block")
		}
	}
}

// flushLoop drains the queue in batches on a timer.
func (s *Store) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	pending := make([]*conversation.ContentBlock, 0, flushBatchSize)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := s.writeBlocks(pending); err != nil {
			log.Warn().Err(err).Int("count", len(pending)).Msg("failed to flush block batch")
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-s.done:
			// Drain whatever is left before exiting
			for {
				select {
				case b := <-s.queue:
					pending = append(pending, b)
				default:
					flush()
					return
				}
			}
		case b := <-s.queue:
			pending = append(pending, b)
			if len(pending) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// writeBlocks upserts a batch of blocks in one transaction.
func (s *Store) writeBlocks(blocks []*conversation.ContentBlock) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages
			(id, conversationId, type, role, content, timestamp, isPartial, toolId, toolName, isError, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, role=excluded.role, content=excluded.content,
			timestamp=excluded.timestamp, isPartial=excluded.isPartial,
			toolId=excluded.toolId, toolName=excluded.toolName,
			isError=excluded.isError, metadata=excluded.metadata`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range blocks {
		var meta []byte
		if b.Metadata != nil {
			meta, _ = json.Marshal(b.Metadata)
		}
		if _, err := stmt.Exec(
			b.ID, b.ConversationID, string(b.Type), b.Role, b.Content,
			b.Timestamp, boolToInt(b.IsPartial), b.ToolID, b.ToolName,
			boolToInt(b.IsError), nullableString(meta)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Flush forces any queued blocks to disk. Intended for tests and shutdown.
func (s *Store) Flush() {
	for {
		select {
		case b := <-s.queue:
			if err := s.writeBlocks([]*conversation.ContentBlock{b}); err != nil {
				log.Warn().Err(err).Msg("flush write failed")
			}
		default:
			return
		}
	}
}

// Close stops the flusher, drains the queue, and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

// LoadConversation returns one conversation by id, or nil if absent.
func (s *Store) LoadConversation(id string) (*conversation.Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, tool, topic, model, mode, projectPath, status, createdAt, updatedAt, sessionId, lastActivity
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// LoadActiveConversations returns every conversation that has not ended,
// ordered by last activity descending. Used for restart-time restore.
func (s *Store) LoadActiveConversations() ([]*conversation.Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, tool, topic, model, mode, projectPath, status, createdAt, updatedAt, sessionId, lastActivity
		FROM conversations WHERE status != ? ORDER BY lastActivity DESC`,
		string(conversation.StatusEnded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// LoadBlocks returns the persisted blocks for a conversation in insertion
// order (rowid preserves the order the subprocess emitted them).
func (s *Store) LoadBlocks(conversationID string, limit int) ([]*conversation.ContentBlock, error) {
	query := `
		SELECT rowid AS seq, id, conversationId, type, role, content, timestamp, isPartial, toolId, toolName, isError, metadata
		FROM messages WHERE conversationId = ? ORDER BY seq`
	args := []interface{}{conversationID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*conversation.ContentBlock
	for rows.Next() {
		var (
			b         conversation.ContentBlock
			seq       int64
			blockType string
			partial   int
			isErr     int
			meta      sql.NullString
		)
		if err := rows.Scan(&seq, &b.ID, &b.ConversationID, &blockType, &b.Role, &b.Content,
			&b.Timestamp, &partial, &b.ToolID, &b.ToolName, &isErr, &meta); err != nil {
			return nil, err
		}
		b.Type = conversation.BlockType(blockType)
		b.IsPartial = partial != 0
		b.IsError = isErr != 0
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &b.Metadata)
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}

// DeleteConversation removes a conversation row and all its messages.
func (s *Store) DeleteConversation(id string) error {
	if _, err := s.db.Exec("DELETE FROM messages WHERE conversationId = ?", id); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id)
	return err
}

// ConversationCount returns the total number of stored conversations.
func (s *Store) ConversationCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*conversation.Conversation, error) {
	var (
		c     conversation.Conversation
		tool  string
		mode  string
		state string
	)
	err := row.Scan(&c.ID, &tool, &c.Topic, &c.Model, &mode, &c.ProjectPath,
		&state, &c.CreatedAt, &c.UpdatedAt, &c.SessionID, &c.LastActivity)
	if err != nil {
		return nil, err
	}
	c.Tool = conversation.Tool(tool)
	c.Mode = conversation.Mode(mode)
	c.Status = conversation.Status(state)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
