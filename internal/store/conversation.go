package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"starchat/internal/chat"
	"starchat/internal/logging"
)

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversation upserts the full conversation record.
func (s *Store) SaveConversation(c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveConversationLocked(s.db, c)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) saveConversationLocked(ex execer, c *chat.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", c.ID, err)
	}
	_, err = ex.Exec(`
		INSERT INTO conversations (id, name, is_group, last_seq, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		c.ID, c.Name, c.IsGroup, c.LastSeq, time.Now().UTC(), string(data))
	if err != nil {
		logging.Get(logging.CategoryStore).Error("save conversation %s: %v", c.ID, err)
		return err
	}
	countWrite("conversations")
	logging.StoreDebug("saved conversation %s (last_seq=%d)", c.ID, c.LastSeq)
	return nil
}

// LoadConversation returns the conversation with the given id.
// Returns (nil, nil) when it does not exist.
func (s *Store) LoadConversation(id string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`SELECT data FROM conversations WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var c chat.Conversation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns every conversation ordered by recency.
func (s *Store) ListConversations() ([]*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT data FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*chat.Conversation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var c chat.Conversation
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping undecodable conversation row: %v", err)
			continue
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteConversation removes the conversation and, via the foreign key
// cascade, its message history.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	countWrite("conversations")
	logging.Store("deleted conversation %s", id)
	return nil
}
