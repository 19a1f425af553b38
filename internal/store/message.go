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
// MESSAGES
// =============================================================================

// AppendMessage assigns the next sequence number, inserts the message, and
// refreshes the conversation's last-message pointer, all in one transaction.
// The passed conversation is mutated in place (LastSeq, preview fields).
func (s *Store) AppendMessage(c *chat.Conversation, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	m.Seq = c.LastSeq + 1
	m.ConversationID = c.ID

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", m.ID, err)
	}
	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, seq, role, type, hidden, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Seq, string(m.Role), string(m.Type), m.Hidden, m.Timestamp.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	c.LastSeq = m.Seq
	if !m.Hidden {
		c.LastMessageAt = m.Timestamp
		c.LastMessagePreview = m.Preview()
	}
	if err := s.saveConversationLocked(tx, c); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	countWrite("messages")
	logging.StoreDebug("appended message %s seq=%d conv=%s type=%s", m.ID, m.Seq, c.ID, m.Type)
	return nil
}

// UpdateMessage rewrites a stored message in place. Seq and identity are
// immutable; callers set Edited before updating.
func (s *Store) UpdateMessage(m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", m.ID, err)
	}
	res, err := s.db.Exec(`
		UPDATE messages SET role = ?, type = ?, hidden = ?, data = ?
		WHERE id = ? AND conversation_id = ?`,
		string(m.Role), string(m.Type), m.Hidden, string(data), m.ID, m.ConversationID)
	if err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update message %s: not found", m.ID)
	}
	countWrite("messages")
	return nil
}

// DeleteMessages removes the given message ids from a conversation and
// recomputes the last-message pointer from the surviving history. The
// updated conversation is returned so the session can refresh its copy.
func (s *Store) DeleteMessages(convID string, ids ...string) (*chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND id = ?`, convID, id); err != nil {
			return nil, fmt.Errorf("delete message %s: %w", id, err)
		}
	}

	var data string
	if err := tx.QueryRow(`SELECT data FROM conversations WHERE id = ?`, convID).Scan(&data); err != nil {
		return nil, fmt.Errorf("reload conversation %s: %w", convID, err)
	}
	var c chat.Conversation
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", convID, err)
	}

	// Last visible message, by sequence, after the deletion.
	var lastData string
	err = tx.QueryRow(`
		SELECT data FROM messages
		WHERE conversation_id = ? AND hidden = 0
		ORDER BY seq DESC LIMIT 1`, convID).Scan(&lastData)
	switch {
	case err == sql.ErrNoRows:
		c.LastMessageAt = time.Time{}
		c.LastMessagePreview = ""
	case err != nil:
		return nil, fmt.Errorf("recompute last message: %w", err)
	default:
		var last chat.Message
		if err := json.Unmarshal([]byte(lastData), &last); err != nil {
			return nil, fmt.Errorf("decode last message: %w", err)
		}
		c.LastMessageAt = last.Timestamp
		c.LastMessagePreview = last.Preview()
	}

	if err := s.saveConversationLocked(tx, &c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	countWrite("messages")
	logging.Store("deleted %d message(s) from %s", len(ids), convID)
	return &c, nil
}

// FindMessage returns one message by id, or (nil, nil) when absent.
func (s *Store) FindMessage(convID, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`
		SELECT data FROM messages WHERE conversation_id = ? AND id = ?`, convID, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message %s: %w", id, err)
	}
	var m chat.Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &m, nil
}

// RecentMessages returns up to limit messages in ascending seq order,
// ending at the newest. Hidden messages are included; prompt assembly
// filters them out itself so diagnostics can still inspect the window.
func (s *Store) RecentMessages(convID string, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT data FROM (
			SELECT data, seq FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var m chat.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping undecodable message row: %v", err)
			continue
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
