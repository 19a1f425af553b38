package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"starchat/internal/chat"
	"starchat/internal/logging"
)

// =============================================================================
// RELATIONSHIP EDGES
// =============================================================================

// GetEdge returns the directed edge source->target. A missing edge reads
// as score zero.
func (s *Store) GetEdge(source, target string) (chat.RelationshipEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := chat.RelationshipEdge{Source: source, Target: target}
	err := s.db.QueryRow(`
		SELECT score, kind FROM relationship_edges WHERE source = ? AND target = ?`,
		source, target).Scan(&e.Score, &e.Kind)
	if err == sql.ErrNoRows {
		return e, nil
	}
	if err != nil {
		return e, fmt.Errorf("get edge %s->%s: %w", source, target, err)
	}
	return e, nil
}

// UpsertEdge writes the edge with the given absolute score and kind.
func (s *Store) UpsertEdge(e chat.RelationshipEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO relationship_edges (source, target, score, kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, target) DO UPDATE SET
			score = excluded.score,
			kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE relationship_edges.kind END`,
		e.Source, e.Target, e.Score, e.Kind)
	if err != nil {
		return fmt.Errorf("upsert edge %s->%s: %w", e.Source, e.Target, err)
	}
	countWrite("relationship_edges")
	logging.RelationDebug("edge %s->%s = %d (%s)", e.Source, e.Target, e.Score, e.Kind)
	return nil
}

// EdgesFrom returns every outgoing edge of source.
func (s *Store) EdgesFrom(source string) ([]chat.RelationshipEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT source, target, score, kind FROM relationship_edges WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("edges from %s: %w", source, err)
	}
	defer rows.Close()

	var out []chat.RelationshipEdge
	for rows.Next() {
		var e chat.RelationshipEdge
		if err := rows.Scan(&e.Source, &e.Target, &e.Score, &e.Kind); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// MEMORIES
// =============================================================================

// AddMemory persists a long-term memory record. The embedding is optional.
func (s *Store) AddMemory(m *chat.MemoryRecord, embedding []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO memories (id, conversation_id, author, content, important, keywords, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Author, m.Content, m.Important,
		strings.Join(m.Keywords, ","), embedding, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	countWrite("memories")
	logging.StoreDebug("added memory %s conv=%s important=%v", m.ID, m.ConversationID, m.Important)
	return nil
}

// scoredMemory pairs a record with its retrieval rank.
type scoredMemory struct {
	rec   chat.MemoryRecord
	score float64
}

// SearchMemories returns up to limit records for the conversation, ranked:
// important memories first, then keyword hits against the query, then
// recency. Embedding re-ranking happens in the retrieval layer on top of
// this candidate set.
func (s *Store) SearchMemories(convID, query string, limit int) ([]chat.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, conversation_id, author, content, important, keywords, created_at
		FROM memories WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT 200`, convID)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	q := strings.ToLower(query)
	var scored []scoredMemory
	for rows.Next() {
		var m chat.MemoryRecord
		var keywords string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Content, &m.Important, &keywords, &m.CreatedAt); err != nil {
			continue
		}
		if keywords != "" {
			m.Keywords = strings.Split(keywords, ",")
		}
		sc := 0.0
		if m.Important {
			sc += 100
		}
		for _, kw := range m.Keywords {
			if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
				sc += 10
			}
		}
		if q != "" && strings.Contains(strings.ToLower(m.Content), q) {
			sc += 5
		}
		scored = append(scored, scoredMemory{rec: m, score: sc})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]chat.MemoryRecord, len(scored))
	for i, sm := range scored {
		out[i] = sm.rec
	}
	return out, nil
}

// PrivateChatMemories returns the newest memories from the member's
// one-to-one conversation, for group prompt assembly. A member without a
// private conversation reads as empty.
func (s *Store) PrivateChatMemories(member string, limit int) ([]chat.MemoryRecord, error) {
	convs, err := s.ListConversations()
	if err != nil {
		return nil, err
	}
	convID := ""
	for _, c := range convs {
		if c.IsGroup {
			continue
		}
		if cp := c.Counterpart(); cp != nil && cp.Name == member {
			convID = c.ID
			break
		}
	}
	if convID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, conversation_id, author, content, important, created_at
		FROM memories WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT ?`, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("private memories for %s: %w", member, err)
	}
	defer rows.Close()

	var out []chat.MemoryRecord
	for rows.Next() {
		var m chat.MemoryRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Content, &m.Important, &m.CreatedAt); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemoryEmbeddings returns the stored vectors for a conversation keyed by
// memory id. Records without a vector are skipped.
func (s *Store) MemoryEmbeddings(convID string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, embedding FROM memories
		WHERE conversation_id = ? AND embedding IS NOT NULL`, convID)
	if err != nil {
		return nil, fmt.Errorf("memory embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			continue
		}
		out[id] = blob
	}
	return out, rows.Err()
}

// =============================================================================
// DIARY / COUNTDOWNS
// =============================================================================

// AddDiaryEntry appends a diary entry.
func (s *Store) AddDiaryEntry(d *chat.DiaryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO diary_entries (id, conversation_id, author, content, mood, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ConversationID, d.Author, d.Content, d.Mood, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("add diary entry: %w", err)
	}
	countWrite("diary_entries")
	return nil
}

// ListDiary returns a participant's diary, newest first.
func (s *Store) ListDiary(convID, author string, limit int) ([]chat.DiaryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, conversation_id, author, content, mood, created_at
		FROM diary_entries WHERE conversation_id = ? AND (? = '' OR author = ?)
		ORDER BY created_at DESC LIMIT ?`, convID, author, author, limit)
	if err != nil {
		return nil, fmt.Errorf("list diary: %w", err)
	}
	defer rows.Close()

	var out []chat.DiaryEntry
	for rows.Next() {
		var d chat.DiaryEntry
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Author, &d.Content, &d.Mood, &d.CreatedAt); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddCountdown persists a countdown record.
func (s *Store) AddCountdown(c *chat.CountdownRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO countdowns (id, conversation_id, author, title, target_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ConversationID, c.Author, c.Title, c.Target.UTC(), c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("add countdown: %w", err)
	}
	countWrite("countdowns")
	return nil
}

// ListCountdowns returns a conversation's countdowns, soonest target first.
func (s *Store) ListCountdowns(convID string) ([]chat.CountdownRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, conversation_id, author, title, target_at, created_at
		FROM countdowns WHERE conversation_id = ? ORDER BY target_at ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("list countdowns: %w", err)
	}
	defer rows.Close()

	var out []chat.CountdownRecord
	for rows.Next() {
		var c chat.CountdownRecord
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.Author, &c.Title, &c.Target, &c.CreatedAt); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// MOMENTS POSTS
// =============================================================================

// SavePost upserts a moments post, including its likes and comments.
func (s *Store) SavePost(p *chat.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal post %s: %w", p.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO posts (id, author, created_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		p.ID, p.Author, p.CreatedAt.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("save post %s: %w", p.ID, err)
	}
	countWrite("posts")
	return nil
}

// FindPost returns one post by id, or (nil, nil) when absent.
func (s *Store) FindPost(id string) (*chat.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`SELECT data FROM posts WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post %s: %w", id, err)
	}
	var p chat.Post
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", id, err)
	}
	return &p, nil
}

// ListPosts returns the moments feed, newest first.
func (s *Store) ListPosts(limit int) ([]*chat.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT data FROM posts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var out []*chat.Post
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var p chat.Post
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping undecodable post row: %v", err)
			continue
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =============================================================================
// CALL LOGS
// =============================================================================

// AddCallLog archives a finished call.
func (s *Store) AddCallLog(id, convID string, rec *chat.CallRecordPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO call_logs (id, conversation_id, kind, started_at, duration_secs, accepted, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, convID, string(rec.Kind), rec.StartedAt.UTC(), int(rec.Duration.Seconds()), rec.Accepted, string(data))
	if err != nil {
		return fmt.Errorf("add call log: %w", err)
	}
	countWrite("call_logs")
	return nil
}
