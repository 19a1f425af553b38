// Package relation applies the side effects a model reply carries beyond
// the chat surface: bounded relationship-score adjustments, long-term
// memories, diary entries, and the fire-and-forget summary trigger.
package relation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"starchat/internal/chat"
	"starchat/internal/embedding"
	"starchat/internal/logging"
)

// ScoreMin and ScoreMax bound every relationship score.
const (
	ScoreMin = -10
	ScoreMax = 10
)

// Store is the slice of persistence the engine mutates.
type Store interface {
	GetEdge(source, target string) (chat.RelationshipEdge, error)
	UpsertEdge(e chat.RelationshipEdge) error
	AddMemory(m *chat.MemoryRecord, embedding []byte) error
	AddDiaryEntry(d *chat.DiaryEntry) error
}

// SummaryTrigger asks the background worker to refresh a conversation's
// long-term summary. Fire-and-forget: dropped when the worker is behind.
type SummaryTrigger struct {
	ConversationID string
}

// Engine owns the side-effect writes. The embedding engine is optional;
// without it memories are stored without vectors.
type Engine struct {
	store Store
	embed embedding.Engine

	// summaryEvery is the action cadence between summary triggers.
	summaryEvery int
	triggers     chan SummaryTrigger
}

// NewEngine wires the engine. embed may be nil.
func NewEngine(store Store, embed embedding.Engine) *Engine {
	return &Engine{
		store:        store,
		embed:        embed,
		summaryEvery: 20,
		triggers:     make(chan SummaryTrigger, 8),
	}
}

// Triggers exposes the outbound summary-trigger stream.
func (e *Engine) Triggers() <-chan SummaryTrigger {
	return e.triggers
}

// ApplyDeltas applies each adjustment whose endpoints both resolve to a
// conversation participant (or the user). A single adjustment is bounded
// to ±10 regardless of what the model asked for. Zero and unresolvable
// deltas are skipped with a warning, never fatal. Returns how many were
// applied.
func (e *Engine) ApplyDeltas(c *chat.Conversation, deltas []chat.RelationshipDelta) int {
	if len(deltas) == 0 {
		return 0
	}
	applied := 0
	for _, d := range deltas {
		if d.Change == 0 {
			logging.Get(logging.CategoryRelation).Warn("delta skipped: zero change %s->%s conv=%s", d.Source, d.Target, c.ID)
			continue
		}
		src, ok := e.resolve(c, d.Source)
		if !ok {
			logging.Get(logging.CategoryRelation).Warn("delta skipped: unknown source %q conv=%s", d.Source, c.ID)
			continue
		}
		dst, ok := e.resolve(c, d.Target)
		if !ok {
			logging.Get(logging.CategoryRelation).Warn("delta skipped: unknown target %q conv=%s", d.Target, c.ID)
			continue
		}
		if src == dst {
			logging.Get(logging.CategoryRelation).Warn("delta skipped: self-edge %q conv=%s", src, c.ID)
			continue
		}

		edge, err := e.store.GetEdge(src, dst)
		if err != nil {
			logging.Get(logging.CategoryRelation).Error("delta read %s->%s: %v", src, dst, err)
			continue
		}
		change := clamp(d.Change, ScoreMin, ScoreMax)
		edge.Score = clamp(edge.Score+change, ScoreMin, ScoreMax)
		if err := e.store.UpsertEdge(edge); err != nil {
			logging.Get(logging.CategoryRelation).Error("delta write %s->%s: %v", src, dst, err)
			continue
		}
		logging.Relation("edge %s->%s %+d => %d (%s)", src, dst, change, edge.Score, d.Reason)
		applied++
	}
	return applied
}

// resolve maps a model-supplied name onto a canonical participant name.
// "User" and the configured user name both resolve to the user.
func (e *Engine) resolve(c *chat.Conversation, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if name == "User" || name == "user" || name == c.Settings.UserName {
		return c.Settings.UserName, true
	}
	if m := c.Member(name); m != nil {
		return m.Name, true
	}
	return "", false
}

// RecordMemory persists a memory, with a vector when embedding is enabled.
// Embedding failures degrade to a vectorless record.
func (e *Engine) RecordMemory(ctx context.Context, convID, author, content string, important bool) error {
	rec := &chat.MemoryRecord{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Author:         author,
		Content:        content,
		Important:      important,
		CreatedAt:      time.Now(),
	}
	var blob []byte
	if e.embed != nil {
		if vec, err := e.embed.Embed(ctx, content); err != nil {
			logging.Get(logging.CategoryRelation).Warn("memory embedding failed, storing without vector: %v", err)
		} else {
			blob = embedding.Encode(vec)
		}
	}
	return e.store.AddMemory(rec, blob)
}

// RecordDiary persists a diary entry.
func (e *Engine) RecordDiary(convID, author, content, mood string) error {
	return e.store.AddDiaryEntry(&chat.DiaryEntry{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Author:         author,
		Content:        content,
		Mood:           mood,
		CreatedAt:      time.Now(),
	})
}

// NoteActivity emits a summary trigger on the action cadence. The send
// never blocks; a full channel drops the trigger.
func (e *Engine) NoteActivity(convID string, actionCount int) {
	if e.summaryEvery <= 0 || actionCount == 0 || actionCount%e.summaryEvery != 0 {
		return
	}
	select {
	case e.triggers <- SummaryTrigger{ConversationID: convID}:
		logging.RelationDebug("summary trigger queued conv=%s count=%d", convID, actionCount)
	default:
		logging.RelationDebug("summary trigger dropped (worker behind) conv=%s", convID)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
