package chat

import "time"

// MemoryRecord is an immutable long-term fact owned by an authoring
// participant. Consulted read-only by the prompt assembler.
type MemoryRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Author         string    `json:"author"`
	Content        string    `json:"content"`
	Important      bool      `json:"important"`
	Keywords       []string  `json:"keywords,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DiaryEntry is a reflective first-person entry written by a participant.
type DiaryEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Author         string    `json:"author"`
	Content        string    `json:"content"`
	Mood           string    `json:"mood,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CountdownRecord counts down to a date the participants care about.
type CountdownRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Author         string    `json:"author"`
	Title          string    `json:"title"`
	Target         time.Time `json:"target"`
	CreatedAt      time.Time `json:"created_at"`
}

// RelationshipEdge is a scored, typed directional affinity between two
// participants. Mutated only through bounded deltas.
type RelationshipEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Score  int    `json:"score"`
	Kind   string `json:"kind,omitempty"` // friend, rival, crush, ...
}

// RelationshipDelta is one adjustment emitted alongside a model reply.
type RelationshipDelta struct {
	Source string `json:"source_char_name"`
	Target string `json:"target_char_name"`
	Change int    `json:"score_change"`
	Reason string `json:"reason,omitempty"`
}

// WorldBookTrigger controls when a world-book entry is injected.
type WorldBookTrigger string

const (
	TriggerAlways  WorldBookTrigger = "always"
	TriggerKeyword WorldBookTrigger = "keyword"
)

// WorldBookEntry is a persistent lore snippet injected into prompts either
// unconditionally or when one of its keywords appears in recent history.
type WorldBookEntry struct {
	ID       string           `yaml:"id" json:"id"`
	Name     string           `yaml:"name" json:"name"`
	Content  string           `yaml:"content" json:"content"`
	Trigger  WorldBookTrigger `yaml:"trigger" json:"trigger"`
	Keywords []string         `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	// Scope restricts the entry to specific conversation ids; empty = global.
	Scope []string `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// PostComment is one comment on a moments post.
type PostComment struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Post is a moments-feed entry.
type Post struct {
	ID        string        `json:"id"`
	Author    string        `json:"author"`
	Content   string        `json:"content"`
	Image     string        `json:"image,omitempty"`
	Likes     []string      `json:"likes,omitempty"`
	Comments  []PostComment `json:"comments,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// LikedBy reports whether name already liked the post.
func (p *Post) LikedBy(name string) bool {
	for _, l := range p.Likes {
		if l == name {
			return true
		}
	}
	return false
}
