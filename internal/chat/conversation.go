package chat

import "time"

// Participant is a chat member with an attached persona description.
type Participant struct {
	Name    string `json:"name" yaml:"name"`
	Persona string `json:"persona,omitempty" yaml:"persona,omitempty"`
	Avatar  string `json:"avatar,omitempty" yaml:"avatar,omitempty"`

	// Profile fields mutable through model actions.
	Status    string `json:"status,omitempty" yaml:"status,omitempty"`
	Signature string `json:"signature,omitempty" yaml:"signature,omitempty"`
}

// Settings holds per-conversation configuration owned by the user.
type Settings struct {
	UserName    string `json:"user_name" yaml:"user_name"`       // display name @User rewrites to
	MemoryDepth int    `json:"memory_depth" yaml:"memory_depth"` // history window; 0 = default
	Background  string `json:"background,omitempty" yaml:"background,omitempty"`
	Theme       string `json:"theme,omitempty" yaml:"theme,omitempty"`
}

// Conversation is the aggregate the dispatcher mutates. Loaded once per
// session, persisted after every applied action.
type Conversation struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`

	// Members excludes the user. Solo chats have exactly one member.
	Members  []Participant `json:"members"`
	Settings Settings      `json:"settings"`

	// Mutable counters driving the full-vs-simplified prompt decision.
	ActionCount      int       `json:"action_count"`
	LastIntelUpdate  time.Time `json:"last_intel_update,omitempty"`
	NeedsRecovery    bool      `json:"needs_recovery"` // set on parse/transport failure
	EverReplied      bool      `json:"ever_replied"`   // first-contact detection
	Blocked          bool      `json:"blocked"`
	PendingFriendReq bool      `json:"pending_friend_request"`

	// Denormalized last-message pointer, recomputed on delete.
	LastSeq            int64     `json:"last_seq"`
	LastMessageAt      time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
}

// Member returns the participant with the given name, or nil.
func (c *Conversation) Member(name string) *Participant {
	for i := range c.Members {
		if c.Members[i].Name == name {
			return &c.Members[i]
		}
	}
	return nil
}

// Counterpart returns the single member of a one-to-one chat.
// Returns nil for group conversations.
func (c *Conversation) Counterpart() *Participant {
	if c.IsGroup || len(c.Members) == 0 {
		return nil
	}
	return &c.Members[0]
}

// HistoryWindow returns the configured history depth or def when unset.
func (c *Conversation) HistoryWindow(def int) int {
	if c.Settings.MemoryDepth > 0 {
		return c.Settings.MemoryDepth
	}
	return def
}

// CallKind distinguishes voice from video calls.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// CallSession is the transient state of an active call. It exists only
// while the call is live; hang-up flushes it to a CallRecordPayload.
type CallSession struct {
	ConversationID string
	Kind           CallKind
	Caller         string
	StartedAt      time.Time
	Accepted       bool
	Transcript     []CallLine
}

// MusicSession is the transient shared music-player state.
type MusicSession struct {
	Playing bool
	Track   int
}
