package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType discriminates the message tagged union.
type MessageType string

const (
	TypeText          MessageType = "text"
	TypeImage         MessageType = "image"
	TypeSticker       MessageType = "sticker"
	TypeVoice         MessageType = "voice"
	TypeAudio         MessageType = "audio"
	TypeTransfer      MessageType = "transfer"
	TypeRedPacket     MessageType = "red_packet"
	TypeWaimai        MessageType = "waimai_request"
	TypeLinkShare     MessageType = "link_share"
	TypeSystemNote    MessageType = "system_note"
	TypeCallRecord    MessageType = "call_record"
	TypeFriendCard    MessageType = "friend_recommendation"
	TypePostNotice    MessageType = "post_notice"
	TypeMusicControl  MessageType = "music_control"
)

// Quote is a copied snapshot of the message being replied to.
// Never a live pointer: the snippet survives edits and deletions of the
// original.
type Quote struct {
	Sender  string `json:"sender"`
	Snippet string `json:"snippet"`
}

// Message is one entry in a conversation's append-only history.
// ID is the stable identity; Seq is a per-conversation monotonic sequence
// used for ordering and "last message" recomputation. Timestamp is
// denormalized display time only.
type Message struct {
	ID             string      `json:"id"`
	Seq            int64       `json:"seq"`
	ConversationID string      `json:"conversation_id"`
	Role           Role        `json:"role"`
	Sender         string      `json:"sender"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Hidden         bool        `json:"hidden,omitempty"`
	Edited         bool        `json:"edited,omitempty"`
	Quote          *Quote      `json:"quote,omitempty"`

	// Type-specific payloads; at most one is set.
	Transfer   *TransferPayload   `json:"transfer,omitempty"`
	RedPacket  *RedPacketPayload  `json:"red_packet,omitempty"`
	Waimai     *WaimaiPayload     `json:"waimai,omitempty"`
	Link       *LinkPayload       `json:"link,omitempty"`
	CallRecord *CallRecordPayload `json:"call_record,omitempty"`
	FriendCard *FriendCardPayload `json:"friend_card,omitempty"`
}

// NewMessage constructs a message with a fresh identity. Seq is assigned by
// the store on append.
func NewMessage(convID string, role Role, sender string, t MessageType, content string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           role,
		Sender:         sender,
		Type:           t,
		Content:        content,
		Timestamp:      time.Now(),
	}
}

// QuoteOf builds a quote snapshot from a source message. Long content is
// truncated so the snippet stays a preview, not a copy.
func QuoteOf(src *Message) *Quote {
	snippet := src.Content
	if len(snippet) > 60 {
		snippet = snippet[:60] + "..."
	}
	return &Quote{Sender: src.Sender, Snippet: snippet}
}

// Preview returns a short single-line description used for the
// conversation's last-message pointer.
func (m *Message) Preview() string {
	switch m.Type {
	case TypeText, TypeVoice:
		s := strings.ReplaceAll(m.Content, "\n", " ")
		if len(s) > 40 {
			s = s[:40] + "..."
		}
		return s
	case TypeImage:
		return "[photo]"
	case TypeSticker:
		return "[sticker]"
	case TypeTransfer:
		return "[transfer]"
	case TypeRedPacket:
		return "[red packet]"
	case TypeWaimai:
		return "[delivery request]"
	case TypeLinkShare:
		return "[link]"
	case TypeCallRecord:
		return "[call]"
	case TypeFriendCard:
		return "[friend recommendation]"
	default:
		return "[" + string(m.Type) + "]"
	}
}
