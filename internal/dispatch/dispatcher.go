// Package dispatch is the action state machine: it walks a decoded model
// reply in order, resolves each action's performer, applies it through a
// handler, persists the result, and paces the visible output so a burst of
// actions reads like someone typing.
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"starchat/internal/chat"
	"starchat/internal/logging"
	"starchat/internal/metrics"
	"starchat/internal/relation"
)

// Store is the persistence surface the handlers mutate.
type Store interface {
	AppendMessage(c *chat.Conversation, m *chat.Message) error
	UpdateMessage(m *chat.Message) error
	FindMessage(convID, id string) (*chat.Message, error)
	SaveConversation(c *chat.Conversation) error
	SavePost(p *chat.Post) error
	FindPost(id string) (*chat.Post, error)
	AddCountdown(c *chat.CountdownRecord) error
	AddCallLog(id, convID string, rec *chat.CallRecordPayload) error
}

// Renderer receives every applied surface change immediately, before the
// pacing delay for the next action starts.
type Renderer interface {
	// RenderMessage shows a newly appended or updated message.
	RenderMessage(m *chat.Message)
	// Note shows a transient out-of-band notice for a conversation.
	Note(convID, text string)
}

// State is the mutable session state a reply is applied against. Conv is
// persistent; Call and Music are transient surface state.
type State struct {
	Conv  *chat.Conversation
	Call  *chat.CallSession
	Music *chat.MusicSession
}

type handler func(ctx context.Context, st *State, actor string, a chat.Action) error

// Dispatcher applies replies. One dispatcher serves all conversations; the
// caller (the session layer) guarantees replies for the same conversation
// arrive one at a time.
type Dispatcher struct {
	store    Store
	relation *relation.Engine
	renderer Renderer
	handlers map[string]handler
	stickers map[string]bool

	// pace sleeps between consecutive actions. Injectable for tests.
	pace func(ctx context.Context)
}

// Config carries the dispatcher knobs.
type Config struct {
	PaceMinMs int
	PaceMaxMs int
	// Stickers is the known sticker catalog. Empty disables validation.
	Stickers []string
}

// New wires the dispatcher and its handler registry.
func New(store Store, rel *relation.Engine, renderer Renderer, cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		relation: rel,
		renderer: renderer,
		stickers: make(map[string]bool, len(cfg.Stickers)),
		pace:     defaultPacer(cfg.PaceMinMs, cfg.PaceMaxMs),
	}
	for _, s := range cfg.Stickers {
		d.stickers[s] = true
	}
	d.handlers = map[string]handler{
		// Messaging
		"text":          d.handleText,
		"quote_reply":   d.handleQuoteReply,
		"send_sticker":  d.handleSticker,
		"voice_message": d.handleVoice,
		"send_photo":    d.handlePhoto,
		"share_link":    d.handleShareLink,

		// Money
		"transfer":            d.handleTransfer,
		"respond_to_transfer": d.handleRespondToTransfer,
		"red_packet":          d.handleRedPacket,
		"open_red_packet":     d.handleOpenRedPacket,
		"waimai_request":      d.handleWaimaiRequest,
		"waimai_response":     d.handleWaimaiResponse,

		// Profile / surface
		"update_status":    d.handleUpdateStatus,
		"update_signature": d.handleUpdateSignature,
		"change_avatar":    d.handleChangeAvatar,
		"update_name":      d.handleUpdateName,
		"set_background":   d.handleSetBackground,

		// Moments
		"create_post":     d.handleCreatePost,
		"like_post":       d.handleLikePost,
		"comment_on_post": d.handleCommentOnPost,

		// Memory / reflection
		"create_memory":           d.handleCreateMemory,
		"create_important_memory": d.handleImportantMemory,
		"create_diary_entry":      d.handleDiaryEntry,
		"create_countdown":        d.handleCreateCountdown,

		// Social
		"pat_user":                d.handlePatUser,
		"pat_member":              d.handlePatMember,
		"recommend_friend":        d.handleRecommendFriend,
		"friend_request_response": d.handleFriendRequestResponse,
		"block_user":              d.handleBlockUser,
		"unblock_user":            d.handleUnblockUser,

		// Calls
		"initiate_voice_call": d.handleInitiateCall,
		"initiate_video_call": d.handleInitiateCall,
		"respond_to_call":     d.handleRespondToCall,
		"call_line":           d.handleCallLine,
		"hang_up_call":        d.handleHangUp,

		// Music
		"spotify_toggle_play":    d.handleSpotify,
		"spotify_next_track":     d.handleSpotify,
		"spotify_previous_track": d.handleSpotify,
	}
	// Variants some models emit despite the documented vocabulary.
	for alias, canonical := range map[string]string{
		"send_image":                "send_photo",
		"respond_to_waimai":         "waimai_response",
		"update_avatar":             "change_avatar",
		"important_memory":          "create_important_memory",
		"write_diary":               "create_diary_entry",
		"respond_to_friend_request": "friend_request_response",
		"initiate_call":             "initiate_voice_call",
		"hang_up":                   "hang_up_call",
		"spotify_play":              "spotify_toggle_play",
		"spotify_pause":             "spotify_toggle_play",
	} {
		d.handlers[alias] = d.handlers[canonical]
	}
	return d
}

// isHangUp matches the hang-up action and its legacy spelling; both end the
// call and discard the rest of the batch.
func isHangUp(t string) bool {
	return t == "hang_up_call" || t == "hang_up"
}

// Apply walks the reply's actions in order, then the relationship deltas.
// Individual action failures are logged and skipped; the rest of the reply
// still applies. A hang_up_call action discards everything after it.
func (d *Dispatcher) Apply(ctx context.Context, st *State, reply *chat.ModelReply) error {
	logging.Dispatch("applying reply conv=%s actions=%d deltas=%d", st.Conv.ID, len(reply.Actions), len(reply.Deltas))

	for i, a := range reply.Actions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i > 0 {
			d.pace(ctx)
		}

		if d.applyOne(ctx, st, a) && isHangUp(a.Type) {
			if rest := len(reply.Actions) - i - 1; rest > 0 {
				logging.Dispatch("hang_up: discarding %d trailing action(s) conv=%s", rest, st.Conv.ID)
			}
			break
		}
	}

	d.relation.ApplyDeltas(st.Conv, reply.Deltas)

	// Flush the counters the loop accumulated.
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.relation.NoteActivity(st.Conv.ID, st.Conv.ActionCount)
	return nil
}

// applyOne resolves the actor, runs the handler, and bumps the action
// counter. Reports whether the action was applied.
func (d *Dispatcher) applyOne(ctx context.Context, st *State, a chat.Action) bool {
	actor, ok := d.actorFor(st, a)
	if !ok {
		logging.Get(logging.CategoryDispatch).Warn("action %q skipped: unresolvable actor %q conv=%s",
			a.Type, a.Str("name"), st.Conv.ID)
		metrics.ActionsSkipped.Inc()
		return false
	}

	h, known := d.handlers[a.Type]
	if !known {
		h = d.handleUnknown
	}
	if err := h(ctx, st, actor, a); err != nil {
		logging.Get(logging.CategoryDispatch).Error("action %q failed conv=%s: %v", a.Type, st.Conv.ID, err)
		metrics.ActionsSkipped.Inc()
		return false
	}

	st.Conv.ActionCount++
	metrics.ActionsDispatched.WithLabelValues(a.Type).Inc()
	logging.DispatchDebug("applied %q actor=%s conv=%s count=%d", a.Type, actor, st.Conv.ID, st.Conv.ActionCount)
	return true
}

// actorFor resolves which character performs the action. Group actions must
// name a member; one-to-one actions always resolve to the counterpart and a
// wrong or missing name is forgiven.
func (d *Dispatcher) actorFor(st *State, a chat.Action) (string, bool) {
	if st.Conv.IsGroup {
		name := a.Str("name", "sender", "char_name")
		if m := st.Conv.Member(name); m != nil {
			return m.Name, true
		}
		return "", false
	}
	if cp := st.Conv.Counterpart(); cp != nil {
		return cp.Name, true
	}
	return "", false
}

// handleUnknown keeps unrecognized actions visible instead of silently
// dropping them, so prompt drift shows up on the surface.
func (d *Dispatcher) handleUnknown(ctx context.Context, st *State, actor string, a chat.Action) error {
	logging.Get(logging.CategoryDispatch).Warn("unknown action type %q conv=%s", a.Type, st.Conv.ID)
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSystemNote,
		"[unsupported action] "+a.Raw())
	return d.emit(st, m)
}

// emit is the single write path for message-producing handlers: persist,
// then render immediately.
func (d *Dispatcher) emit(st *State, m *chat.Message) error {
	if err := d.store.AppendMessage(st.Conv, m); err != nil {
		return err
	}
	d.renderer.RenderMessage(m)
	return nil
}

// update is the single write path for handlers that mutate an existing
// message in place.
func (d *Dispatcher) update(m *chat.Message) error {
	if err := d.store.UpdateMessage(m); err != nil {
		return err
	}
	d.renderer.RenderMessage(m)
	return nil
}

func defaultPacer(minMs, maxMs int) func(ctx context.Context) {
	if maxMs <= 0 {
		return func(ctx context.Context) {}
	}
	return func(ctx context.Context) {
		d := time.Duration(minMs) * time.Millisecond
		if span := maxMs - minMs; span > 0 {
			d += time.Duration(rand.Intn(span)) * time.Millisecond
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
}
