package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"starchat/internal/chat"
	"starchat/internal/logging"
)

// =============================================================================
// MESSAGING
// =============================================================================

// rewriteMentions replaces the model-facing @User placeholder with the
// user's display name.
func rewriteMentions(content, userName string) string {
	content = strings.ReplaceAll(content, "@User", "@"+userName)
	content = strings.ReplaceAll(content, "@user", "@"+userName)
	return content
}

func (d *Dispatcher) handleText(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "message", "text")
	if content == "" {
		return fmt.Errorf("text action without content")
	}
	content = rewriteMentions(content, st.Conv.Settings.UserName)
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeText, content))
}

func (d *Dispatcher) handleQuoteReply(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "message")
	if content == "" {
		return fmt.Errorf("quote_reply without content")
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeText,
		rewriteMentions(content, st.Conv.Settings.UserName))

	if id := a.Str("quote_id", "reply_to"); id != "" {
		src, err := d.store.FindMessage(st.Conv.ID, id)
		if err != nil {
			return err
		}
		if src != nil {
			m.Quote = chat.QuoteOf(src)
		} else {
			logging.DispatchDebug("quote_reply: quoted message %s gone, sending unquoted", id)
		}
	}
	return d.emit(st, m)
}

func (d *Dispatcher) handleSticker(ctx context.Context, st *State, actor string, a chat.Action) error {
	name := a.Str("sticker", "name_of_sticker", "content")
	if name == "" {
		return fmt.Errorf("send_sticker without a sticker name")
	}
	// A sticker outside the catalog degrades to a plain text message.
	if len(d.stickers) > 0 && !d.stickers[name] {
		logging.DispatchDebug("sticker %q not in catalog, degrading to text conv=%s", name, st.Conv.ID)
		return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeText, name))
	}
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSticker, name))
}

func (d *Dispatcher) handleVoice(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "text")
	if content == "" {
		return fmt.Errorf("voice_message without content")
	}
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeVoice, content))
}

func (d *Dispatcher) handlePhoto(ctx context.Context, st *State, actor string, a chat.Action) error {
	desc := a.Str("description", "content")
	if desc == "" {
		return fmt.Errorf("send_photo without description")
	}
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeImage, desc))
}

func (d *Dispatcher) handleShareLink(ctx context.Context, st *State, actor string, a chat.Action) error {
	title := a.Str("title")
	if title == "" {
		return fmt.Errorf("share_link without title")
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeLinkShare, title)
	m.Link = &chat.LinkPayload{
		Title:       title,
		URL:         a.Str("url"),
		Description: a.Str("description"),
	}
	return d.emit(st, m)
}

// =============================================================================
// MONEY
// =============================================================================

func (d *Dispatcher) handleTransfer(ctx context.Context, st *State, actor string, a chat.Action) error {
	amount := a.Float("amount")
	if amount <= 0 {
		return fmt.Errorf("transfer with non-positive amount %v", amount)
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeTransfer, "")
	m.Transfer = &chat.TransferPayload{
		Amount: amount,
		Note:   a.Str("note", "content"),
		Status: chat.TransferPending,
	}
	return d.emit(st, m)
}

func (d *Dispatcher) handleRespondToTransfer(ctx context.Context, st *State, actor string, a chat.Action) error {
	src, err := d.findQuoted(st, a, chat.TypeTransfer)
	if err != nil {
		return err
	}
	if src.Transfer.Status != chat.TransferPending {
		logging.DispatchDebug("transfer %s already %s, ignoring", src.ID, src.Transfer.Status)
		return nil
	}
	if a.Bool("decision", "accept") {
		src.Transfer.Status = chat.TransferClaimed
	} else {
		src.Transfer.Status = chat.TransferDeclined
	}
	return d.update(src)
}

func (d *Dispatcher) handleWaimaiRequest(ctx context.Context, st *State, actor string, a chat.Action) error {
	item := a.Str("item", "content")
	amount := a.Float("amount")
	if item == "" || amount <= 0 {
		return fmt.Errorf("waimai_request needs item and positive amount")
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeWaimai, "")
	m.Waimai = &chat.WaimaiPayload{Item: item, Amount: amount, Status: chat.WaimaiPending}
	return d.emit(st, m)
}

func (d *Dispatcher) handleWaimaiResponse(ctx context.Context, st *State, actor string, a chat.Action) error {
	src, err := d.findQuoted(st, a, chat.TypeWaimai)
	if err != nil {
		return err
	}
	if src.Waimai.Status != chat.WaimaiPending {
		return nil
	}
	if a.Bool("decision", "accept") {
		src.Waimai.Status = chat.WaimaiAccepted
	} else {
		src.Waimai.Status = chat.WaimaiDeclined
	}
	return d.update(src)
}

// findQuoted loads the message an action points at and checks its type and
// payload presence.
func (d *Dispatcher) findQuoted(st *State, a chat.Action, want chat.MessageType) (*chat.Message, error) {
	id := a.Str("quote_id", "message_id", "id")
	if id == "" {
		return nil, fmt.Errorf("%s action without quote_id", a.Type)
	}
	src, err := d.store.FindMessage(st.Conv.ID, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%s: message %s not found", a.Type, id)
	}
	if src.Type != want {
		return nil, fmt.Errorf("%s: message %s is %s, want %s", a.Type, id, src.Type, want)
	}
	switch want {
	case chat.TypeTransfer:
		if src.Transfer == nil {
			return nil, fmt.Errorf("message %s has no transfer payload", id)
		}
	case chat.TypeWaimai:
		if src.Waimai == nil {
			return nil, fmt.Errorf("message %s has no waimai payload", id)
		}
	case chat.TypeRedPacket:
		if src.RedPacket == nil {
			return nil, fmt.Errorf("message %s has no red packet payload", id)
		}
	}
	return src, nil
}

// =============================================================================
// PROFILE / SURFACE
// =============================================================================

func (d *Dispatcher) handleUpdateStatus(ctx context.Context, st *State, actor string, a chat.Action) error {
	m := st.Conv.Member(actor)
	if m == nil {
		return fmt.Errorf("update_status: no participant %q", actor)
	}
	m.Status = a.Str("status", "content")
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s updated their status: %s", actor, m.Status))
	return nil
}

func (d *Dispatcher) handleUpdateSignature(ctx context.Context, st *State, actor string, a chat.Action) error {
	m := st.Conv.Member(actor)
	if m == nil {
		return fmt.Errorf("update_signature: no participant %q", actor)
	}
	m.Signature = a.Str("signature", "content")
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s changed their signature", actor))
	return nil
}

func (d *Dispatcher) handleChangeAvatar(ctx context.Context, st *State, actor string, a chat.Action) error {
	m := st.Conv.Member(actor)
	if m == nil {
		return fmt.Errorf("change_avatar: no participant %q", actor)
	}
	m.Avatar = a.Str("avatar", "description", "content")
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s changed their avatar", actor))
	return nil
}

func (d *Dispatcher) handleUpdateName(ctx context.Context, st *State, actor string, a chat.Action) error {
	newName := a.Str("name_value", "new_name", "name")
	if st.Conv.IsGroup {
		// In groups "name" addresses the performer, so the new value must
		// arrive under a dedicated key.
		newName = a.Str("name_value", "new_name")
	}
	if newName == "" {
		return fmt.Errorf("update_name without a new name")
	}
	m := st.Conv.Member(actor)
	if m == nil {
		return fmt.Errorf("update_name: no participant %q", actor)
	}
	old := m.Name
	m.Name = newName
	if !st.Conv.IsGroup {
		st.Conv.Name = newName
	}
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s is now known as %s", old, newName))
	return nil
}

func (d *Dispatcher) handleSetBackground(ctx context.Context, st *State, actor string, a chat.Action) error {
	st.Conv.Settings.Background = a.Str("background", "description", "content")
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s changed the chat background", actor))
	return nil
}

// =============================================================================
// MOMENTS
// =============================================================================

func (d *Dispatcher) handleCreatePost(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "text")
	if content == "" {
		return fmt.Errorf("create_post without content")
	}
	p := &chat.Post{
		ID:        uuid.NewString(),
		Author:    actor,
		Content:   content,
		Image:     a.Str("image", "image_description"),
		CreatedAt: time.Now(),
	}
	if err := d.store.SavePost(p); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s posted a moment: %s", actor, content))
	return nil
}

func (d *Dispatcher) handleLikePost(ctx context.Context, st *State, actor string, a chat.Action) error {
	p, err := d.findPost(a)
	if err != nil {
		return err
	}
	if p.LikedBy(actor) {
		return nil
	}
	p.Likes = append(p.Likes, actor)
	if err := d.store.SavePost(p); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s liked %s's post", actor, p.Author))
	return nil
}

func (d *Dispatcher) handleCommentOnPost(ctx context.Context, st *State, actor string, a chat.Action) error {
	text := a.Str("comment", "content")
	if text == "" {
		return fmt.Errorf("comment_on_post without text")
	}
	p, err := d.findPost(a)
	if err != nil {
		return err
	}
	p.Comments = append(p.Comments, chat.PostComment{Author: actor, Text: text, At: time.Now()})
	if err := d.store.SavePost(p); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s commented on %s's post", actor, p.Author))
	return nil
}

func (d *Dispatcher) findPost(a chat.Action) (*chat.Post, error) {
	id := a.Str("post_id", "id")
	if id == "" {
		return nil, fmt.Errorf("%s without post_id", a.Type)
	}
	p, err := d.store.FindPost(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%s: post %s not found", a.Type, id)
	}
	return p, nil
}

// =============================================================================
// MEMORY / REFLECTION
// =============================================================================

func (d *Dispatcher) handleCreateMemory(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "memory")
	if content == "" {
		return fmt.Errorf("create_memory without content")
	}
	return d.relation.RecordMemory(ctx, st.Conv.ID, actor, content, false)
}

func (d *Dispatcher) handleImportantMemory(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "memory")
	if content == "" {
		return fmt.Errorf("create_important_memory without content")
	}
	return d.relation.RecordMemory(ctx, st.Conv.ID, actor, content, true)
}

func (d *Dispatcher) handleDiaryEntry(ctx context.Context, st *State, actor string, a chat.Action) error {
	content := a.Str("content", "entry")
	if content == "" {
		return fmt.Errorf("create_diary_entry without content")
	}
	return d.relation.RecordDiary(st.Conv.ID, actor, content, a.Str("mood"))
}

func (d *Dispatcher) handleCreateCountdown(ctx context.Context, st *State, actor string, a chat.Action) error {
	title := a.Str("title", "content")
	dateStr := a.Str("date", "target", "target_date")
	if title == "" || dateStr == "" {
		return fmt.Errorf("create_countdown needs title and date")
	}
	target, err := parseDate(dateStr)
	if err != nil {
		return fmt.Errorf("create_countdown: %w", err)
	}
	return d.store.AddCountdown(&chat.CountdownRecord{
		ID:             uuid.NewString(),
		ConversationID: st.Conv.ID,
		Author:         actor,
		Title:          title,
		Target:         target,
		CreatedAt:      time.Now(),
	})
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// =============================================================================
// SOCIAL
// =============================================================================

func (d *Dispatcher) handlePatUser(ctx context.Context, st *State, actor string, a chat.Action) error {
	note := fmt.Sprintf("%s patted %s", actor, st.Conv.Settings.UserName)
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSystemNote, note))
}

func (d *Dispatcher) handlePatMember(ctx context.Context, st *State, actor string, a chat.Action) error {
	target := a.Str("target", "member")
	if st.Conv.Member(target) == nil {
		return fmt.Errorf("pat_member: no member %q", target)
	}
	note := fmt.Sprintf("%s patted %s", actor, target)
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSystemNote, note))
}

func (d *Dispatcher) handleRecommendFriend(ctx context.Context, st *State, actor string, a chat.Action) error {
	name := a.Str("friend_name", "friend")
	if name == "" {
		// "name" is the performer key in groups; accept it 1:1 only.
		if !st.Conv.IsGroup {
			name = a.Str("name")
		}
	}
	if name == "" {
		return fmt.Errorf("recommend_friend without a name")
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeFriendCard, name)
	m.FriendCard = &chat.FriendCardPayload{Name: name, Reason: a.Str("reason")}
	return d.emit(st, m)
}

func (d *Dispatcher) handleFriendRequestResponse(ctx context.Context, st *State, actor string, a chat.Action) error {
	if !st.Conv.PendingFriendReq {
		logging.DispatchDebug("friend_request_response with no pending request conv=%s", st.Conv.ID)
		return nil
	}
	st.Conv.PendingFriendReq = false
	var note string
	if a.Bool("decision", "accept") {
		note = fmt.Sprintf("%s accepted the friend request", actor)
	} else {
		note = fmt.Sprintf("%s declined the friend request", actor)
	}
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSystemNote, note))
}

func (d *Dispatcher) handleBlockUser(ctx context.Context, st *State, actor string, a chat.Action) error {
	st.Conv.Blocked = true
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s blocked you", actor))
	return nil
}

func (d *Dispatcher) handleUnblockUser(ctx context.Context, st *State, actor string, a chat.Action) error {
	st.Conv.Blocked = false
	if err := d.store.SaveConversation(st.Conv); err != nil {
		return err
	}
	d.renderer.Note(st.Conv.ID, fmt.Sprintf("%s unblocked you", actor))
	return nil
}

// =============================================================================
// MUSIC
// =============================================================================

func (d *Dispatcher) handleSpotify(ctx context.Context, st *State, actor string, a chat.Action) error {
	if st.Music == nil {
		st.Music = &chat.MusicSession{}
	}
	var desc string
	switch a.Type {
	case "spotify_toggle_play":
		st.Music.Playing = !st.Music.Playing
		if st.Music.Playing {
			desc = "resumed the music"
		} else {
			desc = "paused the music"
		}
	case "spotify_play":
		st.Music.Playing = true
		desc = "resumed the music"
	case "spotify_pause":
		st.Music.Playing = false
		desc = "paused the music"
	case "spotify_next_track":
		st.Music.Track++
		desc = "skipped to the next track"
	case "spotify_previous_track":
		if st.Music.Track > 0 {
			st.Music.Track--
		}
		desc = "went back a track"
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeMusicControl,
		fmt.Sprintf("%s %s", actor, desc))
	return d.emit(st, m)
}
