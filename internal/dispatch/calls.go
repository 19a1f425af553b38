package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"starchat/internal/chat"
	"starchat/internal/logging"
)

// =============================================================================
// CALLS
// =============================================================================
// A call is transient session state between initiation and hang_up_call.
// Transcript lines persist as hidden messages so history survives a crash;
// hang_up_call flushes the permanent call record.

func (d *Dispatcher) handleInitiateCall(ctx context.Context, st *State, actor string, a chat.Action) error {
	if st.Call != nil {
		return fmt.Errorf("%s: a call is already active", a.Type)
	}
	kind := chat.CallVoice
	if a.Type == "initiate_video_call" || a.Str("call_type", "kind") == "video" {
		kind = chat.CallVideo
	}
	st.Call = &chat.CallSession{
		ConversationID: st.Conv.ID,
		Kind:           kind,
		Caller:         actor,
		StartedAt:      time.Now(),
	}
	note := fmt.Sprintf("%s started a %s call", actor, kind)
	return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSystemNote, note))
}

func (d *Dispatcher) handleRespondToCall(ctx context.Context, st *State, actor string, a chat.Action) error {
	if st.Call == nil {
		return fmt.Errorf("respond_to_call with no active call")
	}
	if a.Bool("decision", "accept") {
		st.Call.Accepted = true
		note := fmt.Sprintf("%s answered the call", actor)
		return d.emit(st, chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeSystemNote, note))
	}
	// Decline ends the call immediately with a zero-duration record.
	return d.finishCall(st, actor)
}

func (d *Dispatcher) handleCallLine(ctx context.Context, st *State, actor string, a chat.Action) error {
	if st.Call == nil {
		return fmt.Errorf("call_line with no active call")
	}
	content := a.Str("content", "text")
	if content == "" {
		return fmt.Errorf("call_line without content")
	}
	st.Call.Transcript = append(st.Call.Transcript, chat.CallLine{Speaker: actor, Text: content})

	// Hidden in the chat surface; the call overlay renders it live.
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeVoice, content)
	m.Hidden = true
	return d.emit(st, m)
}

func (d *Dispatcher) handleHangUp(ctx context.Context, st *State, actor string, a chat.Action) error {
	if st.Call == nil {
		logging.DispatchDebug("hang_up_call with no active call conv=%s", st.Conv.ID)
		return nil
	}
	return d.finishCall(st, actor)
}

// finishCall flushes the transient call session into a permanent record and
// a visible call-record message.
func (d *Dispatcher) finishCall(st *State, actor string) error {
	call := st.Call
	st.Call = nil

	rec := &chat.CallRecordPayload{
		Kind:       call.Kind,
		StartedAt:  call.StartedAt,
		Accepted:   call.Accepted,
		Transcript: call.Transcript,
	}
	if call.Accepted {
		rec.Duration = time.Since(call.StartedAt)
	}

	if err := d.store.AddCallLog(uuid.NewString(), st.Conv.ID, rec); err != nil {
		return err
	}
	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeCallRecord, "")
	m.CallRecord = rec
	return d.emit(st, m)
}
