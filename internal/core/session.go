// Package core orchestrates a conversation turn: user input in, guarded
// inference, tolerant extraction, and dispatch of the resulting actions.
package core

import (
	"context"
	"fmt"

	"starchat/internal/chat"
	"starchat/internal/dispatch"
	"starchat/internal/extract"
	"starchat/internal/gateway"
	"starchat/internal/logging"
	"starchat/internal/metrics"
	"starchat/internal/prompt"
)

// Store is the persistence slice the session itself touches; everything
// else goes through the dispatcher.
type Store interface {
	AppendMessage(c *chat.Conversation, m *chat.Message) error
	SaveConversation(c *chat.Conversation) error
}

// Notifier surfaces transient, non-history notices to the user.
type Notifier interface {
	Toast(convID, text string)
}

// Session binds one conversation to the shared pipeline. All methods must
// be called from a single logical owner (the CLI loop or an HTTP handler);
// inference itself is serialized by the guard.
type Session struct {
	State *dispatch.State

	store      Store
	assembler  *prompt.Assembler
	llm        gateway.LLMClient
	guard      *gateway.Guard
	dispatcher *dispatch.Dispatcher
	renderer   dispatch.Renderer
	notifier   Notifier
}

// NewSession wires a session around loaded conversation state.
func NewSession(conv *chat.Conversation, store Store, assembler *prompt.Assembler,
	llm gateway.LLMClient, guard *gateway.Guard, dispatcher *dispatch.Dispatcher,
	renderer dispatch.Renderer, notifier Notifier) *Session {
	return &Session{
		State:      &dispatch.State{Conv: conv},
		store:      store,
		assembler:  assembler,
		llm:        llm,
		guard:      guard,
		dispatcher: dispatcher,
		renderer:   renderer,
		notifier:   notifier,
	}
}

// Conversation returns the session's conversation aggregate.
func (s *Session) Conversation() *chat.Conversation {
	return s.State.Conv
}

// SubmitUserMessage persists the user's message, shows it, and triggers an
// assistant reply at user priority. An empty msgType means plain text;
// image and voice submissions carry their transcript or description as
// content.
func (s *Session) SubmitUserMessage(ctx context.Context, content string, msgType chat.MessageType) (<-chan error, error) {
	conv := s.State.Conv
	if conv.Blocked {
		s.notifier.Toast(conv.ID, "Message not delivered: you have been blocked.")
		return nil, fmt.Errorf("conversation %s is blocked", conv.ID)
	}
	if msgType == "" {
		msgType = chat.TypeText
	}

	m := chat.NewMessage(conv.ID, chat.RoleUser, conv.Settings.UserName, msgType, content)
	if err := s.store.AppendMessage(conv, m); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	s.renderer.RenderMessage(m)
	logging.Session("user message conv=%s seq=%d type=%s len=%d", conv.ID, m.Seq, msgType, len(content))

	return s.TriggerReply(ctx, gateway.PriorityUser), nil
}

// TriggerReply requests an assistant turn through the guard. If a turn is
// already queued for this conversation the request short-circuits with a
// toast instead of stacking.
func (s *Session) TriggerReply(ctx context.Context, p gateway.Priority) <-chan error {
	conv := s.State.Conv
	if s.guard.IsQueued(conv.ID) {
		logging.SessionDebug("reply already queued conv=%s, short-circuit", conv.ID)
		s.notifier.Toast(conv.ID, "Still replying, please wait...")
		done := make(chan error, 1)
		done <- nil
		return done
	}

	return s.guard.Enqueue(ctx, conv.ID, p, func(ctx context.Context) error {
		return s.runInference(ctx)
	})
}

// runInference is the guarded body of one assistant turn.
func (s *Session) runInference(ctx context.Context) error {
	conv := s.State.Conv

	pr, err := s.assembler.Assemble(conv)
	if err != nil {
		return fmt.Errorf("assemble prompt: %w", err)
	}

	raw, err := s.llm.CompleteChat(ctx, pr.System, pr.Payload)
	if err != nil {
		metrics.InferenceRequests.WithLabelValues("error").Inc()
		s.markRecovery(fmt.Sprintf("The other side seems offline (%v). Tap to retry.", err))
		return fmt.Errorf("inference: %w", err)
	}
	metrics.InferenceRequests.WithLabelValues("ok").Inc()

	return s.ApplyIncomingModelReply(ctx, raw)
}

// ApplyIncomingModelReply decodes a raw model reply and plays it against
// the conversation. Exposed so replays and external integrations can apply
// a reply without running inference; an undecodable reply sets the
// recovery flag exactly as an inference turn would.
func (s *Session) ApplyIncomingModelReply(ctx context.Context, raw string) error {
	conv := s.State.Conv

	reply := extract.DecodeReply(raw)
	if reply == nil || len(reply.Actions) == 0 {
		logging.Get(logging.CategorySession).Warn("unusable reply conv=%s raw: %.500s", conv.ID, raw)
		s.markRecovery(fmt.Sprintf("Reply got garbled in transit (raw: %.120s). Tap to retry.", raw))
		return fmt.Errorf("reply could not be decoded")
	}

	conv.EverReplied = true
	return s.dispatcher.Apply(ctx, s.State, reply)
}

// markRecovery flags the conversation so the next turn re-sends the full
// instruction block, and tells the user what happened.
func (s *Session) markRecovery(toast string) {
	conv := s.State.Conv
	conv.NeedsRecovery = true
	if err := s.store.SaveConversation(conv); err != nil {
		logging.Get(logging.CategorySession).Error("persist recovery flag conv=%s: %v", conv.ID, err)
	}
	s.notifier.Toast(conv.ID, toast)
}

// IngestIncoming records a message that arrived from outside the model
// loop (an HTTP ingest, a simulated event) without triggering a reply.
func (s *Session) IngestIncoming(m *chat.Message) error {
	if err := s.store.AppendMessage(s.State.Conv, m); err != nil {
		return fmt.Errorf("persist incoming message: %w", err)
	}
	s.renderer.RenderMessage(m)
	return nil
}
