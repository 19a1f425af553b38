package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"starchat/internal/chat"
	"starchat/internal/dispatch"
	"starchat/internal/gateway"
	"starchat/internal/logging"
	"starchat/internal/prompt"
	"starchat/internal/relation"
)

// ServiceStore extends the session store with the lookups the service and
// the summary worker need.
type ServiceStore interface {
	Store
	LoadConversation(id string) (*chat.Conversation, error)
	ListConversations() ([]*chat.Conversation, error)
	RecentMessages(convID string, limit int) ([]*chat.Message, error)
}

// Service owns the session registry and the background summary worker.
// Sessions share one guard, one dispatcher, and one LLM client.
type Service struct {
	store      ServiceStore
	assembler  *prompt.Assembler
	llm        gateway.LLMClient
	guard      *gateway.Guard
	dispatcher *dispatch.Dispatcher
	renderer   dispatch.Renderer
	notifier   Notifier
	relation   *relation.Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService wires the service.
func NewService(store ServiceStore, assembler *prompt.Assembler, llm gateway.LLMClient,
	guard *gateway.Guard, dispatcher *dispatch.Dispatcher, renderer dispatch.Renderer,
	notifier Notifier, rel *relation.Engine) *Service {
	return &Service{
		store:      store,
		assembler:  assembler,
		llm:        llm,
		guard:      guard,
		dispatcher: dispatcher,
		renderer:   renderer,
		notifier:   notifier,
		relation:   rel,
		sessions:   make(map[string]*Session),
	}
}

// Session returns the live session for a conversation, loading it on first
// use. Unknown ids are an error; conversations are created explicitly.
func (s *Service) Session(convID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[convID]; ok {
		return sess, nil
	}
	conv, err := s.store.LoadConversation(convID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", convID)
	}
	sess := NewSession(conv, s.store, s.assembler, s.llm, s.guard, s.dispatcher, s.renderer, s.notifier)
	s.sessions[convID] = sess
	logging.Session("session opened conv=%s group=%v members=%d", conv.ID, conv.IsGroup, len(conv.Members))
	return sess, nil
}

// CreateConversation persists a new conversation and opens its session.
func (s *Service) CreateConversation(conv *chat.Conversation) (*Session, error) {
	if conv.ID == "" {
		return nil, fmt.Errorf("conversation needs an id")
	}
	if err := s.store.SaveConversation(conv); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := NewSession(conv, s.store, s.assembler, s.llm, s.guard, s.dispatcher, s.renderer, s.notifier)
	s.sessions[conv.ID] = sess
	return sess, nil
}

// Conversations lists everything in the store, for pickers and the HTTP
// surface.
func (s *Service) Conversations() ([]*chat.Conversation, error) {
	return s.store.ListConversations()
}

// =============================================================================
// SUMMARY WORKER
// =============================================================================

const summarySystemPrompt = `Summarize the recent conversation below into 2-4 short factual
sentences a character would remember later. Third person, past tense,
names kept as written. Reply with plain text only.`

// RunSummaryWorker consumes summary triggers until ctx is cancelled. Each
// trigger becomes a background-priority inference; losing the queue slot to
// a user turn is expected and fine.
func (s *Service) RunSummaryWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tr := <-s.relation.Triggers():
			done := s.guard.Enqueue(ctx, tr.ConversationID, gateway.PriorityBackground, func(ctx context.Context) error {
				return s.summarize(ctx, tr.ConversationID)
			})
			go func(convID string) {
				if err := <-done; err != nil {
					logging.SessionDebug("summary skipped conv=%s: %v", convID, err)
				}
			}(tr.ConversationID)
		}
	}
}

func (s *Service) summarize(ctx context.Context, convID string) error {
	window, err := s.store.RecentMessages(convID, 30)
	if err != nil {
		return err
	}
	if len(window) < 4 {
		return nil
	}

	var sb strings.Builder
	for _, m := range window {
		if m.Hidden || m.Type != chat.TypeText {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Sender, m.Content)
	}
	if sb.Len() == 0 {
		return nil
	}

	summary, err := s.llm.CompleteChat(ctx, summarySystemPrompt,
		[]chat.PromptMessage{{Role: "user", Content: sb.String()}})
	if err != nil {
		return fmt.Errorf("summary inference: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}
	logging.Session("summary stored conv=%s len=%d", convID, len(summary))
	return s.relation.RecordMemory(ctx, convID, "narrator", summary, false)
}
