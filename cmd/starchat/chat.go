package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"starchat/internal/chat"
	"starchat/internal/core"
	"starchat/internal/gateway"
)

var (
	convID      string
	charName    string
	charPersona string
	userName    string
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	go rt.book.Watch(ctx)
	go rt.service.RunSummaryWorker(ctx)

	sess, err := openSession(rt)
	if err != nil {
		return err
	}

	conv := sess.Conversation()
	fmt.Printf("Chatting with %s. Type a message, /retry to re-request a reply, /quit to exit.\n\n", conv.Name)

	// Replay the recent history so the user picks up where they left off.
	if history, err := rt.store.RecentMessages(conv.ID, conv.HistoryWindow(rt.cfg.Chat.HistoryWindow)); err == nil {
		for _, m := range history {
			rt.console.RenderMessage(m)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/retry":
			if err := <-sess.TriggerReply(ctx, gateway.PriorityUser); err != nil {
				fmt.Fprintln(os.Stderr, "retry failed:", err)
			}
			continue
		}

		done, err := sess.SubmitUserMessage(ctx, line, chat.TypeText)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if err := <-done; err != nil {
			fmt.Fprintln(os.Stderr, "reply failed:", err)
		}
	}
}

// openSession resolves which conversation to chat in: an explicit id, a
// newly created character, or the most recent existing conversation.
func openSession(rt *runtime) (*core.Session, error) {
	if convID != "" {
		return rt.service.Session(convID)
	}

	if charName != "" {
		conv := &chat.Conversation{
			ID:       uuid.NewString(),
			Name:     charName,
			Members:  []chat.Participant{{Name: charName, Persona: charPersona}},
			Settings: chat.Settings{UserName: userName},
		}
		fmt.Printf("Created conversation %s\n", conv.ID)
		return rt.service.CreateConversation(conv)
	}

	convs, err := rt.service.Conversations()
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("no conversations yet; start one with --character NAME --persona TEXT")
	}
	return rt.service.Session(convs[0].ID)
}
