// Package prompt turns conversation state into the system prompt and
// message payload sent to the model: instruction selection, persona blocks,
// memory retrieval, world-book injection, and history windowing.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"starchat/internal/chat"
	"starchat/internal/config"
	"starchat/internal/logging"
)

// Store is the read-only slice of persistence the assembler needs.
type Store interface {
	RecentMessages(convID string, limit int) ([]*chat.Message, error)
	SearchMemories(convID, query string, limit int) ([]chat.MemoryRecord, error)
	EdgesFrom(source string) ([]chat.RelationshipEdge, error)
	ListCountdowns(convID string) ([]chat.CountdownRecord, error)
	// PrivateChatMemories returns recent summary memories from a member's
	// one-to-one conversation, for group prompts.
	PrivateChatMemories(member string, limit int) ([]chat.MemoryRecord, error)
}

// Catalog lists the assets the model may reference by name.
type Catalog struct {
	Stickers    []string
	Backgrounds []string
}

// Lore yields the active world-book entries for a conversation.
type Lore interface {
	EntriesFor(convID, recentText string) []chat.WorldBookEntry
}

// Prompt is the assembled request.
type Prompt struct {
	System  string
	Payload []chat.PromptMessage
	// Full reports whether the full instruction block was selected.
	Full bool
}

// Assembler builds prompts. Safe for concurrent use; all mutable state
// lives in the conversation passed per call.
type Assembler struct {
	store   Store
	lore    Lore
	cfg     config.ChatConfig
	catalog Catalog
	now     func() time.Time
}

// NewAssembler wires the assembler. lore may be nil; an empty catalog
// omits the asset sections.
func NewAssembler(store Store, lore Lore, cfg config.ChatConfig, cat Catalog) *Assembler {
	return &Assembler{store: store, lore: lore, cfg: cfg, catalog: cat, now: time.Now}
}

// NeedsFullInstructions decides between the full and simplified system
// blocks. Full on first contact, after a recovery, after a long idle gap,
// and on a fixed cadence of applied actions.
func (a *Assembler) NeedsFullInstructions(c *chat.Conversation) bool {
	switch {
	case !c.EverReplied:
		return true
	case c.NeedsRecovery:
		return true
	case !c.LastMessageAt.IsZero() && a.now().Sub(c.LastMessageAt) > a.cfg.IdleThreshold:
		return true
	case c.ActionCount > 0 && c.ActionCount%a.cfg.FullPromptEvery == 0:
		return true
	}
	return false
}

// Assemble builds the prompt for the conversation's next assistant turn.
// Selecting the full block consumes the recovery flag and refreshes the
// idle clock; the caller persists the conversation afterwards.
func (a *Assembler) Assemble(c *chat.Conversation) (*Prompt, error) {
	full := a.NeedsFullInstructions(c)
	if full {
		c.NeedsRecovery = false
		c.LastIntelUpdate = a.now()
	}

	window, err := a.store.RecentMessages(c.ID, c.HistoryWindow(a.cfg.HistoryWindow))
	if err != nil {
		return nil, fmt.Errorf("load history window: %w", err)
	}

	payload := a.buildPayload(c, window)
	recentText := flattenWindow(window)

	var sb strings.Builder
	if full {
		sb.WriteString(fullInstructions)
	} else {
		sb.WriteString(simplifiedInstructions)
	}
	sb.WriteString("\n\n")
	a.writeScene(&sb, c)
	a.writePersonas(&sb, c)
	a.writePrivateChats(&sb, c)
	a.writeCatalogs(&sb)
	a.writeWorldBook(&sb, c, recentText)
	a.writeMemories(&sb, c, window)
	a.writeRelationships(&sb, c)
	a.writeCountdowns(&sb, c)

	logging.PromptDebug("assembled prompt conv=%s full=%v system_len=%d payload=%d",
		c.ID, full, sb.Len(), len(payload))
	return &Prompt{System: sb.String(), Payload: payload, Full: full}, nil
}

func (a *Assembler) writeScene(sb *strings.Builder, c *chat.Conversation) {
	if c.IsGroup {
		fmt.Fprintf(sb, "SCENE: group chat %q with %d members. ", c.Name, len(c.Members))
		fmt.Fprintf(sb, "The user goes by %q.\n", c.Settings.UserName)
		sb.WriteString("You control every member except the user. Each action names its performer.\n\n")
	} else {
		fmt.Fprintf(sb, "SCENE: private chat between you and the user, who goes by %q.\n\n", c.Settings.UserName)
	}
	fmt.Fprintf(sb, "Current time: %s\n\n", a.now().Format("Monday 2006-01-02 15:04"))
}

func (a *Assembler) writePersonas(sb *strings.Builder, c *chat.Conversation) {
	sb.WriteString("CHARACTERS:\n")
	for _, m := range c.Members {
		fmt.Fprintf(sb, "- %s", m.Name)
		if m.Status != "" {
			fmt.Fprintf(sb, " (status: %s)", m.Status)
		}
		if m.Signature != "" {
			fmt.Fprintf(sb, " (signature: %s)", m.Signature)
		}
		sb.WriteString("\n")
		if m.Persona != "" {
			sb.WriteString(indent(m.Persona, "  "))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
}

// writePrivateChats surfaces what each group member and the user have been
// through one-on-one, so group turns stay consistent with private history.
func (a *Assembler) writePrivateChats(sb *strings.Builder, c *chat.Conversation) {
	if !c.IsGroup {
		return
	}
	var lines []string
	for _, m := range c.Members {
		recs, err := a.store.PrivateChatMemories(m.Name, 2)
		if err != nil {
			logging.Get(logging.CategoryPrompt).Warn("private summary failed for %s: %v", m.Name, err)
			continue
		}
		for _, r := range recs {
			lines = append(lines, fmt.Sprintf("- %s: %s", m.Name, r.Content))
		}
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("PRIVATE CHATS (each member's one-on-one history with the user):\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\n")
}

func (a *Assembler) writeCatalogs(sb *strings.Builder) {
	if len(a.catalog.Stickers) > 0 {
		fmt.Fprintf(sb, "STICKERS (send_sticker uses these names only): %s\n\n",
			strings.Join(a.catalog.Stickers, ", "))
	}
	if len(a.catalog.Backgrounds) > 0 {
		fmt.Fprintf(sb, "BACKGROUNDS (set_background uses these names only): %s\n\n",
			strings.Join(a.catalog.Backgrounds, ", "))
	}
}

func (a *Assembler) writeWorldBook(sb *strings.Builder, c *chat.Conversation, recentText string) {
	if a.lore == nil {
		return
	}
	entries := a.lore.EntriesFor(c.ID, recentText)
	if len(entries) == 0 {
		return
	}
	sb.WriteString("WORLD:\n")
	for _, e := range entries {
		fmt.Fprintf(sb, "- %s: %s\n", e.Name, e.Content)
	}
	sb.WriteString("\n")
}

// writeMemories retrieves memories against the latest user text, dedupes by
// content, and caps the section.
func (a *Assembler) writeMemories(sb *strings.Builder, c *chat.Conversation, window []*chat.Message) {
	query := ""
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role == chat.RoleUser && window[i].Type == chat.TypeText {
			query = window[i].Content
			break
		}
	}
	// Over-fetch so duplicates collapse before the cap, not after.
	records, err := a.store.SearchMemories(c.ID, query, a.cfg.MemoryCap*4)
	if err != nil {
		logging.Get(logging.CategoryPrompt).Warn("memory retrieval failed conv=%s: %v", c.ID, err)
		return
	}
	if len(records) == 0 {
		return
	}

	seen := make(map[string]bool, len(records))
	written := 0
	sb.WriteString("MEMORIES:\n")
	for _, r := range records {
		if written >= a.cfg.MemoryCap {
			break
		}
		key := strings.ToLower(strings.TrimSpace(r.Content))
		if seen[key] {
			continue
		}
		seen[key] = true
		written++
		if r.Important {
			fmt.Fprintf(sb, "- [important] %s\n", r.Content)
		} else {
			fmt.Fprintf(sb, "- %s\n", r.Content)
		}
	}
	sb.WriteString("\n")
}

func (a *Assembler) writeRelationships(sb *strings.Builder, c *chat.Conversation) {
	inConv := map[string]bool{c.Settings.UserName: true}
	for _, m := range c.Members {
		inConv[m.Name] = true
	}

	var lines []string
	for _, m := range c.Members {
		edges, err := a.store.EdgesFrom(m.Name)
		if err != nil {
			logging.Get(logging.CategoryPrompt).Warn("edge retrieval failed for %s: %v", m.Name, err)
			continue
		}
		for _, e := range edges {
			if !inConv[e.Target] {
				continue
			}
			line := fmt.Sprintf("- %s -> %s: %d", e.Source, e.Target, e.Score)
			if e.Kind != "" {
				line += " (" + e.Kind + ")"
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("RELATIONSHIPS (score in [-10,10]):\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\n")
}

func (a *Assembler) writeCountdowns(sb *strings.Builder, c *chat.Conversation) {
	cds, err := a.store.ListCountdowns(c.ID)
	if err != nil || len(cds) == 0 {
		return
	}
	now := a.now()
	sb.WriteString("COUNTDOWNS:\n")
	for _, cd := range cds {
		days := int(cd.Target.Sub(now).Hours() / 24)
		fmt.Fprintf(sb, "- %s: %d day(s) away\n", cd.Title, days)
	}
	sb.WriteString("\n")
}

// buildPayload converts the history window into the model payload: hidden
// messages dropped, time-gap markers injected, consecutive same-role
// messages merged into one entry.
func (a *Assembler) buildPayload(c *chat.Conversation, window []*chat.Message) []chat.PromptMessage {
	var payload []chat.PromptMessage
	var prev *chat.Message

	for _, m := range window {
		if m.Hidden {
			continue
		}
		line := formatLine(m)
		if prev != nil && a.cfg.TimeGapMarker > 0 {
			if gap := m.Timestamp.Sub(prev.Timestamp); gap > a.cfg.TimeGapMarker {
				line = fmt.Sprintf("[%s pass]\n%s", humanDuration(gap), line)
			}
		}

		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "assistant"
		}
		if n := len(payload); n > 0 && payload[n-1].Role == role {
			payload[n-1].Content += "\n" + line
		} else {
			payload = append(payload, chat.PromptMessage{Role: role, Content: line})
		}
		prev = m
	}
	return payload
}

// formatLine renders one message as the model sees it.
func formatLine(m *chat.Message) string {
	prefix := m.Sender + ": "
	switch m.Type {
	case chat.TypeText:
		return prefix + m.Content
	case chat.TypeVoice:
		return prefix + "[voice] " + m.Content
	case chat.TypeImage:
		return prefix + "[photo: " + m.Content + "]"
	case chat.TypeSticker:
		return prefix + "[sticker: " + m.Content + "]"
	case chat.TypeTransfer:
		if m.Transfer != nil {
			return prefix + fmt.Sprintf("[transfer ¥%.2f (%s) %s]", m.Transfer.Amount, m.Transfer.Status, m.Transfer.Note)
		}
	case chat.TypeRedPacket:
		if m.RedPacket != nil {
			return prefix + fmt.Sprintf("[red packet ¥%.2f x%d %s]", m.RedPacket.Total, m.RedPacket.Count, m.RedPacket.Note)
		}
	case chat.TypeWaimai:
		if m.Waimai != nil {
			return prefix + fmt.Sprintf("[delivery request: %s ¥%.2f (%s)]", m.Waimai.Item, m.Waimai.Amount, m.Waimai.Status)
		}
	case chat.TypeLinkShare:
		if m.Link != nil {
			return prefix + fmt.Sprintf("[link: %s]", m.Link.Title)
		}
	case chat.TypeCallRecord:
		if m.CallRecord != nil {
			return prefix + fmt.Sprintf("[%s call, %s]", m.CallRecord.Kind, humanDuration(m.CallRecord.Duration))
		}
	case chat.TypeSystemNote:
		return "[system] " + m.Content
	}
	return prefix + "[" + string(m.Type) + "] " + m.Content
}

func flattenWindow(window []*chat.Message) string {
	var sb strings.Builder
	for _, m := range window {
		if m.Hidden {
			continue
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func indent(s, pad string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := range lines {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}
