// Package render draws chat traffic to the terminal. It implements the
// renderer and notifier collaborators consumed by the dispatch and core
// layers.
package render

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"starchat/internal/chat"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("28")).
			Padding(0, 1)

	charStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("254")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Bold(true)

	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	toastStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Italic(true)

	quoteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			PaddingLeft(1)

	moneyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("208")).
			Padding(0, 1)
)

// Console renders to a writer, usually stdout. Safe for concurrent use;
// the dispatcher and the background worker may both render.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates the renderer.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// RenderMessage draws one message. Hidden messages are skipped; they exist
// for history, not the surface.
func (c *Console) RenderMessage(m *chat.Message) {
	if m.Hidden {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	header := senderStyle.Render(fmt.Sprintf("%s  %s", m.Sender, m.Timestamp.Format("15:04")))
	if m.Edited {
		header += noteStyle.Render(" (edited)")
	}
	fmt.Fprintln(c.out, header)

	if m.Quote != nil {
		fmt.Fprintln(c.out, quoteStyle.Render(fmt.Sprintf("%s: %s", m.Quote.Sender, m.Quote.Snippet)))
	}
	fmt.Fprintln(c.out, c.body(m))
	fmt.Fprintln(c.out)
}

func (c *Console) body(m *chat.Message) string {
	bubble := charStyle
	if m.Role == chat.RoleUser {
		bubble = userStyle
	}
	switch m.Type {
	case chat.TypeText:
		return bubble.Render(m.Content)
	case chat.TypeVoice:
		return bubble.Render("🎤 " + m.Content)
	case chat.TypeImage:
		return bubble.Render("🖼  " + m.Content)
	case chat.TypeSticker:
		return bubble.Render("[sticker] " + m.Content)
	case chat.TypeTransfer:
		if m.Transfer != nil {
			return moneyStyle.Render(fmt.Sprintf("💸 ¥%.2f %s (%s)", m.Transfer.Amount, m.Transfer.Note, m.Transfer.Status))
		}
	case chat.TypeRedPacket:
		if p := m.RedPacket; p != nil {
			return moneyStyle.Render(fmt.Sprintf("🧧 ¥%.2f  %s  (%d/%d opened)", p.Total, p.Note, len(p.Claims), p.Count))
		}
	case chat.TypeWaimai:
		if m.Waimai != nil {
			return moneyStyle.Render(fmt.Sprintf("🍜 %s ¥%.2f (%s)", m.Waimai.Item, m.Waimai.Amount, m.Waimai.Status))
		}
	case chat.TypeLinkShare:
		if m.Link != nil {
			return bubble.Render(fmt.Sprintf("🔗 %s\n%s", m.Link.Title, m.Link.Description))
		}
	case chat.TypeCallRecord:
		if r := m.CallRecord; r != nil {
			if r.Accepted {
				return noteStyle.Render(fmt.Sprintf("📞 %s call, %s", r.Kind, r.Duration.Round(time.Second)))
			}
			return noteStyle.Render(fmt.Sprintf("📞 missed %s call", r.Kind))
		}
	case chat.TypeFriendCard:
		if m.FriendCard != nil {
			return bubble.Render(fmt.Sprintf("👤 friend recommendation: %s (%s)", m.FriendCard.Name, m.FriendCard.Reason))
		}
	case chat.TypeSystemNote:
		return noteStyle.Render(m.Content)
	case chat.TypeMusicControl:
		return noteStyle.Render("🎵 " + m.Content)
	}
	return bubble.Render(m.Content)
}

// Note draws an out-of-band notice.
func (c *Console) Note(convID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, noteStyle.Render("· "+text))
}

// Toast draws a transient attention line.
func (c *Console) Toast(convID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, toastStyle.Render("! "+text))
}
