package prompt

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starchat/internal/chat"
	"starchat/internal/config"
)

type fakeStore struct {
	messages   []*chat.Message
	memories   []chat.MemoryRecord
	edges      map[string][]chat.RelationshipEdge
	countdowns []chat.CountdownRecord
	private    map[string][]chat.MemoryRecord
	lastQuery  string
}

func (f *fakeStore) RecentMessages(convID string, limit int) ([]*chat.Message, error) {
	if len(f.messages) > limit {
		return f.messages[len(f.messages)-limit:], nil
	}
	return f.messages, nil
}

func (f *fakeStore) SearchMemories(convID, query string, limit int) ([]chat.MemoryRecord, error) {
	f.lastQuery = query
	if len(f.memories) > limit {
		return f.memories[:limit], nil
	}
	return f.memories, nil
}

func (f *fakeStore) EdgesFrom(source string) ([]chat.RelationshipEdge, error) {
	return f.edges[source], nil
}

func (f *fakeStore) ListCountdowns(convID string) ([]chat.CountdownRecord, error) {
	return f.countdowns, nil
}

func (f *fakeStore) PrivateChatMemories(member string, limit int) ([]chat.MemoryRecord, error) {
	recs := f.private[member]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func testConv() *chat.Conversation {
	return &chat.Conversation{
		ID:          "conv-1",
		Name:        "Mika",
		Members:     []chat.Participant{{Name: "Mika", Persona: "a quiet painter"}},
		Settings:    chat.Settings{UserName: "You"},
		EverReplied: true,
	}
}

func msgAt(role chat.Role, sender, content string, at time.Time) *chat.Message {
	m := chat.NewMessage("conv-1", role, sender, chat.TypeText, content)
	m.Timestamp = at
	return m
}

func newTestAssembler(f *fakeStore) *Assembler {
	return NewAssembler(f, nil, config.DefaultChatConfig(), Catalog{})
}

func TestNeedsFullInstructions(t *testing.T) {
	a := newTestAssembler(&fakeStore{})
	now := time.Now()
	a.now = func() time.Time { return now }

	tests := []struct {
		name   string
		mutate func(*chat.Conversation)
		want   bool
	}{
		{"steady_state", func(c *chat.Conversation) {
			c.ActionCount = 7
			c.LastMessageAt = now.Add(-time.Hour)
		}, false},
		{"first_contact", func(c *chat.Conversation) { c.EverReplied = false }, true},
		{"recovery", func(c *chat.Conversation) { c.NeedsRecovery = true }, true},
		{"long_idle", func(c *chat.Conversation) {
			c.LastMessageAt = now.Add(-7 * time.Hour)
		}, true},
		{"stale_intel_recent_talk", func(c *chat.Conversation) {
			// An active chat stays simplified no matter how old the
			// last full block is; idleness follows the last message.
			c.ActionCount = 7
			c.LastMessageAt = now.Add(-time.Minute)
			c.LastIntelUpdate = now.Add(-48 * time.Hour)
		}, false},
		{"cadence", func(c *chat.Conversation) {
			c.ActionCount = 60
			c.LastMessageAt = now.Add(-time.Minute)
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConv()
			tt.mutate(c)
			assert.Equal(t, tt.want, a.NeedsFullInstructions(c))
		})
	}
}

func TestAssembleFullClearsRecovery(t *testing.T) {
	a := newTestAssembler(&fakeStore{})
	c := testConv()
	c.NeedsRecovery = true

	p, err := a.Assemble(c)
	require.NoError(t, err)
	assert.True(t, p.Full)
	assert.False(t, c.NeedsRecovery, "selecting the full block consumes the flag")
	assert.False(t, c.LastIntelUpdate.IsZero())
	assert.Contains(t, p.System, "roleplaying")
	assert.Contains(t, p.System, "OUTPUT FORMAT")
}

func TestAssembleSimplified(t *testing.T) {
	a := newTestAssembler(&fakeStore{})
	c := testConv()
	c.ActionCount = 3
	c.LastMessageAt = time.Now().Add(-time.Minute)

	p, err := a.Assemble(c)
	require.NoError(t, err)
	assert.False(t, p.Full)
	assert.NotContains(t, p.System, "Available actions")
	assert.Contains(t, p.System, "OUTPUT FORMAT")
}

func TestPayloadMergesSameRole(t *testing.T) {
	base := time.Now()
	f := &fakeStore{messages: []*chat.Message{
		msgAt(chat.RoleUser, "You", "hi", base),
		msgAt(chat.RoleUser, "You", "you there?", base.Add(10*time.Second)),
		msgAt(chat.RoleAssistant, "Mika", "here now", base.Add(20*time.Second)),
		msgAt(chat.RoleUser, "You", "good", base.Add(30*time.Second)),
	}}
	p, err := newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)

	require.Len(t, p.Payload, 3)
	assert.Equal(t, "user", p.Payload[0].Role)
	assert.Equal(t, "You: hi\nYou: you there?", p.Payload[0].Content)
	assert.Equal(t, "assistant", p.Payload[1].Role)
	assert.Equal(t, "user", p.Payload[2].Role)
}

func TestPayloadTimeGapMarker(t *testing.T) {
	base := time.Now()
	f := &fakeStore{messages: []*chat.Message{
		msgAt(chat.RoleUser, "You", "good night", base),
		msgAt(chat.RoleAssistant, "Mika", "morning!", base.Add(8*time.Hour)),
	}}
	p, err := newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)

	require.Len(t, p.Payload, 2)
	assert.Contains(t, p.Payload[1].Content, "[8h pass]")
}

func TestPayloadSkipsHidden(t *testing.T) {
	base := time.Now()
	hidden := msgAt(chat.RoleUser, "You", "secret", base)
	hidden.Hidden = true
	f := &fakeStore{messages: []*chat.Message{
		hidden,
		msgAt(chat.RoleUser, "You", "visible", base.Add(time.Second)),
	}}
	p, err := newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)
	require.Len(t, p.Payload, 1)
	assert.NotContains(t, p.Payload[0].Content, "secret")
}

func TestMemorySectionDedupesAndQueries(t *testing.T) {
	f := &fakeStore{
		messages: []*chat.Message{
			msgAt(chat.RoleUser, "You", "what should we eat", time.Now()),
		},
		memories: []chat.MemoryRecord{
			{Content: "user dislikes cilantro", Important: true},
			{Content: "User dislikes cilantro "},
			{Content: "user paints on weekends"},
		},
	}
	p, err := newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)

	assert.Equal(t, "what should we eat", f.lastQuery)
	assert.Equal(t, 1, strings.Count(strings.ToLower(p.System), "dislikes cilantro"))
	assert.Contains(t, p.System, "[important]")
}

func TestMemoryDuplicatesDoNotConsumeCap(t *testing.T) {
	// Four distinct memories plus duplicates; a cap applied before the
	// dedupe would starve the section.
	f := &fakeStore{memories: []chat.MemoryRecord{
		{Content: "user dislikes cilantro"},
		{Content: "User dislikes cilantro"},
		{Content: "user paints on weekends"},
		{Content: "user has a cat named Miso"},
		{Content: "user works night shifts"},
		{Content: "user grew up near the sea"},
	}}
	p, err := newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)

	assert.Contains(t, p.System, "paints on weekends")
	assert.Contains(t, p.System, "cat named Miso")
	assert.Contains(t, p.System, "night shifts")
	assert.Equal(t, 1, strings.Count(strings.ToLower(p.System), "dislikes cilantro"))
	assert.NotContains(t, p.System, "near the sea", "section stays capped after deduping")
}

func TestCatalogSections(t *testing.T) {
	f := &fakeStore{}
	a := NewAssembler(f, nil, config.DefaultChatConfig(), Catalog{
		Stickers:    []string{"wave", "cry", "sleepy"},
		Backgrounds: []string{"night_city"},
	})
	p, err := a.Assemble(testConv())
	require.NoError(t, err)
	assert.Contains(t, p.System, "STICKERS")
	assert.Contains(t, p.System, "wave, cry, sleepy")
	assert.Contains(t, p.System, "BACKGROUNDS")
	assert.Contains(t, p.System, "night_city")

	// An empty catalog omits both sections.
	p, err = newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)
	assert.NotContains(t, p.System, "STICKERS")
	assert.NotContains(t, p.System, "BACKGROUNDS")
}

func TestGroupPromptCarriesPrivateChatSummaries(t *testing.T) {
	f := &fakeStore{private: map[string][]chat.MemoryRecord{
		"Mika": {{Content: "told the user about the gallery rejection"}},
		"Rin":  {{Content: "planned a beach trip with the user"}},
	}}
	c := testConv()
	c.IsGroup = true
	c.Members = append(c.Members, chat.Participant{Name: "Rin"})

	p, err := newTestAssembler(f).Assemble(c)
	require.NoError(t, err)
	assert.Contains(t, p.System, "PRIVATE CHATS")
	assert.Contains(t, p.System, "Mika: told the user about the gallery rejection")
	assert.Contains(t, p.System, "Rin: planned a beach trip with the user")

	// Private chats never leak into a one-on-one prompt.
	p, err = newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)
	assert.NotContains(t, p.System, "PRIVATE CHATS")
}

func TestRelationshipSectionFiltersOutsiders(t *testing.T) {
	f := &fakeStore{edges: map[string][]chat.RelationshipEdge{
		"Mika": {
			{Source: "Mika", Target: "You", Score: 4, Kind: "friend"},
			{Source: "Mika", Target: "Stranger", Score: -2},
		},
	}}
	p, err := newTestAssembler(f).Assemble(testConv())
	require.NoError(t, err)
	assert.Contains(t, p.System, "Mika -> You: 4 (friend)")
	assert.NotContains(t, p.System, "Stranger")
}

func TestGroupSceneNamesPerformers(t *testing.T) {
	f := &fakeStore{}
	c := testConv()
	c.IsGroup = true
	c.Members = append(c.Members, chat.Participant{Name: "Rin"})

	p, err := newTestAssembler(f).Assemble(c)
	require.NoError(t, err)
	assert.Contains(t, p.System, "group chat")
	assert.Contains(t, p.System, "names its performer")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestWorldBookInjection(t *testing.T) {
	dir := t.TempDir()
	writeWB := func(name, content string) {
		require.NoError(t, writeFile(dir+"/"+name, content))
	}
	writeWB("lore.yaml", `
- id: city
  name: Setting
  content: The story is set in a rainy coastal city.
  trigger: always
- id: gallery
  name: Gallery
  content: Mika exhibits at the Harbor Gallery.
  trigger: keyword
  keywords: [gallery, exhibit]
`)

	wb, err := NewWorldBook(dir)
	require.NoError(t, err)

	f := &fakeStore{messages: []*chat.Message{
		msgAt(chat.RoleUser, "You", "how is the gallery going", time.Now()),
	}}
	a := NewAssembler(f, wb, config.DefaultChatConfig(), Catalog{})
	p, err := a.Assemble(testConv())
	require.NoError(t, err)
	assert.Contains(t, p.System, "rainy coastal city")
	assert.Contains(t, p.System, "Harbor Gallery")

	// Without the keyword only the always-on entry appears.
	f.messages = []*chat.Message{msgAt(chat.RoleUser, "You", "hello", time.Now())}
	p, err = a.Assemble(testConv())
	require.NoError(t, err)
	assert.Contains(t, p.System, "rainy coastal city")
	assert.NotContains(t, p.System, "Harbor Gallery")
}
