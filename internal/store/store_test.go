package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starchat/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation() *chat.Conversation {
	return &chat.Conversation{
		ID:      "conv-1",
		Name:    "Mika",
		Members: []chat.Participant{{Name: "Mika", Persona: "a quiet painter"}},
		Settings: chat.Settings{
			UserName: "You",
		},
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	c := testConversation()
	c.ActionCount = 7
	c.NeedsRecovery = true
	require.NoError(t, s.SaveConversation(c))

	got, err := s.LoadConversation("conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.ActionCount)
	assert.True(t, got.NeedsRecovery)
	assert.Equal(t, "a quiet painter", got.Members[0].Persona)

	missing, err := s.LoadConversation("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	s := newTestStore(t)
	c := testConversation()
	require.NoError(t, s.SaveConversation(c))

	for i := 1; i <= 5; i++ {
		m := chat.NewMessage(c.ID, chat.RoleUser, "You", chat.TypeText, fmt.Sprintf("msg %d", i))
		require.NoError(t, s.AppendMessage(c, m))
		assert.Equal(t, int64(i), m.Seq)
	}
	assert.Equal(t, int64(5), c.LastSeq)

	// Conversation row was persisted inside the append transaction.
	reloaded, err := s.LoadConversation(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), reloaded.LastSeq)
	assert.Equal(t, "msg 5", reloaded.LastMessagePreview)
}

func TestRecentMessagesWindow(t *testing.T) {
	s := newTestStore(t)
	c := testConversation()
	require.NoError(t, s.SaveConversation(c))
	for i := 1; i <= 12; i++ {
		m := chat.NewMessage(c.ID, chat.RoleUser, "You", chat.TypeText, fmt.Sprintf("m%d", i))
		require.NoError(t, s.AppendMessage(c, m))
	}

	window, err := s.RecentMessages(c.ID, 10)
	require.NoError(t, err)
	require.Len(t, window, 10)
	assert.Equal(t, "m3", window[0].Content)
	assert.Equal(t, "m12", window[9].Content)
	// Ascending seq within the window.
	for i := 1; i < len(window); i++ {
		assert.Greater(t, window[i].Seq, window[i-1].Seq)
	}
}

func TestUpdateMessageEdit(t *testing.T) {
	s := newTestStore(t)
	c := testConversation()
	require.NoError(t, s.SaveConversation(c))

	m := chat.NewMessage(c.ID, chat.RoleAssistant, "Mika", chat.TypeText, "first draft")
	require.NoError(t, s.AppendMessage(c, m))

	m.Content = "second thoughts"
	m.Edited = true
	require.NoError(t, s.UpdateMessage(m))

	got, err := s.FindMessage(c.ID, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second thoughts", got.Content)
	assert.True(t, got.Edited)
	assert.Equal(t, m.Seq, got.Seq)

	ghost := chat.NewMessage(c.ID, chat.RoleUser, "You", chat.TypeText, "never stored")
	assert.Error(t, s.UpdateMessage(ghost))
}

func TestDeleteRecomputesLastMessage(t *testing.T) {
	s := newTestStore(t)
	c := testConversation()
	require.NoError(t, s.SaveConversation(c))

	var msgs []*chat.Message
	for i := 1; i <= 3; i++ {
		m := chat.NewMessage(c.ID, chat.RoleUser, "You", chat.TypeText, fmt.Sprintf("m%d", i))
		require.NoError(t, s.AppendMessage(c, m))
		msgs = append(msgs, m)
	}

	updated, err := s.DeleteMessages(c.ID, msgs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, "m2", updated.LastMessagePreview)

	// Deleting everything clears the pointer.
	updated, err = s.DeleteMessages(c.ID, msgs[0].ID, msgs[1].ID)
	require.NoError(t, err)
	assert.Empty(t, updated.LastMessagePreview)
	assert.True(t, updated.LastMessageAt.IsZero())

	// Seq keeps counting from where it left off.
	m := chat.NewMessage(c.ID, chat.RoleUser, "You", chat.TypeText, "after delete")
	require.NoError(t, s.AppendMessage(updated, m))
	assert.Equal(t, int64(4), m.Seq)
}

func TestEdges(t *testing.T) {
	s := newTestStore(t)

	e, err := s.GetEdge("Mika", "You")
	require.NoError(t, err)
	assert.Equal(t, 0, e.Score)

	require.NoError(t, s.UpsertEdge(chat.RelationshipEdge{Source: "Mika", Target: "You", Score: 3, Kind: "friend"}))
	require.NoError(t, s.UpsertEdge(chat.RelationshipEdge{Source: "Mika", Target: "You", Score: 5}))

	e, err = s.GetEdge("Mika", "You")
	require.NoError(t, err)
	assert.Equal(t, 5, e.Score)
	// Empty kind on update does not clobber the stored kind.
	assert.Equal(t, "friend", e.Kind)

	all, err := s.EdgesFrom("Mika")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemorySearchRanking(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	add := func(id, content string, important bool, keywords ...string) {
		require.NoError(t, s.AddMemory(&chat.MemoryRecord{
			ID: id, ConversationID: "conv-1", Author: "Mika",
			Content: content, Important: important, Keywords: keywords,
			CreatedAt: now,
		}, nil))
	}
	add("m1", "user dislikes cilantro", false, "food", "cilantro")
	add("m2", "user's birthday is in June", true)
	add("m3", "talked about the weather", false)

	got, err := s.SearchMemories("conv-1", "what food should we order, no cilantro", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Important memory always leads, keyword hit second.
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
}

func TestPrivateChatMemories(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveConversation(testConversation()))
	require.NoError(t, s.SaveConversation(&chat.Conversation{
		ID: "g1", Name: "studio friends", IsGroup: true,
		Members:  []chat.Participant{{Name: "Mika"}, {Name: "Rin"}},
		Settings: chat.Settings{UserName: "You"},
	}))

	now := time.Now()
	add := func(id, convID, content string, at time.Time) {
		require.NoError(t, s.AddMemory(&chat.MemoryRecord{
			ID: id, ConversationID: convID, Author: "Mika",
			Content: content, CreatedAt: at,
		}, nil))
	}
	add("m1", "conv-1", "user asked Mika to keep a secret", now.Add(-2*time.Hour))
	add("m2", "conv-1", "user promised to visit the studio", now.Add(-time.Hour))
	add("m3", "g1", "the group planned a dinner", now)

	// Newest first, scoped to the member's one-on-one conversation.
	got, err := s.PrivateChatMemories("Mika", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "user promised to visit the studio", got[0].Content)

	// A member without a one-on-one conversation yields nothing.
	got, err = s.PrivateChatMemories("Rin", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := &chat.Post{ID: "p1", Author: "Mika", Content: "sunset sketch", CreatedAt: time.Now()}
	require.NoError(t, s.SavePost(p))

	p.Likes = append(p.Likes, "You")
	p.Comments = append(p.Comments, chat.PostComment{Author: "You", Text: "love it", At: time.Now()})
	require.NoError(t, s.SavePost(p))

	got, err := s.FindPost("p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LikedBy("You"))
	require.Len(t, got.Comments, 1)

	feed, err := s.ListPosts(10)
	require.NoError(t, err)
	assert.Len(t, feed, 1)
}

func TestDiaryAndCountdowns(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddDiaryEntry(&chat.DiaryEntry{
		ID: "d1", ConversationID: "conv-1", Author: "Mika",
		Content: "today felt lighter", Mood: "calm", CreatedAt: time.Now(),
	}))
	entries, err := s.ListDiary("conv-1", "Mika", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "calm", entries[0].Mood)

	require.NoError(t, s.AddCountdown(&chat.CountdownRecord{
		ID: "c1", ConversationID: "conv-1", Author: "Mika",
		Title: "exhibition opening", Target: time.Now().Add(48 * time.Hour), CreatedAt: time.Now(),
	}))
	cds, err := s.ListCountdowns("conv-1")
	require.NoError(t, err)
	require.Len(t, cds, 1)
	assert.Equal(t, "exhibition opening", cds[0].Title)
}
