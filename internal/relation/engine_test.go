package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starchat/internal/chat"
)

type fakeStore struct {
	edges    map[string]chat.RelationshipEdge
	memories []*chat.MemoryRecord
	diary    []*chat.DiaryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{edges: make(map[string]chat.RelationshipEdge)}
}

func (f *fakeStore) key(s, t string) string { return s + "->" + t }

func (f *fakeStore) GetEdge(source, target string) (chat.RelationshipEdge, error) {
	if e, ok := f.edges[f.key(source, target)]; ok {
		return e, nil
	}
	return chat.RelationshipEdge{Source: source, Target: target}, nil
}

func (f *fakeStore) UpsertEdge(e chat.RelationshipEdge) error {
	f.edges[f.key(e.Source, e.Target)] = e
	return nil
}

func (f *fakeStore) AddMemory(m *chat.MemoryRecord, _ []byte) error {
	f.memories = append(f.memories, m)
	return nil
}

func (f *fakeStore) AddDiaryEntry(d *chat.DiaryEntry) error {
	f.diary = append(f.diary, d)
	return nil
}

func groupConv() *chat.Conversation {
	return &chat.Conversation{
		ID:      "g1",
		IsGroup: true,
		Members: []chat.Participant{{Name: "Mika"}, {Name: "Rin"}},
		Settings: chat.Settings{
			UserName: "You",
		},
	}
}

func TestApplyDeltasResolvesAndClamps(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f, nil)
	c := groupConv()

	applied := e.ApplyDeltas(c, []chat.RelationshipDelta{
		{Source: "Mika", Target: "User", Change: 3},
		{Source: "Mika", Target: "Rin", Change: -2},
	})
	assert.Equal(t, 2, applied)

	edge, _ := f.GetEdge("Mika", "You")
	assert.Equal(t, 3, edge.Score)
	edge, _ = f.GetEdge("Mika", "Rin")
	assert.Equal(t, -2, edge.Score)

	// Repeated large deltas pin at the bounds.
	for i := 0; i < 10; i++ {
		e.ApplyDeltas(c, []chat.RelationshipDelta{{Source: "Mika", Target: "You", Change: 5}})
	}
	edge, _ = f.GetEdge("Mika", "You")
	assert.Equal(t, ScoreMax, edge.Score)

	for i := 0; i < 20; i++ {
		e.ApplyDeltas(c, []chat.RelationshipDelta{{Source: "Rin", Target: "You", Change: -4}})
	}
	edge, _ = f.GetEdge("Rin", "You")
	assert.Equal(t, ScoreMin, edge.Score)
}

func TestApplyDeltasBoundsSingleAdjustment(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f, nil)
	c := groupConv()

	f.edges[f.key("Mika", "You")] = chat.RelationshipEdge{Source: "Mika", Target: "You", Score: -5}

	// One adjustment moves the score by at most 10, whatever the model asked.
	applied := e.ApplyDeltas(c, []chat.RelationshipDelta{
		{Source: "Mika", Target: "You", Change: 100},
	})
	assert.Equal(t, 1, applied)
	edge, _ := f.GetEdge("Mika", "You")
	assert.Equal(t, 5, edge.Score, "-5 plus a bounded +10, not a jump to the cap")

	applied = e.ApplyDeltas(c, []chat.RelationshipDelta{
		{Source: "Mika", Target: "You", Change: -999},
	})
	assert.Equal(t, 1, applied)
	edge, _ = f.GetEdge("Mika", "You")
	assert.Equal(t, -5, edge.Score)
}

func TestApplyDeltasSkipsZeroChange(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f, nil)
	c := groupConv()

	applied := e.ApplyDeltas(c, []chat.RelationshipDelta{
		{Source: "Mika", Target: "You", Change: 0},
	})
	assert.Equal(t, 0, applied)
	assert.Empty(t, f.edges, "a zero change never writes an edge")
}

func TestApplyDeltasSkipsUnresolvable(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f, nil)
	c := groupConv()

	applied := e.ApplyDeltas(c, []chat.RelationshipDelta{
		{Source: "Nobody", Target: "You", Change: 2},
		{Source: "Mika", Target: "Ghost", Change: 2},
		{Source: "Mika", Target: "Mika", Change: 2},
		{Source: "Rin", Target: "You", Change: 1},
	})
	assert.Equal(t, 1, applied, "only the fully-resolvable delta lands")
	assert.Len(t, f.edges, 1)
}

func TestRecordMemoryAndDiary(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f, nil)

	require.NoError(t, e.RecordMemory(context.Background(), "g1", "Mika", "user hates mondays", true))
	require.Len(t, f.memories, 1)
	assert.True(t, f.memories[0].Important)
	assert.NotEmpty(t, f.memories[0].ID)

	require.NoError(t, e.RecordDiary("g1", "Mika", "long day at the studio", "tired"))
	require.Len(t, f.diary, 1)
	assert.Equal(t, "tired", f.diary[0].Mood)
}

func TestNoteActivityCadence(t *testing.T) {
	e := NewEngine(newFakeStore(), nil)

	e.NoteActivity("g1", 19)
	e.NoteActivity("g1", 0)
	select {
	case <-e.Triggers():
		t.Fatal("trigger fired off-cadence")
	default:
	}

	e.NoteActivity("g1", 20)
	select {
	case tr := <-e.Triggers():
		assert.Equal(t, "g1", tr.ConversationID)
	default:
		t.Fatal("expected a trigger at the cadence boundary")
	}
}

func TestNoteActivityNeverBlocks(t *testing.T) {
	e := NewEngine(newFakeStore(), nil)
	// Nobody consumes; far more triggers than channel capacity.
	for i := 1; i <= 50; i++ {
		e.NoteActivity("g1", i*20)
	}
}
