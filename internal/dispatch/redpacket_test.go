package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starchat/internal/chat"
)

func sendLuckyPacket(t *testing.T, d *Dispatcher, s *memStore, st *State, total float64, count int) string {
	t.Helper()
	err := d.Apply(context.Background(), st, &chat.ModelReply{Actions: []chat.Action{
		act("red_packet", "name", "Mika", "packet_type", "lucky", "amount", total, "count", float64(count)),
	}})
	require.NoError(t, err)
	id := s.order[len(s.order)-1]
	require.Equal(t, chat.TypeRedPacket, s.messages[id].Type)
	return id
}

func openAs(t *testing.T, d *Dispatcher, st *State, packetID, actor string) {
	t.Helper()
	err := d.Apply(context.Background(), st, &chat.ModelReply{Actions: []chat.Action{
		act("open_red_packet", "name", actor, "quote_id", packetID),
	}})
	require.NoError(t, err)
}

func TestLuckyPacketSplitConserved(t *testing.T) {
	s := newMemStore()
	d, _ := newTestDispatcher(s)
	st := groupState()

	id := sendLuckyPacket(t, d, s, st, 10.00, 3)
	openAs(t, d, st, id, "Mika")
	openAs(t, d, st, id, "Rin")
	openAs(t, d, st, id, "Leo")

	p := s.messages[id].RedPacket
	require.Len(t, p.Claims, 3)

	var sum float64
	for _, c := range p.Claims {
		assert.GreaterOrEqual(t, c.Amount, 0.01, "every share clears the one-cent floor")
		sum += c.Amount
	}
	assert.InDelta(t, 10.00, sum, 1e-9, "claims sum exactly to the pool")
	assert.True(t, p.Exhausted())
	assert.Equal(t, 0.0, p.Remaining())
}

func TestLuckyPacketReopenIdempotent(t *testing.T) {
	s := newMemStore()
	d, _ := newTestDispatcher(s)
	st := groupState()

	id := sendLuckyPacket(t, d, s, st, 5.00, 3)
	openAs(t, d, st, id, "Rin")
	openAs(t, d, st, id, "Rin")
	openAs(t, d, st, id, "Rin")

	p := s.messages[id].RedPacket
	require.Len(t, p.Claims, 1, "repeat opens by the same actor are no-ops")
	assert.Equal(t, "Rin", p.Claims[0].Actor)
}

func TestLuckyPacketTinyPool(t *testing.T) {
	s := newMemStore()
	d, _ := newTestDispatcher(s)
	st := groupState()

	// 0.02 cannot fund 3 one-cent shares; the count shrinks to fit.
	id := sendLuckyPacket(t, d, s, st, 0.02, 3)
	p := s.messages[id].RedPacket
	assert.Equal(t, 2, p.Count)

	openAs(t, d, st, id, "Mika")
	openAs(t, d, st, id, "Rin")
	p = s.messages[id].RedPacket
	require.Len(t, p.Claims, 2)
	assert.InDelta(t, 0.02, p.ClaimedAmount(), 1e-9)
}

func TestDirectPacketOnlyReceiverOpens(t *testing.T) {
	s := newMemStore()
	d, _ := newTestDispatcher(s)
	st := groupState()

	err := d.Apply(context.Background(), st, &chat.ModelReply{Actions: []chat.Action{
		act("red_packet", "name", "Mika", "packet_type", "direct", "amount", 8.88, "receiver", "Rin"),
	}})
	require.NoError(t, err)
	id := s.order[len(s.order)-1]

	// Leo is not the named receiver; the open fails and nothing is claimed.
	openAs(t, d, st, id, "Leo")
	p := s.messages[id].RedPacket
	assert.Empty(t, p.Claims)

	openAs(t, d, st, id, "Rin")
	p = s.messages[id].RedPacket
	require.Len(t, p.Claims, 1)
	assert.Equal(t, 8.88, p.Claims[0].Amount, "direct packet pays full face value")
}

func TestLuckyPacketLastClaimTakesRemainder(t *testing.T) {
	// Run several rounds; the invariant must hold regardless of the draws.
	for round := 0; round < 5; round++ {
		s := newMemStore()
		d, _ := newTestDispatcher(s)
		st := groupState()

		id := sendLuckyPacket(t, d, s, st, 6.66, 3)
		openAs(t, d, st, id, "Leo")
		openAs(t, d, st, id, "Mika")

		p := s.messages[id].RedPacket
		require.Len(t, p.Claims, 2)
		remainder := p.Remaining()
		assert.Greater(t, remainder, 0.0)

		openAs(t, d, st, id, "Rin")
		p = s.messages[id].RedPacket
		assert.InDelta(t, remainder, p.Claims[2].Amount, 1e-9, "final claim takes the exact remainder")
		assert.Equal(t, 0.0, p.Remaining())
	}
}
