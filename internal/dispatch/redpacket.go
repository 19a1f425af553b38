package dispatch

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"starchat/internal/chat"
	"starchat/internal/logging"
)

// =============================================================================
// RED PACKETS
// =============================================================================

func (d *Dispatcher) handleRedPacket(ctx context.Context, st *State, actor string, a chat.Action) error {
	total := a.Float("amount", "total")
	if total <= 0 {
		return fmt.Errorf("red_packet with non-positive amount %v", total)
	}

	kind := chat.RedPacketLucky
	if a.Str("packet_type", "kind") == "direct" {
		kind = chat.RedPacketDirect
	}

	count := a.Int("count")
	receiver := ""
	switch kind {
	case chat.RedPacketDirect:
		count = 1
		receiver = a.Str("receiver", "target")
		if receiver == "" {
			receiver = st.Conv.Settings.UserName
		}
	case chat.RedPacketLucky:
		if count < 1 {
			count = 1
		}
		// Every share must clear the one-cent floor.
		if maxShares := int(math.Floor(total*100 + 1e-9)); count > maxShares {
			count = maxShares
		}
	}

	m := chat.NewMessage(st.Conv.ID, chat.RoleAssistant, actor, chat.TypeRedPacket, "")
	m.RedPacket = &chat.RedPacketPayload{
		Kind:     kind,
		Total:    roundCents(total),
		Count:    count,
		Receiver: receiver,
		Note:     a.Str("note", "content"),
	}
	return d.emit(st, m)
}

// handleOpenRedPacket claims one share for the actor. Re-opening an already
// claimed packet is a no-op, not an error.
func (d *Dispatcher) handleOpenRedPacket(ctx context.Context, st *State, actor string, a chat.Action) error {
	src, err := d.findQuoted(st, a, chat.TypeRedPacket)
	if err != nil {
		return err
	}
	p := src.RedPacket

	if p.HasClaim(actor) {
		logging.DispatchDebug("red packet %s: %s already claimed, ignoring", src.ID, actor)
		return nil
	}
	if p.Kind == chat.RedPacketDirect && actor != p.Receiver {
		return fmt.Errorf("red packet %s is for %s, not %s", src.ID, p.Receiver, actor)
	}
	if p.Exhausted() {
		logging.DispatchDebug("red packet %s exhausted", src.ID)
		return nil
	}

	amount := claimAmount(p)
	p.Claims = append(p.Claims, chat.RedPacketClaim{Actor: actor, Amount: amount})
	logging.Dispatch("red packet %s: %s claimed ¥%.2f (%d/%d)", src.ID, actor, amount, len(p.Claims), p.Count)
	return d.update(src)
}

// claimAmount computes the next share. Direct packets and the final lucky
// claim take the exact remainder; earlier lucky claims draw from the
// doubled-mean window with a one-cent floor, leaving at least one cent for
// every later claimant.
func claimAmount(p *chat.RedPacketPayload) float64 {
	remaining := p.Remaining()
	left := p.Count - len(p.Claims)
	if p.Kind == chat.RedPacketDirect || left <= 1 {
		return remaining
	}

	max := roundCents(remaining / float64(left) * 2)
	ceiling := roundCents(remaining - 0.01*float64(left-1))
	if max > ceiling {
		max = ceiling
	}
	if max <= 0.01 {
		return 0.01
	}
	cents := 1 + rand.Intn(int(math.Round(max*100)))
	amount := roundCents(float64(cents) / 100)
	if amount > ceiling {
		amount = ceiling
	}
	if amount < 0.01 {
		amount = 0.01
	}
	return amount
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
