package chat

import (
	"math"
	"time"
)

// TransferStatus tracks the lifecycle of a money transfer message.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferClaimed  TransferStatus = "claimed"
	TransferDeclined TransferStatus = "declined"
)

// TransferPayload is a direct money transfer between two participants.
type TransferPayload struct {
	Amount float64        `json:"amount"`
	Note   string         `json:"note,omitempty"`
	Status TransferStatus `json:"status"`
}

// RedPacketKind distinguishes the two red-packet variants.
type RedPacketKind string

const (
	// RedPacketLucky splits a pool pseudo-randomly across N claimants.
	RedPacketLucky RedPacketKind = "lucky"
	// RedPacketDirect pays full face value to a single named receiver.
	RedPacketDirect RedPacketKind = "direct"
)

// RedPacketClaim records one claimant's share.
type RedPacketClaim struct {
	Actor  string  `json:"actor"`
	Amount float64 `json:"amount"`
}

// RedPacketPayload is a monetary gift split among claimants.
type RedPacketPayload struct {
	Kind     RedPacketKind    `json:"kind"`
	Total    float64          `json:"total"`
	Count    int              `json:"count"`
	Receiver string           `json:"receiver,omitempty"` // direct packets only
	Note     string           `json:"note,omitempty"`
	Claims   []RedPacketClaim `json:"claims,omitempty"`
}

// ClaimedAmount returns the sum already claimed, rounded to cents.
func (p *RedPacketPayload) ClaimedAmount() float64 {
	var sum float64
	for _, c := range p.Claims {
		sum += c.Amount
	}
	return roundCents(sum)
}

// Remaining returns the unclaimed pool, rounded to cents.
func (p *RedPacketPayload) Remaining() float64 {
	return roundCents(p.Total - p.ClaimedAmount())
}

// Exhausted reports whether every share has been claimed.
func (p *RedPacketPayload) Exhausted() bool {
	return len(p.Claims) >= p.Count
}

// HasClaim reports whether actor already claimed a share.
func (p *RedPacketPayload) HasClaim(actor string) bool {
	for _, c := range p.Claims {
		if c.Actor == actor {
			return true
		}
	}
	return false
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// WaimaiStatus tracks a delivery-payment request.
type WaimaiStatus string

const (
	WaimaiPending  WaimaiStatus = "pending"
	WaimaiAccepted WaimaiStatus = "accepted"
	WaimaiDeclined WaimaiStatus = "declined"
)

// WaimaiPayload asks the counterpart to cover a food-delivery order.
type WaimaiPayload struct {
	Item   string       `json:"item"`
	Amount float64      `json:"amount"`
	Status WaimaiStatus `json:"status"`
}

// LinkPayload is a shared link card.
type LinkPayload struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// CallLine is one transcript line inside a call.
type CallLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// CallRecordPayload is the permanent record flushed when a call ends.
type CallRecordPayload struct {
	Kind       CallKind      `json:"kind"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Accepted   bool          `json:"accepted"`
	Transcript []CallLine    `json:"transcript,omitempty"`
}

// FriendCardPayload is a friend-recommendation card.
type FriendCardPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}
