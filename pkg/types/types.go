// Package types defines the wire format shared by the daemon's API and its
// clients.
//
// Addresses are checksummed hex strings. Token amounts travel as base-10
// strings of raw units (uint256 does not fit JSON numbers); fields suffixed
// Units carry the same value scaled by the bid token's decimals for display.
// This package has no dependencies on internal packages, so it can be
// imported by any layer and by external tools.
package types

import "time"

// AuctionView is one auction record as served by the API.
type AuctionView struct {
	Token        string    `json:"token"`
	Bidder       string    `json:"bidder"`
	BidAmount    string    `json:"bid_amount"`
	BidUnits     string    `json:"bid_units"`
	RewardAmount string    `json:"reward_amount"`
	MinTTL       time.Time `json:"min_ttl"`
	MaxTTL       time.Time `json:"max_ttl"`
	Open         bool      `json:"open"` // accepting bids right now
	Active       bool      `json:"active"`
}

// ClosesAt returns the earliest time the auction can be ended.
func (a AuctionView) ClosesAt() time.Time {
	if a.MaxTTL.Before(a.MinTTL) {
		return a.MaxTTL
	}
	return a.MinTTL
}

// BidRequest starts an auction or outbids the current leader. Exactly one of
// Amount (raw units) or AmountUnits (human units of the bid token) is set.
// Caller is ignored when the server requires signed requests; the signer is
// used instead.
type BidRequest struct {
	Caller      string `json:"caller,omitempty"`
	Bidder      string `json:"bidder"`
	Amount      string `json:"amount,omitempty"`
	AmountUnits string `json:"amount_units,omitempty"`
}

// UnwindRequest redeems the engine's LP shares in the tokenA/tokenB pair.
type UnwindRequest struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
}

type UnwindResult struct {
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
}

type SkimResult struct {
	Amount string `json:"amount"`
	Units  string `json:"units"`
}

// StakedView reports escrow held for live bids against the engine's balance.
type StakedView struct {
	Staked      string `json:"staked"`
	StakedUnits string `json:"staked_units"`
	Held        string `json:"held"`
	HeldUnits   string `json:"held_units"`
}

// ReceiverRequest is the admin call to redirect proceeds.
type ReceiverRequest struct {
	Caller   string `json:"caller,omitempty"`
	Receiver string `json:"receiver"`
}

// WhitelistRequest is the admin call to add or remove a token.
type WhitelistRequest struct {
	Caller  string `json:"caller,omitempty"`
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

// StatusView summarises the engine.
type StatusView struct {
	Now       time.Time     `json:"now"`
	Self      string        `json:"self"`
	Owner     string        `json:"owner"`
	Receiver  string        `json:"receiver"`
	BidToken  string        `json:"bid_token"`
	Staked    string        `json:"staked"`
	Whitelist []string      `json:"whitelist"`
	Auctions  []AuctionView `json:"auctions"`
}

// EventView is a committed engine event. ID is set for journaled events.
type EventView struct {
	ID          string     `json:"id,omitempty"`
	Type        string     `json:"type"`
	At          time.Time  `json:"at"`
	Token       string     `json:"token,omitempty"`
	Bidder      string     `json:"bidder,omitempty"`
	PrevBidder  string     `json:"prev_bidder,omitempty"`
	Receiver    string     `json:"receiver,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	Refund      string     `json:"refund,omitempty"`
	Reward      string     `json:"reward,omitempty"`
	PairToken   string     `json:"pair_token,omitempty"`
	PairAmount  string     `json:"pair_amount,omitempty"`
	Whitelisted bool       `json:"whitelisted,omitempty"`
	MinTTL      *time.Time `json:"min_ttl,omitempty"`
	MaxTTL      *time.Time `json:"max_ttl,omitempty"`
}

// Stream message types.
const (
	StreamSnapshot = "snapshot" // sent once on connect
	StreamEvent    = "event"
)

// StreamMessage is one frame on the /ws event stream.
type StreamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Event     *EventView  `json:"event,omitempty"`
	Status    *StatusView `json:"status,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response. Error is a stable
// code such as "BidFinished" or "NotOwner".
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
