package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"maker-auction/internal/auction"
	"maker-auction/pkg/types"
)

// NewEventView converts an engine event to its wire form. id is the journal
// ID, empty if the event was not journaled.
func NewEventView(evt auction.Event, id string) types.EventView {
	return types.EventView{
		ID:          id,
		Type:        string(evt.Type),
		At:          evt.At,
		Token:       hexOrEmpty(evt.Token),
		Bidder:      hexOrEmpty(evt.Bidder),
		PrevBidder:  hexOrEmpty(evt.PrevBidder),
		Receiver:    hexOrEmpty(evt.Receiver),
		Amount:      decOrEmpty(evt.Amount),
		Refund:      decOrEmpty(evt.Refund),
		Reward:      decOrEmpty(evt.Reward),
		PairToken:   hexOrEmpty(evt.PairToken),
		PairAmount:  decOrEmpty(evt.PairAmount),
		Whitelisted: evt.Whitelisted,
		MinTTL:      timeOrNil(evt.MinTTL),
		MaxTTL:      timeOrNil(evt.MaxTTL),
	}
}

// NewEventMessage wraps an event as a stream frame.
func NewEventMessage(evt auction.Event, id string) types.StreamMessage {
	view := NewEventView(evt, id)
	return types.StreamMessage{
		Type:      types.StreamEvent,
		Timestamp: evt.At,
		Event:     &view,
	}
}

func hexOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func decOrEmpty(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
