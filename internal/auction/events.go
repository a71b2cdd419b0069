package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventType string

const (
	EventStarted  EventType = "started"
	EventBid      EventType = "bid"
	EventEnded    EventType = "ended"
	EventSkimmed  EventType = "skimmed"
	EventUnwound  EventType = "unwound"
	EventReceiver EventType = "receiver"
	EventListed   EventType = "whitelist"
)

// Event describes one committed state change. Only the fields relevant to
// Type are set.
type Event struct {
	Type EventType
	At   time.Time

	Token      common.Address
	Bidder     common.Address
	PrevBidder common.Address
	Receiver   common.Address

	Amount *uint256.Int // bid placed, surplus skimmed or proceeds paid out
	Refund *uint256.Int // returned to PrevBidder
	Reward *uint256.Int // reward-token quantity at stake or delivered

	// Second token of an unwound pair and its amount.
	PairToken   common.Address
	PairAmount  *uint256.Int
	Whitelisted bool
	MinTTL      time.Time
	MaxTTL      time.Time
}

// emit hands evt to the events channel without blocking; a slow consumer
// loses events rather than stalling the engine.
func (e *Engine) emit(evt Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("event channel full, dropping event", "type", evt.Type, "token", evt.Token.Hex())
	}
}

// Events returns the channel of committed engine events (nil if disabled).
func (e *Engine) Events() <-chan Event {
	return e.events
}
