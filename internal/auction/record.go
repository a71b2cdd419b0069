package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// MinTTL is the rolling window: every accepted bid keeps the auction
	// open for at least this long.
	MinTTL = 12 * time.Hour
	// MaxTTL is the hard deadline counted from Start.
	MaxTTL = 72 * time.Hour

	BidIncrementBps         = 1
	BidIncrementDenominator = 1000
)

// BidMin is the smallest opening bid, in raw bid-token units.
var BidMin = uint256.NewInt(1000)

// BidRecord is the state of one reward token's auction. A zero Bidder means
// no auction is running for that token.
type BidRecord struct {
	Bidder       common.Address
	BidAmount    *uint256.Int
	RewardAmount *uint256.Int
	MinTTL       time.Time
	MaxTTL       time.Time
}

func inactiveRecord() BidRecord {
	return BidRecord{
		BidAmount:    new(uint256.Int),
		RewardAmount: new(uint256.Int),
	}
}

// Active reports whether an auction is running.
func (r BidRecord) Active() bool {
	return r.Bidder != (common.Address{})
}

// OpenAt reports whether a bid placed at now would be inside both windows.
func (r BidRecord) OpenAt(now time.Time) bool {
	return now.Before(r.MinTTL) && now.Before(r.MaxTTL)
}

// ClosedAt reports whether End may settle the auction at now.
func (r BidRecord) ClosedAt(now time.Time) bool {
	return !now.Before(r.MinTTL) || !now.Before(r.MaxTTL)
}

func (r BidRecord) clone() BidRecord {
	r.BidAmount = r.BidAmount.Clone()
	r.RewardAmount = r.RewardAmount.Clone()
	return r
}

// MinNextBid is the smallest amount that can outbid prev:
// prev + floor(prev * BidIncrementBps / BidIncrementDenominator), and at
// least prev + 1.
func MinNextBid(prev *uint256.Int) *uint256.Int {
	inc := new(uint256.Int).Mul(prev, uint256.NewInt(BidIncrementBps))
	inc.Div(inc, uint256.NewInt(BidIncrementDenominator))
	if inc.IsZero() {
		inc.SetOne()
	}
	return inc.Add(inc, prev)
}

// outbids applies both halves of the increment rule: strictly above prev and
// no less than the 0.1% step.
func outbids(amount, prev *uint256.Int) bool {
	return amount.Gt(prev) && !amount.Lt(MinNextBid(prev))
}
