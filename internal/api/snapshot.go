package api

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"maker-auction/internal/auction"
	"maker-auction/internal/journal"
	"maker-auction/internal/token"
	"maker-auction/pkg/types"
)

// Engine is the auction surface the API serves. *auction.Engine implements it.
type Engine interface {
	Start(ctx context.Context, caller, tok common.Address, amount *uint256.Int, bidder common.Address) error
	PlaceBid(ctx context.Context, caller, tok common.Address, amount *uint256.Int, bidder common.Address) error
	End(ctx context.Context, tok common.Address) error
	SkimBidToken(ctx context.Context) (*uint256.Int, error)
	UnwindLP(ctx context.Context, tokenA, tokenB common.Address) (amountA, amountB *uint256.Int, err error)
	UpdateReceiver(ctx context.Context, caller, receiver common.Address) error
	UpdateWhitelistToken(ctx context.Context, caller, tok common.Address, enabled bool) error

	Bids(tok common.Address) auction.BidRecord
	Active() map[common.Address]auction.BidRecord
	StakedBidToken() *uint256.Int
	Owner() common.Address
	Receiver() common.Address
	Self() common.Address
	BidToken() common.Address
	Whitelisted() []common.Address
	Now() time.Time
}

// Balances reads token balances. *token.Memory implements it.
type Balances interface {
	BalanceOf(tok, holder common.Address) *uint256.Int
}

// History reads the event journal. *journal.Journal implements it.
type History interface {
	History(ctx context.Context, tok common.Address, limit int) ([]journal.Entry, error)
}

// NewAuctionView renders one record at time now.
func NewAuctionView(tok common.Address, rec auction.BidRecord, now time.Time, decimals int32) types.AuctionView {
	return types.AuctionView{
		Token:        tok.Hex(),
		Bidder:       hexOrEmpty(rec.Bidder),
		BidAmount:    rec.BidAmount.Dec(),
		BidUnits:     token.FormatUnits(rec.BidAmount, decimals),
		RewardAmount: rec.RewardAmount.Dec(),
		MinTTL:       rec.MinTTL,
		MaxTTL:       rec.MaxTTL,
		Open:         rec.OpenAt(now),
		Active:       rec.Active(),
	}
}

// BuildStatus aggregates engine state into a status view. Auctions are in
// token order.
func BuildStatus(eng Engine, decimals int32) types.StatusView {
	now := eng.Now()
	active := eng.Active()

	toks := make([]common.Address, 0, len(active))
	for tok := range active {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].Cmp(toks[j]) < 0 })

	auctions := make([]types.AuctionView, 0, len(toks))
	for _, tok := range toks {
		auctions = append(auctions, NewAuctionView(tok, active[tok], now, decimals))
	}

	wl := eng.Whitelisted()
	whitelist := make([]string, 0, len(wl))
	for _, tok := range wl {
		whitelist = append(whitelist, tok.Hex())
	}

	return types.StatusView{
		Now:       now,
		Self:      eng.Self().Hex(),
		Owner:     eng.Owner().Hex(),
		Receiver:  eng.Receiver().Hex(),
		BidToken:  eng.BidToken().Hex(),
		Staked:    eng.StakedBidToken().Dec(),
		Whitelist: whitelist,
		Auctions:  auctions,
	}
}
