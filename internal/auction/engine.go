// Package auction runs one English auction per reward token, paid in a
// single bid token.
//
// Lifecycle of a record: Start (inactive → active) → PlaceBid* → End
// (active → inactive). Every accepted bid pushes MinTTL out by MinTTL so a
// late bid cannot snipe the auction; MaxTTL, fixed at Start, bounds the
// whole thing. Escrowed bids are tracked in a staked counter that
// SkimBidToken never touches.
//
// Every mutating call is all-or-nothing. Local state is updated before any
// token transfer and the ledger is snapshotted first, so a failed transfer
// rolls back both sides.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"maker-auction/internal/amm"
	"maker-auction/internal/guard"
	"maker-auction/internal/token"
)

// Clock supplies block time.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads wall time.
var SystemClock Clock = ClockFunc(time.Now)

// Params are fixed at construction.
type Params struct {
	Self         common.Address // the engine's own holder address
	Owner        common.Address
	Receiver     common.Address
	BidToken     common.Address
	Factory      common.Address
	PairCodeHash common.Hash
}

// Deps are the engine's collaborators. Pairs and Burner may be nil: without
// Pairs no token is recognised as LP, without Burner UnwindLP is unavailable.
type Deps struct {
	Ledger token.Ledger
	Pairs  guard.PairInspector
	Burner amm.Burner
	Clock  Clock
}

// Engine owns every BidRecord and the staked counter.
type Engine struct {
	self     common.Address
	bidToken common.Address
	ledger   token.Ledger
	rules    *guard.Rules
	unwinder *amm.Unwinder
	clock    Clock
	logger   *slog.Logger
	events   chan Event

	// opMu serialises mutating calls for their whole duration. stateMu only
	// guards the fields below and is never held across a transfer, so a
	// token hook can read consistent state mid-call.
	opMu     sync.Mutex
	stateMu  sync.RWMutex
	external bool // the running call is moving tokens
	owner    common.Address
	receiver common.Address
	records  map[common.Address]BidRecord
	staked   *uint256.Int
}

// New creates an engine with no active auctions.
func New(p Params, d Deps, logger *slog.Logger) (*Engine, error) {
	if d.Ledger == nil {
		return nil, fmt.Errorf("auction: ledger is required")
	}
	if p.Self == (common.Address{}) || p.BidToken == (common.Address{}) {
		return nil, fmt.Errorf("auction: self and bid token must be set")
	}
	if p.Owner == (common.Address{}) {
		return nil, fmt.Errorf("auction: %w", ErrZeroOwner)
	}
	if p.Receiver == (common.Address{}) {
		return nil, fmt.Errorf("auction: %w", ErrZeroReceiver)
	}
	clock := d.Clock
	if clock == nil {
		clock = SystemClock
	}

	e := &Engine{
		self:     p.Self,
		bidToken: p.BidToken,
		ledger:   d.Ledger,
		rules:    guard.NewRules(p.BidToken, p.Factory, p.PairCodeHash, d.Pairs),
		clock:    clock,
		logger:   logger.With("component", "auction"),
		events:   make(chan Event, 256),
		owner:    p.Owner,
		receiver: p.Receiver,
		records:  make(map[common.Address]BidRecord),
		staked:   new(uint256.Int),
	}
	if d.Burner != nil {
		e.unwinder = amm.NewUnwinder(p.Self, p.Factory, p.PairCodeHash, d.Ledger, d.Burner)
	}
	return e, nil
}

type callKey struct{}

// enter rejects re-entrant calls, then takes the operation lock. The
// returned context marks everything downstream as inside this engine.
//
// A call made while another call is moving tokens is rejected even without
// the marker: token hooks run on the caller's goroutine, and a hook that
// dropped the context would otherwise wait on opMu forever. Calls that
// arrive before or after that phase queue on opMu as usual.
func (e *Engine) enter(ctx context.Context) (context.Context, error) {
	if eng, _ := ctx.Value(callKey{}).(*Engine); eng == e {
		return nil, ErrReentrantCall
	}
	e.stateMu.RLock()
	busy := e.external
	e.stateMu.RUnlock()
	if busy {
		return nil, ErrReentrantCall
	}
	e.opMu.Lock()
	return context.WithValue(ctx, callKey{}, e), nil
}

// leave ends the transfer phase, if any, and releases the operation lock.
func (e *Engine) leave() {
	e.stateMu.Lock()
	e.external = false
	e.stateMu.Unlock()
	e.opMu.Unlock()
}

// beginTransfers marks the start of the transfer phase.
func (e *Engine) beginTransfers() {
	e.stateMu.Lock()
	e.external = true
	e.stateMu.Unlock()
}

// rollback restores tok's record and the staked counter, then reverts the
// ledger to snap.
func (e *Engine) rollback(snap int, tok common.Address, rec BidRecord, staked *uint256.Int) {
	e.stateMu.Lock()
	if rec.Active() {
		e.records[tok] = rec
	} else {
		delete(e.records, tok)
	}
	e.staked = staked
	e.stateMu.Unlock()
	e.ledger.RevertToSnapshot(snap)
}

func (e *Engine) recordLocked(tok common.Address) BidRecord {
	if rec, ok := e.records[tok]; ok {
		return rec
	}
	return inactiveRecord()
}

// Start opens an auction for tok. The caller pays amount into escrow and
// bidder becomes the first high bidder. The reward is the engine's entire
// balance of tok.
func (e *Engine) Start(ctx context.Context, caller, tok common.Address, amount *uint256.Int, bidder common.Address) error {
	ctx, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer e.leave()

	if err := e.rules.IsAuctionable(tok); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if amount.Lt(BidMin) {
		return fmt.Errorf("start %s: bid %s below minimum %s: %w", tok.Hex(), amount, BidMin, ErrInsufficientBidAmount)
	}

	e.stateMu.Lock()
	prev := e.recordLocked(tok)
	if prev.Active() {
		e.stateMu.Unlock()
		return fmt.Errorf("start %s: %w", tok.Hex(), ErrBidAlreadyStarted)
	}
	if bidder == (common.Address{}) {
		e.stateMu.Unlock()
		return fmt.Errorf("start %s: bidder: %w", tok.Hex(), amm.ErrZeroAddress)
	}
	reward := e.ledger.BalanceOf(tok, e.self)
	if reward.IsZero() {
		e.stateMu.Unlock()
		return fmt.Errorf("start %s: %w", tok.Hex(), ErrNoRewardBalance)
	}

	snap := e.ledger.Snapshot()
	prevStaked := e.staked.Clone()
	now := e.clock.Now()
	rec := BidRecord{
		Bidder:       bidder,
		BidAmount:    amount.Clone(),
		RewardAmount: reward,
		MinTTL:       now.Add(MinTTL),
		MaxTTL:       now.Add(MaxTTL),
	}
	e.records[tok] = rec
	e.staked = new(uint256.Int).Add(e.staked, amount)
	e.external = true
	e.stateMu.Unlock()

	if err := e.ledger.TransferFrom(ctx, e.bidToken, e.self, caller, e.self, amount); err != nil {
		e.rollback(snap, tok, prev, prevStaked)
		return fmt.Errorf("start %s: escrow bid: %w", tok.Hex(), err)
	}

	e.logger.Info("auction started",
		"token", tok.Hex(),
		"bidder", bidder.Hex(),
		"bid", amount.Dec(),
		"reward", reward.Dec(),
		"min_ttl", rec.MinTTL,
		"max_ttl", rec.MaxTTL,
	)
	e.emit(Event{
		Type:   EventStarted,
		At:     now,
		Token:  tok,
		Bidder: bidder,
		Amount: amount.Clone(),
		Reward: reward.Clone(),
		MinTTL: rec.MinTTL,
		MaxTTL: rec.MaxTTL,
	})
	return nil
}

// PlaceBid outbids the current high bidder on tok. The previous bid is
// refunded and amount is pulled from caller; MinTTL restarts from now.
func (e *Engine) PlaceBid(ctx context.Context, caller, tok common.Address, amount *uint256.Int, bidder common.Address) error {
	ctx, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer e.leave()

	e.stateMu.Lock()
	prev := e.recordLocked(tok)
	if !prev.Active() {
		e.stateMu.Unlock()
		return fmt.Errorf("bid %s: %w", tok.Hex(), ErrBidNotStarted)
	}
	now := e.clock.Now()
	if !prev.OpenAt(now) {
		e.stateMu.Unlock()
		return fmt.Errorf("bid %s: %w", tok.Hex(), ErrBidFinished)
	}
	if !outbids(amount, prev.BidAmount) {
		e.stateMu.Unlock()
		return fmt.Errorf("bid %s: %s does not clear %s: %w", tok.Hex(), amount, MinNextBid(prev.BidAmount), ErrInsufficientBidAmount)
	}
	if bidder == (common.Address{}) {
		e.stateMu.Unlock()
		return fmt.Errorf("bid %s: bidder: %w", tok.Hex(), amm.ErrZeroAddress)
	}

	snap := e.ledger.Snapshot()
	prevStaked := e.staked.Clone()
	rec := prev.clone()
	rec.Bidder = bidder
	rec.BidAmount = amount.Clone()
	rec.MinTTL = now.Add(MinTTL)
	e.records[tok] = rec
	staked := new(uint256.Int).Sub(e.staked, prev.BidAmount)
	e.staked = staked.Add(staked, amount)
	e.external = true
	e.stateMu.Unlock()

	if err := e.ledger.Transfer(ctx, e.bidToken, e.self, prev.Bidder, prev.BidAmount); err != nil {
		e.rollback(snap, tok, prev, prevStaked)
		return fmt.Errorf("bid %s: refund %s: %w", tok.Hex(), prev.Bidder.Hex(), err)
	}
	if err := e.ledger.TransferFrom(ctx, e.bidToken, e.self, caller, e.self, amount); err != nil {
		e.rollback(snap, tok, prev, prevStaked)
		return fmt.Errorf("bid %s: escrow bid: %w", tok.Hex(), err)
	}

	e.logger.Info("bid placed",
		"token", tok.Hex(),
		"bidder", bidder.Hex(),
		"bid", amount.Dec(),
		"refunded", prev.Bidder.Hex(),
		"min_ttl", rec.MinTTL,
	)
	e.emit(Event{
		Type:       EventBid,
		At:         now,
		Token:      tok,
		Bidder:     bidder,
		PrevBidder: prev.Bidder,
		Amount:     amount.Clone(),
		Refund:     prev.BidAmount.Clone(),
		Reward:     rec.RewardAmount.Clone(),
		MinTTL:     rec.MinTTL,
		MaxTTL:     rec.MaxTTL,
	})
	return nil
}

// End settles a closed auction: the reward goes to the high bidder and the
// escrowed bid to the receiver. Anyone may call it.
func (e *Engine) End(ctx context.Context, tok common.Address) error {
	ctx, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer e.leave()

	e.stateMu.Lock()
	prev := e.recordLocked(tok)
	if !prev.Active() {
		e.stateMu.Unlock()
		return fmt.Errorf("end %s: %w", tok.Hex(), ErrBidNotStarted)
	}
	now := e.clock.Now()
	if !prev.ClosedAt(now) {
		e.stateMu.Unlock()
		return fmt.Errorf("end %s: %w", tok.Hex(), ErrBidNotFinished)
	}

	snap := e.ledger.Snapshot()
	prevStaked := e.staked.Clone()
	receiver := e.receiver
	delete(e.records, tok)
	e.staked = new(uint256.Int).Sub(e.staked, prev.BidAmount)
	e.external = true
	e.stateMu.Unlock()

	if err := e.ledger.Transfer(ctx, tok, e.self, prev.Bidder, prev.RewardAmount); err != nil {
		e.rollback(snap, tok, prev, prevStaked)
		return fmt.Errorf("end %s: deliver reward: %w", tok.Hex(), err)
	}
	if err := e.ledger.Transfer(ctx, e.bidToken, e.self, receiver, prev.BidAmount); err != nil {
		e.rollback(snap, tok, prev, prevStaked)
		return fmt.Errorf("end %s: pay receiver: %w", tok.Hex(), err)
	}

	e.logger.Info("auction ended",
		"token", tok.Hex(),
		"winner", prev.Bidder.Hex(),
		"bid", prev.BidAmount.Dec(),
		"reward", prev.RewardAmount.Dec(),
		"receiver", receiver.Hex(),
	)
	e.emit(Event{
		Type:     EventEnded,
		At:       now,
		Token:    tok,
		Bidder:   prev.Bidder,
		Receiver: receiver,
		Amount:   prev.BidAmount.Clone(),
		Reward:   prev.RewardAmount.Clone(),
		MinTTL:   prev.MinTTL,
		MaxTTL:   prev.MaxTTL,
	})
	return nil
}

// UnwindLP burns the engine's LP share of the tokenA/tokenB pair into its
// two underlying tokens, which then become auctionable rewards.
func (e *Engine) UnwindLP(ctx context.Context, tokenA, tokenB common.Address) (amountA, amountB *uint256.Int, err error) {
	if e.unwinder == nil {
		return nil, nil, fmt.Errorf("unwind: no pair burner configured")
	}
	ctx, err = e.enter(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer e.leave()

	snap := e.ledger.Snapshot()
	e.beginTransfers()
	amountA, amountB, err = e.unwinder.UnwindLP(ctx, tokenA, tokenB)
	if err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, nil, err
	}

	e.logger.Info("liquidity unwound",
		"token_a", tokenA.Hex(),
		"amount_a", amountA.Dec(),
		"token_b", tokenB.Hex(),
		"amount_b", amountB.Dec(),
	)
	e.emit(Event{
		Type:       EventUnwound,
		At:         e.clock.Now(),
		Token:      tokenA,
		Amount:     amountA.Clone(),
		PairToken:  tokenB,
		PairAmount: amountB.Clone(),
	})
	return amountA, amountB, nil
}

// Bids returns a copy of tok's record; inactive tokens yield a zeroed record.
func (e *Engine) Bids(tok common.Address) BidRecord {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.recordLocked(tok).clone()
}

// Active returns copies of every running auction keyed by reward token.
func (e *Engine) Active() map[common.Address]BidRecord {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make(map[common.Address]BidRecord, len(e.records))
	for tok, rec := range e.records {
		out[tok] = rec.clone()
	}
	return out
}

func (e *Engine) Self() common.Address     { return e.self }
func (e *Engine) BidToken() common.Address { return e.bidToken }
func (e *Engine) Now() time.Time           { return e.clock.Now() }
