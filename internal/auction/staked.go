package auction

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

// StakedBidToken returns the bid-token amount escrowed across all active
// auctions.
func (e *Engine) StakedBidToken() *uint256.Int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.staked.Clone()
}

// SkimBidToken sends any bid token held beyond the staked amount to the
// receiver and returns what was sent. Nothing happens when there is no
// surplus.
func (e *Engine) SkimBidToken(ctx context.Context) (*uint256.Int, error) {
	ctx, err := e.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer e.leave()

	e.stateMu.RLock()
	staked := e.staked.Clone()
	receiver := e.receiver
	e.stateMu.RUnlock()

	balance := e.ledger.BalanceOf(e.bidToken, e.self)
	if !balance.Gt(staked) {
		return new(uint256.Int), nil
	}
	surplus := new(uint256.Int).Sub(balance, staked)

	snap := e.ledger.Snapshot()
	e.beginTransfers()
	if err := e.ledger.Transfer(ctx, e.bidToken, e.self, receiver, surplus); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, fmt.Errorf("skim: %w", err)
	}

	e.logger.Info("bid token skimmed", "amount", surplus.Dec(), "receiver", receiver.Hex())
	e.emit(Event{
		Type:     EventSkimmed,
		At:       e.clock.Now(),
		Token:    e.bidToken,
		Receiver: receiver,
		Amount:   surplus.Clone(),
	})
	return surplus, nil
}

// Audit checks that the staked counter equals the sum of active bids and
// that the engine actually holds that much bid token.
func (e *Engine) Audit() error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	sum := new(uint256.Int)
	for tok, rec := range e.records {
		if !rec.Active() {
			return fmt.Errorf("audit: inactive record stored for %s", tok.Hex())
		}
		sum.Add(sum, rec.BidAmount)
	}
	if !sum.Eq(e.staked) {
		return fmt.Errorf("audit: active bids %s, counter %s: %w", sum.Dec(), e.staked.Dec(), ErrStakedMismatch)
	}
	if held := e.ledger.BalanceOf(e.bidToken, e.self); held.Lt(e.staked) {
		return fmt.Errorf("audit: holding %s of %s staked: %w", held.Dec(), e.staked.Dec(), ErrStakedMismatch)
	}
	return nil
}
