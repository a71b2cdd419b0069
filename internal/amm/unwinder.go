package amm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"maker-auction/internal/token"
)

var ErrNoLiquidity = errors.New("no liquidity to unwind")

// Burner redeems the LP shares a pair holds of itself, paying out to `to`.
type Burner interface {
	Burn(ctx context.Context, pair, to common.Address) (amount0, amount1 *uint256.Int, err error)
}

// Unwinder converts the LP shares held by `self` into the pair's underlying
// tokens, credited back to `self`.
type Unwinder struct {
	self         common.Address
	factory      common.Address
	pairCodeHash common.Hash
	ledger       token.Ledger
	burner       Burner
}

func NewUnwinder(self, factory common.Address, pairCodeHash common.Hash, ledger token.Ledger, burner Burner) *Unwinder {
	return &Unwinder{
		self:         self,
		factory:      factory,
		pairCodeHash: pairCodeHash,
		ledger:       ledger,
		burner:       burner,
	}
}

// UnwindLP sends self's whole LP balance of the tokenA/tokenB pair back to
// the pair and burns it. Amounts are returned in tokenA, tokenB order.
func (u *Unwinder) UnwindLP(ctx context.Context, tokenA, tokenB common.Address) (amountA, amountB *uint256.Int, err error) {
	pair, err := PairFor(u.factory, u.pairCodeHash, tokenA, tokenB)
	if err != nil {
		return nil, nil, fmt.Errorf("unwind: %w", err)
	}

	shares := u.ledger.BalanceOf(pair, u.self)
	if shares.IsZero() {
		return nil, nil, fmt.Errorf("unwind %s: %w", pair.Hex(), ErrNoLiquidity)
	}
	if err := u.ledger.Transfer(ctx, pair, u.self, pair, shares); err != nil {
		return nil, nil, fmt.Errorf("unwind: return shares: %w", err)
	}

	amount0, amount1, err := u.burner.Burn(ctx, pair, u.self)
	if err != nil {
		return nil, nil, fmt.Errorf("unwind: burn: %w", err)
	}

	token0, _, _ := SortTokens(tokenA, tokenB)
	if token0 == tokenA {
		return amount0, amount1, nil
	}
	return amount1, amount0, nil
}
