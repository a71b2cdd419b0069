// Package token abstracts the ERC20-style balance operations the auction
// engine depends on: balance reads, transfers out of the engine's own
// custody, and allowance-based pulls from bidders.
//
// The engine only ever talks to a Ledger. Memory is the in-process
// implementation used by the daemon's simulated chain and by tests; it keeps
// an undo journal so a whole engine call can be rolled back atomically.
package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("transfer to the zero address")
)

// Ledger moves balances of arbitrary tokens between holders.
//
// Snapshot/RevertToSnapshot follow go-ethereum's StateDB contract: a revert
// undoes every change made after the snapshot was taken, including changes
// made under later snapshots.
type Ledger interface {
	BalanceOf(token, holder common.Address) *uint256.Int
	Allowance(token, owner, spender common.Address) *uint256.Int
	Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error

	Snapshot() int
	RevertToSnapshot(id int)
}

// Hook runs after a balance change has been applied, on the goroutine that
// made the transfer. Returning an error fails the transfer; the balance
// change stays in the journal so the caller's snapshot revert removes it.
// Hooks should pass ctx on to anything they call.
type Hook func(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
