package amm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"maker-auction/internal/token"
)

// MinimumLiquidity is locked forever on the first mint of every pair.
var MinimumLiquidity = uint256.NewInt(1000)

var (
	ErrPairExists            = errors.New("pair exists")
	ErrPairNotFound          = errors.New("pair not found")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity minted")
	ErrInsufficientBurned    = errors.New("insufficient liquidity burned")
	ErrInsufficientOutput    = errors.New("insufficient output amount")
	ErrInsufficientInput     = errors.New("insufficient input amount")
	ErrInvariant             = errors.New("constant product violated")
)

// Bank is a ledger that can also create and destroy LP shares.
type Bank interface {
	token.Ledger
	Mint(token, to common.Address, amount *uint256.Int)
	Burn(token, from common.Address, amount *uint256.Int) error
}

// DefaultPairCodeHash stands in for keccak256(pair creation code) of the
// simulated factory.
var DefaultPairCodeHash = crypto.Keccak256Hash([]byte("maker-auction/amm.Pair"))

// Factory creates pairs at their CREATE2 addresses and routes pair calls.
// Every pair's LP token lives in the shared Bank under the pair's address.
type Factory struct {
	addr     common.Address
	codeHash common.Hash
	bank     Bank

	mu    sync.RWMutex
	feeTo common.Address
	pairs map[common.Address]*Pair
}

// NewFactory returns a factory at addr whose pairs are addressed with codeHash.
func NewFactory(addr common.Address, codeHash common.Hash, bank Bank) *Factory {
	return &Factory{
		addr:     addr,
		codeHash: codeHash,
		bank:     bank,
		pairs:    make(map[common.Address]*Pair),
	}
}

func (f *Factory) Address() common.Address  { return f.addr }
func (f *Factory) PairCodeHash() common.Hash { return f.codeHash }

// SetFeeTo directs the protocol's 1/6 share of swap fees to feeTo as LP.
func (f *Factory) SetFeeTo(feeTo common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeTo = feeTo
}

func (f *Factory) FeeTo() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.feeTo
}

// CreatePair registers a new pair for tokenA/tokenB.
func (f *Factory) CreatePair(tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := PairFor(f.addr, f.codeHash, token0, token1)
	if err != nil {
		return common.Address{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pairs[addr]; ok {
		return common.Address{}, fmt.Errorf("create pair %s: %w", addr.Hex(), ErrPairExists)
	}
	f.pairs[addr] = &Pair{
		factory:  f,
		addr:     addr,
		token0:   token0,
		token1:   token1,
		reserve0: new(uint256.Int),
		reserve1: new(uint256.Int),
		kLast:    new(uint256.Int),
	}
	return addr, nil
}

// Pair returns the pair deployed at addr.
func (f *Factory) Pair(addr common.Address) (*Pair, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pairs[addr]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", addr.Hex(), ErrPairNotFound)
	}
	return p, nil
}

// Tokens reports the constituents of addr if it is a pair of this factory.
func (f *Factory) Tokens(addr common.Address) (token0, token1 common.Address, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pairs[addr]
	if !ok {
		return common.Address{}, common.Address{}, false
	}
	return p.token0, p.token1, true
}

// Burn redeems the LP shares held by the pair itself and sends the
// underlying tokens to `to`.
func (f *Factory) Burn(ctx context.Context, pair, to common.Address) (amount0, amount1 *uint256.Int, err error) {
	p, err := f.Pair(pair)
	if err != nil {
		return nil, nil, err
	}
	return p.Burn(ctx, to)
}

// Pair is a constant-product pool with UniswapV2 share accounting.
type Pair struct {
	factory *Factory
	addr    common.Address
	token0  common.Address
	token1  common.Address

	mu          sync.Mutex
	reserve0    *uint256.Int
	reserve1    *uint256.Int
	totalSupply uint256.Int
	kLast       *uint256.Int
}

func (p *Pair) Address() common.Address { return p.addr }
func (p *Pair) Token0() common.Address  { return p.token0 }
func (p *Pair) Token1() common.Address  { return p.token1 }

// Reserves returns copies of the last synced reserves.
func (p *Pair) Reserves() (reserve0, reserve1 *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve0.Clone(), p.reserve1.Clone()
}

// TotalSupply returns the outstanding LP shares.
func (p *Pair) TotalSupply() *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSupply.Clone()
}

// Mint issues LP shares to `to` for whatever tokens were sent to the pair
// since the last sync.
func (p *Pair) Mint(ctx context.Context, to common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bank := p.factory.bank
	balance0 := bank.BalanceOf(p.token0, p.addr)
	balance1 := bank.BalanceOf(p.token1, p.addr)
	amount0 := new(uint256.Int).Sub(balance0, p.reserve0)
	amount1 := new(uint256.Int).Sub(balance1, p.reserve1)

	feeOn := p.mintFeeLocked()

	var liquidity *uint256.Int
	if p.totalSupply.IsZero() {
		root := new(uint256.Int).Sqrt(new(uint256.Int).Mul(amount0, amount1))
		if !root.Gt(MinimumLiquidity) {
			return nil, ErrInsufficientLiquidity
		}
		liquidity = new(uint256.Int).Sub(root, MinimumLiquidity)
		p.mintSharesLocked(common.Address{}, MinimumLiquidity)
	} else {
		l0, _ := new(uint256.Int).MulDivOverflow(amount0, &p.totalSupply, p.reserve0)
		l1, _ := new(uint256.Int).MulDivOverflow(amount1, &p.totalSupply, p.reserve1)
		liquidity = l0
		if l1.Lt(l0) {
			liquidity = l1
		}
	}
	if liquidity.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	p.mintSharesLocked(to, liquidity)

	p.reserve0, p.reserve1 = balance0, balance1
	if feeOn {
		p.kLast = new(uint256.Int).Mul(p.reserve0, p.reserve1)
	}
	return liquidity, nil
}

// Burn redeems the shares the pair holds of itself. On failure the pair's
// own accounting is left untouched; ledger effects are the caller's to revert.
func (p *Pair) Burn(ctx context.Context, to common.Address) (amount0, amount1 *uint256.Int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	supply, kLast := p.totalSupply, p.kLast
	defer func() {
		if err != nil {
			p.totalSupply, p.kLast = supply, kLast
		}
	}()

	bank := p.factory.bank
	balance0 := bank.BalanceOf(p.token0, p.addr)
	balance1 := bank.BalanceOf(p.token1, p.addr)
	liquidity := bank.BalanceOf(p.addr, p.addr)

	feeOn := p.mintFeeLocked()

	amount0, _ = new(uint256.Int).MulDivOverflow(liquidity, balance0, &p.totalSupply)
	amount1, _ = new(uint256.Int).MulDivOverflow(liquidity, balance1, &p.totalSupply)
	if amount0.IsZero() || amount1.IsZero() {
		return nil, nil, ErrInsufficientBurned
	}

	if err := bank.Burn(p.addr, p.addr, liquidity); err != nil {
		return nil, nil, err
	}
	if err := bank.Transfer(ctx, p.token0, p.addr, to, amount0); err != nil {
		return nil, nil, fmt.Errorf("burn: send token0: %w", err)
	}
	if err := bank.Transfer(ctx, p.token1, p.addr, to, amount1); err != nil {
		return nil, nil, fmt.Errorf("burn: send token1: %w", err)
	}
	p.totalSupply.Sub(&p.totalSupply, liquidity)

	p.reserve0 = bank.BalanceOf(p.token0, p.addr)
	p.reserve1 = bank.BalanceOf(p.token1, p.addr)
	if feeOn {
		p.kLast = new(uint256.Int).Mul(p.reserve0, p.reserve1)
	}
	return amount0, amount1, nil
}

// Swap sends the requested outputs to `to` and checks the 0.3%-fee
// constant-product invariant against whatever was paid in beforehand.
func (p *Pair) Swap(ctx context.Context, amount0Out, amount1Out *uint256.Int, to common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount0Out.IsZero() && amount1Out.IsZero() {
		return ErrInsufficientOutput
	}
	if !amount0Out.Lt(p.reserve0) || !amount1Out.Lt(p.reserve1) {
		return ErrInsufficientLiquidity
	}

	bank := p.factory.bank
	if !amount0Out.IsZero() {
		if err := bank.Transfer(ctx, p.token0, p.addr, to, amount0Out); err != nil {
			return fmt.Errorf("swap: send token0: %w", err)
		}
	}
	if !amount1Out.IsZero() {
		if err := bank.Transfer(ctx, p.token1, p.addr, to, amount1Out); err != nil {
			return fmt.Errorf("swap: send token1: %w", err)
		}
	}

	balance0 := bank.BalanceOf(p.token0, p.addr)
	balance1 := bank.BalanceOf(p.token1, p.addr)
	amount0In := amountIn(balance0, p.reserve0, amount0Out)
	amount1In := amountIn(balance1, p.reserve1, amount1Out)
	if amount0In.IsZero() && amount1In.IsZero() {
		return ErrInsufficientInput
	}

	thousand := uint256.NewInt(1000)
	three := uint256.NewInt(3)
	adj0 := new(uint256.Int).Sub(new(uint256.Int).Mul(balance0, thousand), new(uint256.Int).Mul(amount0In, three))
	adj1 := new(uint256.Int).Sub(new(uint256.Int).Mul(balance1, thousand), new(uint256.Int).Mul(amount1In, three))
	k := new(uint256.Int).Mul(new(uint256.Int).Mul(p.reserve0, p.reserve1), uint256.NewInt(1_000_000))
	if new(uint256.Int).Mul(adj0, adj1).Lt(k) {
		return ErrInvariant
	}

	p.reserve0, p.reserve1 = balance0, balance1
	return nil
}

func amountIn(balance, reserve, out *uint256.Int) *uint256.Int {
	floor := new(uint256.Int).Sub(reserve, out)
	if balance.Gt(floor) {
		return new(uint256.Int).Sub(balance, floor)
	}
	return new(uint256.Int)
}

// mintFeeLocked mints the protocol's share of accrued fees to feeTo:
// totalSupply·(√k − √kLast) / (5·√k + √kLast).
func (p *Pair) mintFeeLocked() bool {
	feeTo := p.factory.FeeTo()
	feeOn := feeTo != (common.Address{})
	if !feeOn {
		p.kLast = new(uint256.Int)
		return false
	}
	if p.kLast.IsZero() {
		return true
	}
	rootK := new(uint256.Int).Sqrt(new(uint256.Int).Mul(p.reserve0, p.reserve1))
	rootKLast := new(uint256.Int).Sqrt(p.kLast)
	if !rootK.Gt(rootKLast) {
		return true
	}
	numerator := new(uint256.Int).Mul(&p.totalSupply, new(uint256.Int).Sub(rootK, rootKLast))
	denominator := new(uint256.Int).Add(new(uint256.Int).Mul(rootK, uint256.NewInt(5)), rootKLast)
	liquidity := new(uint256.Int).Div(numerator, denominator)
	if !liquidity.IsZero() {
		p.mintSharesLocked(feeTo, liquidity)
	}
	return true
}

func (p *Pair) mintSharesLocked(to common.Address, amount *uint256.Int) {
	p.factory.bank.Mint(p.addr, to, amount)
	p.totalSupply.Add(&p.totalSupply, amount)
}
