package amm

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PairState is the persisted form of a pair. LP balances live in the bank
// and are persisted with it.
type PairState struct {
	Address     common.Address `json:"address"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Reserve0    string         `json:"reserve0"`
	Reserve1    string         `json:"reserve1"`
	TotalSupply string         `json:"total_supply"`
	KLast       string         `json:"k_last"`
}

// FactoryState is a serialisable copy of the factory.
type FactoryState struct {
	FeeTo common.Address `json:"fee_to"`
	Pairs []PairState    `json:"pairs"`
}

// Export copies every pair's accounting in address order.
func (f *Factory) Export() FactoryState {
	f.mu.RLock()
	st := FactoryState{FeeTo: f.feeTo, Pairs: make([]PairState, 0, len(f.pairs))}
	pairs := make([]*Pair, 0, len(f.pairs))
	for _, p := range f.pairs {
		pairs = append(pairs, p)
	}
	f.mu.RUnlock()

	for _, p := range pairs {
		p.mu.Lock()
		st.Pairs = append(st.Pairs, PairState{
			Address:     p.addr,
			Token0:      p.token0,
			Token1:      p.token1,
			Reserve0:    p.reserve0.Dec(),
			Reserve1:    p.reserve1.Dec(),
			TotalSupply: p.totalSupply.Dec(),
			KLast:       p.kLast.Dec(),
		})
		p.mu.Unlock()
	}
	sort.Slice(st.Pairs, func(i, j int) bool { return st.Pairs[i].Address.Cmp(st.Pairs[j].Address) < 0 })
	return st
}

// Import replaces all pairs with st. Each pair address must match its
// CREATE2 derivation under this factory.
func (f *Factory) Import(st FactoryState) error {
	pairs := make(map[common.Address]*Pair, len(st.Pairs))
	for _, ps := range st.Pairs {
		want, err := PairFor(f.addr, f.codeHash, ps.Token0, ps.Token1)
		if err != nil {
			return fmt.Errorf("import pair %s: %w", ps.Address.Hex(), err)
		}
		if want != ps.Address {
			return fmt.Errorf("import pair %s: address does not match tokens (want %s)", ps.Address.Hex(), want.Hex())
		}
		vals := make([]*uint256.Int, 4)
		for i, s := range []string{ps.Reserve0, ps.Reserve1, ps.TotalSupply, ps.KLast} {
			v, err := uint256.FromDecimal(s)
			if err != nil {
				return fmt.Errorf("import pair %s: %w", ps.Address.Hex(), err)
			}
			vals[i] = v
		}
		token0, token1, _ := SortTokens(ps.Token0, ps.Token1)
		p := &Pair{
			factory:  f,
			addr:     ps.Address,
			token0:   token0,
			token1:   token1,
			reserve0: vals[0],
			reserve1: vals[1],
			kLast:    vals[3],
		}
		p.totalSupply.Set(vals[2])
		pairs[ps.Address] = p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeTo = st.FeeTo
	f.pairs = pairs
	return nil
}
