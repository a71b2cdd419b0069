// Package guard decides which tokens may be put up for auction.
package guard

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"maker-auction/internal/amm"
)

var (
	ErrLPTokenNotAllowed   = errors.New("LPTokenNotAllowed")
	ErrBidTokenNotAllowed  = errors.New("BidTokenNotAllowed")
	ErrTokenNotWhitelisted = errors.New("TokenNotWhitelisted")
)

// PairInspector reports the constituents of addr when addr is an AMM pair.
type PairInspector interface {
	Tokens(addr common.Address) (token0, token1 common.Address, ok bool)
}

// Rules holds the bid token, the pair factory used to recognise LP tokens
// and the owner-managed whitelist.
type Rules struct {
	bidToken     common.Address
	factory      common.Address
	pairCodeHash common.Hash
	pairs        PairInspector

	mu        sync.RWMutex
	whitelist map[common.Address]bool
}

// NewRules returns rules with an empty whitelist. pairs may be nil, in which
// case no token is treated as an LP token.
func NewRules(bidToken, factory common.Address, pairCodeHash common.Hash, pairs PairInspector) *Rules {
	return &Rules{
		bidToken:     bidToken,
		factory:      factory,
		pairCodeHash: pairCodeHash,
		pairs:        pairs,
		whitelist:    make(map[common.Address]bool),
	}
}

func (r *Rules) BidToken() common.Address { return r.bidToken }

// IsAuctionable returns nil when token may be auctioned.
func (r *Rules) IsAuctionable(token common.Address) error {
	if r.IsLPToken(token) {
		return fmt.Errorf("token %s: %w", token.Hex(), ErrLPTokenNotAllowed)
	}
	if token == r.bidToken {
		return fmt.Errorf("token %s: %w", token.Hex(), ErrBidTokenNotAllowed)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.whitelist) > 0 && !r.whitelist[token] {
		return fmt.Errorf("token %s: %w", token.Hex(), ErrTokenNotWhitelisted)
	}
	return nil
}

// IsLPToken reports whether token is a pair deployed by the configured
// factory. A contract that merely claims token0/token1 does not qualify
// unless its address matches the CREATE2 derivation.
func (r *Rules) IsLPToken(token common.Address) bool {
	if r.pairs == nil {
		return false
	}
	token0, token1, ok := r.pairs.Tokens(token)
	if !ok {
		return false
	}
	pair, err := amm.PairFor(r.factory, r.pairCodeHash, token0, token1)
	if err != nil {
		return false
	}
	return pair == token
}

// SetWhitelisted enables or disables token.
func (r *Rules) SetWhitelisted(token common.Address, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		r.whitelist[token] = true
	} else {
		delete(r.whitelist, token)
	}
}

// Whitelisted returns the enabled tokens in address order.
func (r *Rules) Whitelisted() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.whitelist))
	for tok := range r.whitelist {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
