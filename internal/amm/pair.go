// Package amm models the constant-product liquidity pools whose protocol
// fees feed the auction: deterministic pair addressing, an in-memory pair
// factory, and the unwinder that burns the engine's accumulated LP share
// into the two underlying tokens.
package amm

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrIdenticalAddresses = errors.New("identical addresses")
	ErrZeroAddress        = errors.New("zero address")
)

// SortTokens orders a pair the way the factory does: lower address first.
func SortTokens(tokenA, tokenB common.Address) (token0, token1 common.Address, err error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, ErrIdenticalAddresses
	}
	token0, token1 = tokenA, tokenB
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		token0, token1 = tokenB, tokenA
	}
	if token0 == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return token0, token1, nil
}

// PairFor derives the pair address without any lookups:
// CREATE2(factory, keccak256(token0 ‖ token1), pairCodeHash).
func PairFor(factory common.Address, pairCodeHash common.Hash, tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, pairCodeHash.Bytes()), nil
}
