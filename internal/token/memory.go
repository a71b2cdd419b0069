package token

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Memory is an in-process multi-token ledger with ERC20 semantics.
type Memory struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*uint256.Int                   // token → holder → balance
	allowances map[common.Address]map[common.Address]map[common.Address]*uint256.Int // token → owner → spender → allowance
	journal    []func()
	hooks      []Hook
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*uint256.Int),
	}
}

// OnTransfer registers a hook invoked after every successful balance move.
func (m *Memory) OnTransfer(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// BalanceOf returns a copy of holder's balance of token.
func (m *Memory) BalanceOf(token, holder common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(token, holder).Clone()
}

// Allowance returns a copy of what spender may pull from owner.
func (m *Memory) Allowance(token, owner, spender common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowanceLocked(token, owner, spender).Clone()
}

// Mint credits amount of token to holder out of thin air. Used to seed the
// simulated chain and test fixtures.
func (m *Memory) Mint(token, to common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(token, to)
	m.setBalanceLocked(token, to, new(uint256.Int).Add(bal, amount))
}

// Burn debits amount of token from holder.
func (m *Memory) Burn(token, from common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(token, from)
	if bal.Lt(amount) {
		return fmt.Errorf("burn %s: %w", token.Hex(), ErrInsufficientBalance)
	}
	m.setBalanceLocked(token, from, new(uint256.Int).Sub(bal, amount))
	return nil
}

func (m *Memory) Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAllowanceLocked(token, owner, spender, amount.Clone())
	return nil
}

func (m *Memory) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	if err := m.moveLocked(token, from, to, amount); err != nil {
		m.mu.Unlock()
		return err
	}
	hooks := m.hooks
	m.mu.Unlock()
	return runHooks(ctx, hooks, token, from, to, amount)
}

func (m *Memory) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	allowed := m.allowanceLocked(token, from, spender)
	if allowed.Lt(amount) {
		m.mu.Unlock()
		return fmt.Errorf("transfer %s from %s: %w", token.Hex(), from.Hex(), ErrInsufficientAllowance)
	}
	if err := m.moveLocked(token, from, to, amount); err != nil {
		m.mu.Unlock()
		return err
	}
	m.setAllowanceLocked(token, from, spender, new(uint256.Int).Sub(allowed, amount))
	hooks := m.hooks
	m.mu.Unlock()
	return runHooks(ctx, hooks, token, from, to, amount)
}

// Snapshot marks the current journal position.
func (m *Memory) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every change recorded after id.
func (m *Memory) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id > len(m.journal) {
		panic(fmt.Sprintf("token: revision id %d cannot be reverted", id))
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		m.journal[i]()
	}
	m.journal = m.journal[:id]
}

// Compact drops the undo journal. Snapshots taken before the call become
// invalid, so only call it between engine operations.
func (m *Memory) Compact() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = m.journal[:0]
}

func runHooks(ctx context.Context, hooks []Hook, token, from, to common.Address, amount *uint256.Int) error {
	for _, h := range hooks {
		if err := h(ctx, token, from, to, amount); err != nil {
			return fmt.Errorf("transfer hook: %w", err)
		}
	}
	return nil
}

func (m *Memory) moveLocked(token, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer %s: %w", token.Hex(), ErrZeroAddress)
	}
	fromBal := m.balanceLocked(token, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("transfer %s from %s: %w", token.Hex(), from.Hex(), ErrInsufficientBalance)
	}
	m.setBalanceLocked(token, from, new(uint256.Int).Sub(fromBal, amount))
	toBal := m.balanceLocked(token, to)
	m.setBalanceLocked(token, to, new(uint256.Int).Add(toBal, amount))
	return nil
}

func (m *Memory) balanceLocked(token, holder common.Address) *uint256.Int {
	if bal, ok := m.balances[token][holder]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (m *Memory) setBalanceLocked(token, holder common.Address, v *uint256.Int) {
	holders, ok := m.balances[token]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		m.balances[token] = holders
	}
	prev, existed := holders[holder]
	m.journal = append(m.journal, func() {
		if existed {
			holders[holder] = prev
		} else {
			delete(holders, holder)
		}
	})
	holders[holder] = v
}

func (m *Memory) allowanceLocked(token, owner, spender common.Address) *uint256.Int {
	if a, ok := m.allowances[token][owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

func (m *Memory) setAllowanceLocked(token, owner, spender common.Address, v *uint256.Int) {
	owners, ok := m.allowances[token]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*uint256.Int)
		m.allowances[token] = owners
	}
	spenders, ok := owners[owner]
	if !ok {
		spenders = make(map[common.Address]*uint256.Int)
		owners[owner] = spenders
	}
	prev, existed := spenders[spender]
	m.journal = append(m.journal, func() {
		if existed {
			spenders[spender] = prev
		} else {
			delete(spenders, spender)
		}
	})
	spenders[spender] = v
}

// Entry is one non-zero balance or allowance, used for persistence.
type Entry struct {
	Token   common.Address `json:"token"`
	Holder  common.Address `json:"holder"`
	Spender common.Address `json:"spender,omitempty"`
	Amount  string         `json:"amount"`
}

// State is a serialisable copy of the whole ledger.
type State struct {
	Balances   []Entry `json:"balances"`
	Allowances []Entry `json:"allowances"`
}

// Export returns all non-zero balances and allowances in a stable order.
func (m *Memory) Export() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st State
	for tok, holders := range m.balances {
		for holder, bal := range holders {
			if bal.IsZero() {
				continue
			}
			st.Balances = append(st.Balances, Entry{Token: tok, Holder: holder, Amount: bal.Dec()})
		}
	}
	for tok, owners := range m.allowances {
		for owner, spenders := range owners {
			for spender, a := range spenders {
				if a.IsZero() {
					continue
				}
				st.Allowances = append(st.Allowances, Entry{Token: tok, Holder: owner, Spender: spender, Amount: a.Dec()})
			}
		}
	}
	sortEntries(st.Balances)
	sortEntries(st.Allowances)
	return st
}

// Import replaces the ledger contents with st and clears the journal.
func (m *Memory) Import(st State) error {
	balances := make(map[common.Address]map[common.Address]*uint256.Int)
	for _, e := range st.Balances {
		amt, err := uint256.FromDecimal(e.Amount)
		if err != nil {
			return fmt.Errorf("parse balance %s/%s: %w", e.Token.Hex(), e.Holder.Hex(), err)
		}
		if balances[e.Token] == nil {
			balances[e.Token] = make(map[common.Address]*uint256.Int)
		}
		balances[e.Token][e.Holder] = amt
	}
	allowances := make(map[common.Address]map[common.Address]map[common.Address]*uint256.Int)
	for _, e := range st.Allowances {
		amt, err := uint256.FromDecimal(e.Amount)
		if err != nil {
			return fmt.Errorf("parse allowance %s/%s: %w", e.Token.Hex(), e.Holder.Hex(), err)
		}
		if allowances[e.Token] == nil {
			allowances[e.Token] = make(map[common.Address]map[common.Address]*uint256.Int)
		}
		if allowances[e.Token][e.Holder] == nil {
			allowances[e.Token][e.Holder] = make(map[common.Address]*uint256.Int)
		}
		allowances[e.Token][e.Holder][e.Spender] = amt
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = balances
	m.allowances = allowances
	m.journal = nil
	return nil
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if c := es[i].Token.Cmp(es[j].Token); c != 0 {
			return c < 0
		}
		if c := es[i].Holder.Cmp(es[j].Holder); c != 0 {
			return c < 0
		}
		return es[i].Spender.Cmp(es[j].Spender) < 0
	})
}
