package auction

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RecordState is the persisted form of an active BidRecord.
type RecordState struct {
	Token        common.Address `json:"token"`
	Bidder       common.Address `json:"bidder"`
	BidAmount    string         `json:"bid_amount"`
	RewardAmount string         `json:"reward_amount"`
	MinTTL       time.Time      `json:"min_ttl"`
	MaxTTL       time.Time      `json:"max_ttl"`
}

// State is everything the engine needs to resume after a restart.
type State struct {
	Owner     common.Address   `json:"owner"`
	Receiver  common.Address   `json:"receiver"`
	Staked    string           `json:"staked"`
	Records   []RecordState    `json:"records"`
	Whitelist []common.Address `json:"whitelist"`
}

// Export copies the engine state. Records are in token order.
func (e *Engine) Export() State {
	e.stateMu.RLock()
	st := State{
		Owner:    e.owner,
		Receiver: e.receiver,
		Staked:   e.staked.Dec(),
		Records:  make([]RecordState, 0, len(e.records)),
	}
	for tok, rec := range e.records {
		st.Records = append(st.Records, RecordState{
			Token:        tok,
			Bidder:       rec.Bidder,
			BidAmount:    rec.BidAmount.Dec(),
			RewardAmount: rec.RewardAmount.Dec(),
			MinTTL:       rec.MinTTL,
			MaxTTL:       rec.MaxTTL,
		})
	}
	e.stateMu.RUnlock()

	sortRecords(st.Records)
	st.Whitelist = e.rules.Whitelisted()
	return st
}

// Import replaces the engine state with st. Callers should Audit afterwards
// against the restored ledger.
func (e *Engine) Import(st State) error {
	if st.Owner == (common.Address{}) {
		return fmt.Errorf("import: %w", ErrZeroOwner)
	}
	if st.Receiver == (common.Address{}) {
		return fmt.Errorf("import: %w", ErrZeroReceiver)
	}
	staked, err := uint256.FromDecimal(st.Staked)
	if err != nil {
		return fmt.Errorf("import: staked: %w", err)
	}

	records := make(map[common.Address]BidRecord, len(st.Records))
	for _, rs := range st.Records {
		bid, err := uint256.FromDecimal(rs.BidAmount)
		if err != nil {
			return fmt.Errorf("import: bid for %s: %w", rs.Token.Hex(), err)
		}
		reward, err := uint256.FromDecimal(rs.RewardAmount)
		if err != nil {
			return fmt.Errorf("import: reward for %s: %w", rs.Token.Hex(), err)
		}
		rec := BidRecord{
			Bidder:       rs.Bidder,
			BidAmount:    bid,
			RewardAmount: reward,
			MinTTL:       rs.MinTTL,
			MaxTTL:       rs.MaxTTL,
		}
		if !rec.Active() {
			return fmt.Errorf("import: record for %s has no bidder", rs.Token.Hex())
		}
		if rec.MinTTL.After(rec.MaxTTL.Add(MinTTL)) {
			return fmt.Errorf("import: record for %s: min ttl past max ttl window", rs.Token.Hex())
		}
		records[rs.Token] = rec
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stateMu.Lock()
	e.owner = st.Owner
	e.receiver = st.Receiver
	e.staked = staked
	e.records = records
	e.stateMu.Unlock()

	for _, tok := range e.rules.Whitelisted() {
		e.rules.SetWhitelisted(tok, false)
	}
	for _, tok := range st.Whitelist {
		e.rules.SetWhitelisted(tok, true)
	}
	return nil
}

func sortRecords(rs []RecordState) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Token.Cmp(rs[j].Token) < 0 })
}

// Exclusive runs fn while no mutating call is in flight. fn must not call
// back into the engine's mutating methods.
func (e *Engine) Exclusive(fn func()) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	fn()
}
