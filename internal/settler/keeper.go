// Package settler ends auctions once their bidding window has closed.
//
// End may be called by anyone, so nothing forces a closed auction to settle.
// The keeper runs as a standalone goroutine that, every Interval, scans the
// engine's active records and calls End on each one that is closed at the
// engine's current time. Losing a race against another caller shows up as
// ErrBidNotStarted or ErrBidNotFinished, and arriving while another call is
// moving tokens shows up as ErrReentrantCall; neither is a failure.
package settler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"maker-auction/internal/auction"
	"maker-auction/internal/config"
)

// Engine is the part of auction.Engine the keeper needs.
type Engine interface {
	Active() map[common.Address]auction.BidRecord
	End(ctx context.Context, tok common.Address) error
	Now() time.Time
}

// Settlement reports one auction the keeper ended.
type Settlement struct {
	Token  common.Address
	Winner common.Address
	At     time.Time
}

// Keeper periodically settles closed auctions.
type Keeper struct {
	cfg    config.SettlerConfig
	engine Engine
	logger *slog.Logger

	mu        sync.RWMutex
	lastSweep time.Time
	settled   int
	failures  map[common.Address]int // consecutive End failures per token

	settledCh chan Settlement
}

// NewKeeper creates a keeper.
func NewKeeper(cfg config.SettlerConfig, engine Engine, logger *slog.Logger) *Keeper {
	return &Keeper{
		cfg:       cfg,
		engine:    engine,
		logger:    logger.With("component", "settler"),
		failures:  make(map[common.Address]int),
		settledCh: make(chan Settlement, 64),
	}
}

// Run sweeps every Interval until ctx is cancelled. The first sweep runs
// immediately so auctions that closed while the daemon was down settle on
// startup.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	k.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Sweep(ctx)
		}
	}
}

// Settled returns the channel of settlements (non-blocking producer).
func (k *Keeper) Settled() <-chan Settlement {
	return k.settledCh
}

// Sweep ends every closed auction and returns how many were settled.
func (k *Keeper) Sweep(ctx context.Context) int {
	now := k.engine.Now()
	active := k.engine.Active()

	closed := make([]common.Address, 0, len(active))
	for tok, rec := range active {
		if rec.ClosedAt(now) {
			closed = append(closed, tok)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Cmp(closed[j]) < 0 })

	n := 0
	for _, tok := range closed {
		if ctx.Err() != nil {
			break
		}
		winner := active[tok].Bidder
		err := k.engine.End(ctx, tok)
		switch {
		case err == nil:
			n++
			k.recordSuccess(tok)
			k.logger.Info("auction settled", "token", tok.Hex(), "winner", winner.Hex())
			k.publish(Settlement{Token: tok, Winner: winner, At: now})
		case errors.Is(err, auction.ErrBidNotStarted), errors.Is(err, auction.ErrBidNotFinished),
			errors.Is(err, auction.ErrReentrantCall):
			k.logger.Debug("auction changed before settlement", "token", tok.Hex(), "error", err)
		default:
			fails := k.recordFailure(tok)
			k.logger.Warn("settlement failed",
				"token", tok.Hex(),
				"error", err,
				"consecutive_failures", fails,
			)
		}
	}

	k.mu.Lock()
	k.lastSweep = now
	k.mu.Unlock()
	return n
}

func (k *Keeper) recordSuccess(tok common.Address) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.settled++
	delete(k.failures, tok)
}

func (k *Keeper) recordFailure(tok common.Address) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failures[tok]++
	return k.failures[tok]
}

func (k *Keeper) publish(s Settlement) {
	select {
	case k.settledCh <- s:
	default:
		k.logger.Warn("settlement channel full, dropping notice", "token", s.Token.Hex())
	}
}

// Status summarises keeper activity.
type Status struct {
	LastSweep time.Time
	Settled   int
	Failing   map[common.Address]int
}

// Status returns a copy of the keeper's counters.
func (k *Keeper) Status() Status {
	k.mu.RLock()
	defer k.mu.RUnlock()
	failing := make(map[common.Address]int, len(k.failures))
	for tok, n := range k.failures {
		failing[tok] = n
	}
	return Status{LastSweep: k.lastSweep, Settled: k.settled, Failing: failing}
}
