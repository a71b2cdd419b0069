package settler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"maker-auction/internal/auction"
	"maker-auction/internal/config"
)

var (
	tokA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokB  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokC  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

var now = time.Unix(1_700_000_000, 0)

type fakeEngine struct {
	mu      sync.Mutex
	records map[common.Address]auction.BidRecord
	ended   []common.Address
	endErr  map[common.Address]error
}

func (f *fakeEngine) Active() map[common.Address]auction.BidRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[common.Address]auction.BidRecord, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return out
}

func (f *fakeEngine) End(ctx context.Context, tok common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.endErr[tok]; err != nil {
		return err
	}
	f.ended = append(f.ended, tok)
	delete(f.records, tok)
	return nil
}

func (f *fakeEngine) Now() time.Time { return now }

func record(minTTL, maxTTL time.Duration) auction.BidRecord {
	return auction.BidRecord{
		Bidder:       alice,
		BidAmount:    uint256.NewInt(1000),
		RewardAmount: uint256.NewInt(1),
		MinTTL:       now.Add(minTTL),
		MaxTTL:       now.Add(maxTTL),
	}
}

func newTestKeeper(eng Engine) *Keeper {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewKeeper(config.SettlerConfig{Enabled: true, Interval: time.Hour}, eng, logger)
}

func TestSweepEndsOnlyClosedAuctions(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{records: map[common.Address]auction.BidRecord{
		tokA: record(-time.Second, time.Hour), // rolling window elapsed
		tokB: record(time.Hour, 2*time.Hour),  // still open
		tokC: record(time.Hour, 0),            // hard deadline reached
	}}
	k := newTestKeeper(eng)

	if n := k.Sweep(context.Background()); n != 2 {
		t.Fatalf("Sweep() = %d, want 2", n)
	}
	if len(eng.ended) != 2 || eng.ended[0] != tokA || eng.ended[1] != tokC {
		t.Errorf("ended = %v, want [tokA tokC]", eng.ended)
	}
	if _, ok := eng.records[tokB]; !ok {
		t.Error("open auction was ended")
	}

	st := k.Status()
	if st.Settled != 2 || !st.LastSweep.Equal(now) {
		t.Errorf("Status = %+v", st)
	}
	for i := 0; i < 2; i++ {
		select {
		case s := <-k.Settled():
			if s.Winner != alice {
				t.Errorf("settlement winner = %s, want alice", s.Winner.Hex())
			}
		default:
			t.Fatalf("expected settlement %d on channel", i)
		}
	}
}

func TestSweepIgnoresLostRaces(t *testing.T) {
	t.Parallel()
	for _, sentinel := range []error{auction.ErrBidNotStarted, auction.ErrBidNotFinished, auction.ErrReentrantCall} {
		eng := &fakeEngine{
			records: map[common.Address]auction.BidRecord{tokA: record(0, time.Hour)},
			endErr:  map[common.Address]error{tokA: fmt.Errorf("end: %w", sentinel)},
		}
		k := newTestKeeper(eng)

		if n := k.Sweep(context.Background()); n != 0 {
			t.Errorf("%v: Sweep() = %d, want 0", sentinel, n)
		}
		if got := k.Status().Failing; len(got) != 0 {
			t.Errorf("%v: Failing = %v, want none", sentinel, got)
		}
	}
}

func TestSweepCountsFailures(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{
		records: map[common.Address]auction.BidRecord{tokA: record(0, time.Hour)},
		endErr:  map[common.Address]error{tokA: errors.New("receiver rejects")},
	}
	k := newTestKeeper(eng)

	k.Sweep(context.Background())
	k.Sweep(context.Background())
	if got := k.Status().Failing[tokA]; got != 2 {
		t.Errorf("Failing[tokA] = %d, want 2", got)
	}

	eng.mu.Lock()
	delete(eng.endErr, tokA)
	eng.mu.Unlock()
	if n := k.Sweep(context.Background()); n != 1 {
		t.Fatalf("Sweep() after recovery = %d, want 1", n)
	}
	if got := k.Status().Failing; len(got) != 0 {
		t.Errorf("Failing = %v, want cleared", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{records: map[common.Address]auction.BidRecord{tokA: record(0, time.Hour)}}
	k := newTestKeeper(eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	select {
	case <-k.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("initial sweep did not settle")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
