package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"maker-auction/internal/amm"
	"maker-auction/internal/token"
)

var (
	factoryAddr = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	maker       = common.HexToAddress("0x80C7DD17B01855a6D2347444a0FCC36136a314de")
	owner       = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	receiver    = common.HexToAddress("0x00000000000000000000000000000000000000f5")
	sushi       = common.HexToAddress("0x6B3595068778DD592e39A122f4f5a5cF09C90fE2")
	tok0        = common.HexToAddress("0x1000000000000000000000000000000000000000")
	tok1        = common.HexToAddress("0x2000000000000000000000000000000000000000")
	tok2        = common.HexToAddress("0x3000000000000000000000000000000000000000")
	lp          = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	alice       = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol       = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func e18(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(v), u(1_000_000_000_000_000_000))
}

type fixture struct {
	ctx    context.Context
	ledger *token.Memory
	pair   common.Address
	clock  *fakeClock
	engine *Engine
}

// newFixture deploys a pool whose protocol fee accrues to the engine,
// unwinds it so tok0 and tok1 are held as rewards, and funds three bidders
// who have approved the engine.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := token.NewMemory()

	factory := amm.NewFactory(factoryAddr, amm.DefaultPairCodeHash, ledger)
	factory.SetFeeTo(maker)
	pairAddr, err := factory.CreatePair(tok0, tok1)
	if err != nil {
		t.Fatalf("CreatePair: %v", err)
	}
	pair, _ := factory.Pair(pairAddr)

	ledger.Mint(tok0, lp, e18(1_000_000))
	ledger.Mint(tok1, lp, e18(1_000_000))
	mustOK(t, ledger.Transfer(ctx, tok0, lp, pairAddr, e18(500_000)))
	mustOK(t, ledger.Transfer(ctx, tok1, lp, pairAddr, e18(500_000)))
	if _, err := pair.Mint(ctx, lp); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	mustOK(t, ledger.Transfer(ctx, tok0, lp, pairAddr, e18(100)))
	mustOK(t, pair.Swap(ctx, new(uint256.Int), u(99), lp))
	mustOK(t, ledger.Transfer(ctx, tok0, lp, pairAddr, e18(1)))
	mustOK(t, ledger.Transfer(ctx, tok1, lp, pairAddr, e18(1)))
	if _, err := pair.Mint(ctx, lp); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	clock := &fakeClock{now: t0}
	eng, err := New(Params{
		Self:         maker,
		Owner:        owner,
		Receiver:     receiver,
		BidToken:     sushi,
		Factory:      factoryAddr,
		PairCodeHash: amm.DefaultPairCodeHash,
	}, Deps{
		Ledger: ledger,
		Pairs:  factory,
		Burner: factory,
		Clock:  clock,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := eng.UnwindLP(ctx, tok0, tok1); err != nil {
		t.Fatalf("UnwindLP: %v", err)
	}

	for _, who := range []common.Address{alice, bob, carol} {
		ledger.Mint(sushi, who, e18(1))
		if who != carol {
			mustOK(t, ledger.Approve(ctx, sushi, who, maker, e18(1)))
		}
	}
	ledger.Compact()

	return &fixture{ctx: ctx, ledger: ledger, pair: pairAddr, clock: clock, engine: eng}
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (f *fixture) balance(tok, who common.Address) *uint256.Int {
	return f.ledger.BalanceOf(tok, who)
}

func (f *fixture) audit(t *testing.T) {
	t.Helper()
	if err := f.engine.Audit(); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestStartRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		token  common.Address
		amount uint64
		want   error
	}{
		{"lp token", f.pair, 1000, ErrLPTokenNotAllowed},
		{"bid token", sushi, 1000, ErrBidTokenNotAllowed},
		{"below minimum", tok0, 999, ErrInsufficientBidAmount},
		{"no reward held", tok2, 1000, ErrNoRewardBalance},
	}
	for _, tt := range tests {
		err := f.engine.Start(f.ctx, alice, tt.token, u(tt.amount), alice)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: Start = %v, want %v", tt.name, err, tt.want)
		}
	}
	if got := f.engine.StakedBidToken(); !got.IsZero() {
		t.Errorf("StakedBidToken = %s, want 0", got)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))
	err := f.engine.Start(f.ctx, alice, tok0, u(1000), alice)
	if !errors.Is(err, ErrBidAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrBidAlreadyStarted", err)
	}
	if got := f.engine.StakedBidToken(); !got.Eq(u(1000)) {
		t.Errorf("StakedBidToken = %s, want 1000", got)
	}
}

func TestStartRecordsWindows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	reward := f.balance(tok0, maker)
	before := f.balance(sushi, alice)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	rec := f.engine.Bids(tok0)
	if want := t0.Add(43200 * time.Second); !rec.MinTTL.Equal(want) {
		t.Errorf("MinTTL = %v, want %v", rec.MinTTL, want)
	}
	if want := t0.Add(259200 * time.Second); !rec.MaxTTL.Equal(want) {
		t.Errorf("MaxTTL = %v, want %v", rec.MaxTTL, want)
	}
	if rec.Bidder != alice {
		t.Errorf("Bidder = %s, want alice", rec.Bidder.Hex())
	}
	if !rec.BidAmount.Eq(u(1000)) {
		t.Errorf("BidAmount = %s, want 1000", rec.BidAmount)
	}
	if !rec.RewardAmount.Eq(reward) {
		t.Errorf("RewardAmount = %s, want %s", rec.RewardAmount, reward)
	}
	if got := f.engine.StakedBidToken(); !got.Eq(u(1000)) {
		t.Errorf("StakedBidToken = %s, want 1000", got)
	}
	if got := new(uint256.Int).Sub(before, f.balance(sushi, alice)); !got.Eq(u(1000)) {
		t.Errorf("alice paid %s, want 1000", got)
	}
	f.audit(t)
}

func TestPlaceBidNotStarted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	err := f.engine.PlaceBid(f.ctx, alice, tok1, u(1000), alice)
	if !errors.Is(err, ErrBidNotStarted) {
		t.Errorf("PlaceBid = %v, want ErrBidNotStarted", err)
	}
}

func TestPlaceBidAfterMinTTL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	f.clock.Advance(MinTTL)
	err := f.engine.PlaceBid(f.ctx, alice, tok0, u(1001), alice)
	if !errors.Is(err, ErrBidFinished) {
		t.Errorf("PlaceBid at MinTTL = %v, want ErrBidFinished", err)
	}
}

// Each bid lands 100s before the rolling window closes, so the auction is
// kept alive until the hard deadline stops it.
func TestPlaceBidAfterMaxTTL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	amount := uint64(1000)
	for i := 0; i < 6; i++ {
		amount += amount / 1000
		f.clock.Advance(MinTTL - 100*time.Second)
		if err := f.engine.PlaceBid(f.ctx, alice, tok0, u(amount), alice); err != nil {
			t.Fatalf("bid %d (%d): %v", i+1, amount, err)
		}
		rec := f.engine.Bids(tok0)
		if want := f.clock.Now().Add(MinTTL); !rec.MinTTL.Equal(want) {
			t.Errorf("bid %d: MinTTL = %v, want %v", i+1, rec.MinTTL, want)
		}
		if want := t0.Add(MaxTTL); !rec.MaxTTL.Equal(want) {
			t.Errorf("bid %d: MaxTTL moved to %v", i+1, rec.MaxTTL)
		}
	}
	if got := f.engine.Bids(tok0).BidAmount; !got.Eq(u(1006)) {
		t.Errorf("BidAmount = %s, want 1006", got)
	}

	// Rolling window still open, hard deadline reached.
	f.clock.Advance(600 * time.Second)
	err := f.engine.PlaceBid(f.ctx, alice, tok0, u(1010), alice)
	if !errors.Is(err, ErrBidFinished) {
		t.Errorf("PlaceBid at MaxTTL = %v, want ErrBidFinished", err)
	}
	f.audit(t)
}

func TestMinNextBid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prev uint64
		want uint64
	}{
		{1000, 1001},
		{1999, 2000},
		{2000, 2002},
		{2_000_000, 2_002_000},
		{2_000_999, 2_002_999},
	}
	for _, tt := range tests {
		if got := MinNextBid(u(tt.prev)); !got.Eq(u(tt.want)) {
			t.Errorf("MinNextBid(%d) = %s, want %d", tt.prev, got, tt.want)
		}
	}
}

func TestPlaceBidThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		start  uint64
		bid    uint64
		wantOK bool
	}{
		{"same amount", 1000, 1000, false},
		{"plus one at minimum scale", 1000, 1001, true},
		{"just under step", 2_000_000, 2_001_999, false},
		{"exact step", 2_000_000, 2_002_000, true},
		{"lower", 5000, 4999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(tt.start), alice))

			err := f.engine.PlaceBid(f.ctx, bob, tok0, u(tt.bid), bob)
			if tt.wantOK && err != nil {
				t.Fatalf("PlaceBid(%d) = %v, want nil", tt.bid, err)
			}
			if !tt.wantOK && !errors.Is(err, ErrInsufficientBidAmount) {
				t.Fatalf("PlaceBid(%d) = %v, want ErrInsufficientBidAmount", tt.bid, err)
			}
			f.audit(t)
		})
	}
}

func TestPlaceBidRefundsPrevious(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	engineBefore := f.balance(sushi, maker)
	aliceBefore := f.balance(sushi, alice)
	bobBefore := f.balance(sushi, bob)

	mustOK(t, f.engine.PlaceBid(f.ctx, bob, tok0, u(1001), bob))

	if got := new(uint256.Int).Sub(f.balance(sushi, alice), aliceBefore); !got.Eq(u(1000)) {
		t.Errorf("alice refunded %s, want 1000", got)
	}
	if got := new(uint256.Int).Sub(bobBefore, f.balance(sushi, bob)); !got.Eq(u(1001)) {
		t.Errorf("bob paid %s, want 1001", got)
	}
	if got := new(uint256.Int).Sub(f.balance(sushi, maker), engineBefore); !got.Eq(u(1)) {
		t.Errorf("engine gained %s, want 1", got)
	}
	rec := f.engine.Bids(tok0)
	if rec.Bidder != bob || !rec.BidAmount.Eq(u(1001)) {
		t.Errorf("record = (%s, %s), want (bob, 1001)", rec.Bidder.Hex(), rec.BidAmount)
	}
	if got := f.engine.StakedBidToken(); !got.Eq(u(1001)) {
		t.Errorf("StakedBidToken = %s, want 1001", got)
	}
	f.audit(t)
}

// carol never approved the engine, so her escrow pull fails after alice's
// refund has already been issued. The refund must be undone too.
func TestPlaceBidFailedEscrowRollsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	aliceBefore := f.balance(sushi, alice)
	engineBefore := f.balance(sushi, maker)
	recBefore := f.engine.Bids(tok0)

	err := f.engine.PlaceBid(f.ctx, carol, tok0, u(5000), carol)
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("PlaceBid = %v, want ErrInsufficientAllowance", err)
	}
	if got := f.balance(sushi, alice); !got.Eq(aliceBefore) {
		t.Errorf("alice = %s, want %s (refund reverted)", got, aliceBefore)
	}
	if got := f.balance(sushi, maker); !got.Eq(engineBefore) {
		t.Errorf("engine = %s, want %s", got, engineBefore)
	}
	rec := f.engine.Bids(tok0)
	if rec.Bidder != alice || !rec.BidAmount.Eq(recBefore.BidAmount) || !rec.MinTTL.Equal(recBefore.MinTTL) {
		t.Errorf("record changed after failed bid: %+v", rec)
	}
	if got := f.engine.StakedBidToken(); !got.Eq(u(1000)) {
		t.Errorf("StakedBidToken = %s, want 1000", got)
	}
	f.audit(t)
}

// A refund hook that calls back into the engine sees the new bid already
// recorded and cannot start a nested operation.
func TestReentrantCallRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	var (
		nestedErr  error
		seenStaked *uint256.Int
		seenBidder common.Address
	)
	f.ledger.OnTransfer(func(ctx context.Context, tok, from, to common.Address, amount *uint256.Int) error {
		if tok != sushi || to != alice {
			return nil
		}
		seenStaked = f.engine.StakedBidToken()
		seenBidder = f.engine.Bids(tok0).Bidder
		nestedErr = f.engine.PlaceBid(ctx, alice, tok0, u(1_000_000), alice)
		return nil
	})

	mustOK(t, f.engine.PlaceBid(f.ctx, bob, tok0, u(1001), bob))

	if !errors.Is(nestedErr, ErrReentrantCall) {
		t.Errorf("nested PlaceBid = %v, want ErrReentrantCall", nestedErr)
	}
	if seenBidder != bob {
		t.Errorf("hook saw bidder %s, want bob", seenBidder.Hex())
	}
	if seenStaked == nil || !seenStaked.Eq(u(1001)) {
		t.Errorf("hook saw staked %v, want 1001", seenStaked)
	}
	if got := f.engine.Bids(tok0); got.Bidder != bob || !got.BidAmount.Eq(u(1001)) {
		t.Errorf("record = (%s, %s), want (bob, 1001)", got.Bidder.Hex(), got.BidAmount)
	}
	f.audit(t)
}

func TestReentrantCallWithFreshContextRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	var nestedErr error
	armed := true
	f.ledger.OnTransfer(func(_ context.Context, tok, from, to common.Address, amount *uint256.Int) error {
		if !armed || tok != sushi || to != alice {
			return nil
		}
		nestedErr = f.engine.PlaceBid(context.Background(), alice, tok0, u(1_000_000), alice)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- f.engine.PlaceBid(f.ctx, bob, tok0, u(1001), bob) }()
	select {
	case err := <-done:
		mustOK(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("PlaceBid blocked on a nested call from a transfer hook")
	}

	if !errors.Is(nestedErr, ErrReentrantCall) {
		t.Errorf("nested PlaceBid = %v, want ErrReentrantCall", nestedErr)
	}
	if got := f.engine.Bids(tok0); got.Bidder != bob || !got.BidAmount.Eq(u(1001)) {
		t.Errorf("record = (%s, %s), want (bob, 1001)", got.Bidder.Hex(), got.BidAmount)
	}

	// The guard is released once the call returns.
	armed = false
	mustOK(t, f.engine.PlaceBid(f.ctx, alice, tok0, u(2000), alice))
	f.audit(t)
}

func TestZeroBidderCheckedAfterRecordState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"start running auction", func() error {
			return f.engine.Start(f.ctx, bob, tok0, u(5000), common.Address{})
		}, ErrBidAlreadyStarted},
		{"bid on idle token", func() error {
			return f.engine.PlaceBid(f.ctx, bob, tok1, u(5000), common.Address{})
		}, ErrBidNotStarted},
		{"bid too low", func() error {
			return f.engine.PlaceBid(f.ctx, bob, tok0, u(1000), common.Address{})
		}, ErrInsufficientBidAmount},
		{"valid bid", func() error {
			return f.engine.PlaceBid(f.ctx, bob, tok0, u(5000), common.Address{})
		}, amm.ErrZeroAddress},
		{"valid start", func() error {
			return f.engine.Start(f.ctx, bob, tok1, u(5000), common.Address{})
		}, amm.ErrZeroAddress},
	}
	for _, tt := range tests {
		if err := tt.call(); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
	f.audit(t)
}

func TestRejectingRecipientAbortsEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	rejected := errors.New("receiver rejects")
	f.ledger.OnTransfer(func(ctx context.Context, tok, from, to common.Address, amount *uint256.Int) error {
		if to == receiver {
			return rejected
		}
		return nil
	})
	f.clock.Advance(MinTTL)

	rewardBefore := f.balance(tok0, maker)
	if err := f.engine.End(f.ctx, tok0); !errors.Is(err, rejected) {
		t.Fatalf("End = %v, want receiver error", err)
	}
	if got := f.balance(tok0, maker); !got.Eq(rewardBefore) {
		t.Errorf("engine reward balance = %s, want %s", got, rewardBefore)
	}
	if got := f.balance(tok0, alice); !got.IsZero() {
		t.Errorf("alice received %s reward despite revert", got)
	}
	if !f.engine.Bids(tok0).Active() {
		t.Error("record cleared despite failed End")
	}
	f.audit(t)
}

func TestEndNotStarted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.engine.End(f.ctx, tok0); !errors.Is(err, ErrBidNotStarted) {
		t.Errorf("End = %v, want ErrBidNotStarted", err)
	}
}

func TestEndBeforeWindowCloses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	if err := f.engine.End(f.ctx, tok0); !errors.Is(err, ErrBidNotFinished) {
		t.Errorf("End right after start = %v, want ErrBidNotFinished", err)
	}

	amount := uint64(1000)
	for i := 0; i < 6; i++ {
		amount += amount / 1000
		f.clock.Advance(MinTTL - 100*time.Second)
		mustOK(t, f.engine.PlaceBid(f.ctx, alice, tok0, u(amount), alice))
	}
	if err := f.engine.End(f.ctx, tok0); !errors.Is(err, ErrBidNotFinished) {
		t.Errorf("End after six bids = %v, want ErrBidNotFinished", err)
	}
}

func TestEndAfterMaxTTL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	amount := uint64(1000)
	for i := 0; i < 6; i++ {
		amount += amount / 1000
		f.clock.Advance(MinTTL - 100*time.Second)
		mustOK(t, f.engine.PlaceBid(f.ctx, bob, tok0, u(amount), bob))
	}
	f.clock.Advance(600 * time.Second)
	mustOK(t, f.engine.End(f.ctx, tok0))
	if got := f.balance(sushi, receiver); !got.Eq(u(amount)) {
		t.Errorf("receiver = %s, want %d", got, amount)
	}
}

func TestEndPaysOutAndReopens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))
	reward := f.engine.Bids(tok0).RewardAmount
	aliceReward := f.balance(tok0, alice)

	f.clock.Advance(MinTTL + time.Second)
	mustOK(t, f.engine.End(f.ctx, tok0))

	if got := f.balance(sushi, receiver); !got.Eq(u(1000)) {
		t.Errorf("receiver = %s, want 1000", got)
	}
	if got := new(uint256.Int).Sub(f.balance(tok0, alice), aliceReward); !got.Eq(reward) {
		t.Errorf("winner received %s, want %s", got, reward)
	}
	rec := f.engine.Bids(tok0)
	if rec.Active() || !rec.BidAmount.IsZero() || !rec.RewardAmount.IsZero() || !rec.MinTTL.IsZero() {
		t.Errorf("record not cleared: %+v", rec)
	}
	if got := f.engine.StakedBidToken(); !got.IsZero() {
		t.Errorf("StakedBidToken = %s, want 0", got)
	}
	if len(f.engine.Active()) != 0 {
		t.Errorf("Active() = %d records, want 0", len(f.engine.Active()))
	}

	// more fees arrive, the same token can be auctioned again
	f.ledger.Mint(tok0, maker, u(42))
	mustOK(t, f.engine.Start(f.ctx, bob, tok0, u(1000), bob))
	rec = f.engine.Bids(tok0)
	if rec.Bidder != bob || !rec.RewardAmount.Eq(u(42)) {
		t.Errorf("reopened record = (%s, %s), want (bob, 42)", rec.Bidder.Hex(), rec.RewardAmount)
	}
	if want := f.clock.Now().Add(MaxTTL); !rec.MaxTTL.Equal(want) {
		t.Errorf("reopened MaxTTL = %v, want %v", rec.MaxTTL, want)
	}
	f.audit(t)
}

func TestSkimBidToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))

	got, err := f.engine.SkimBidToken(f.ctx)
	if err != nil {
		t.Fatalf("SkimBidToken: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("skimmed %s with no surplus, want 0", got)
	}
	if bal := f.balance(sushi, receiver); !bal.IsZero() {
		t.Errorf("receiver = %s, want 0", bal)
	}

	mustOK(t, f.ledger.Transfer(f.ctx, sushi, bob, maker, u(1000)))
	got, err = f.engine.SkimBidToken(f.ctx)
	if err != nil {
		t.Fatalf("SkimBidToken: %v", err)
	}
	if !got.Eq(u(1000)) {
		t.Errorf("skimmed %s, want 1000", got)
	}
	if bal := f.balance(sushi, receiver); !bal.Eq(u(1000)) {
		t.Errorf("receiver = %s, want 1000", bal)
	}
	if bal := f.balance(sushi, maker); !bal.Eq(u(1000)) {
		t.Errorf("engine holds %s, want the 1000 escrow", bal)
	}
	f.audit(t)
}

func TestAdminRequiresOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.engine.UpdateReceiver(f.ctx, bob, bob)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("UpdateReceiver by bob = %v, want ErrNotOwner", err)
	}
	if !strings.Contains(err.Error(), "Ownable: caller is not the owner") {
		t.Errorf("error text = %q", err.Error())
	}
	if err := f.engine.UpdateWhitelistToken(f.ctx, bob, tok1, true); !errors.Is(err, ErrNotOwner) {
		t.Errorf("UpdateWhitelistToken by bob = %v, want ErrNotOwner", err)
	}
	if err := f.engine.TransferOwnership(f.ctx, bob, bob); !errors.Is(err, ErrNotOwner) {
		t.Errorf("TransferOwnership by bob = %v, want ErrNotOwner", err)
	}

	mustOK(t, f.engine.UpdateReceiver(f.ctx, owner, bob))
	if got := f.engine.Receiver(); got != bob {
		t.Errorf("Receiver = %s, want bob", got.Hex())
	}
	if err := f.engine.UpdateReceiver(f.ctx, owner, common.Address{}); !errors.Is(err, ErrZeroReceiver) {
		t.Errorf("UpdateReceiver(zero) = %v, want ErrZeroReceiver", err)
	}

	mustOK(t, f.engine.TransferOwnership(f.ctx, owner, alice))
	if err := f.engine.UpdateReceiver(f.ctx, owner, owner); !errors.Is(err, ErrNotOwner) {
		t.Errorf("old owner UpdateReceiver = %v, want ErrNotOwner", err)
	}
	mustOK(t, f.engine.UpdateReceiver(f.ctx, alice, receiver))
}

func TestWhitelistRestrictsStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustOK(t, f.engine.UpdateWhitelistToken(f.ctx, owner, tok1, true))
	if err := f.engine.Start(f.ctx, alice, tok0, u(1000), alice); !errors.Is(err, ErrTokenNotWhitelisted) {
		t.Errorf("Start(tok0) = %v, want ErrTokenNotWhitelisted", err)
	}
	mustOK(t, f.engine.Start(f.ctx, alice, tok1, u(1000), alice))

	mustOK(t, f.engine.UpdateWhitelistToken(f.ctx, owner, tok1, false))
	mustOK(t, f.engine.Start(f.ctx, bob, tok0, u(1000), bob))
	f.audit(t)
}

// Interleaves auctions on two tokens and checks the staked counter against
// the active records after every call.
func TestEscrowConservation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	steps := []func() error{
		func() error { return f.engine.Start(f.ctx, alice, tok0, u(1000), alice) },
		func() error { return f.engine.Start(f.ctx, bob, tok1, u(5000), bob) },
		func() error { return f.engine.PlaceBid(f.ctx, bob, tok0, u(1500), bob) },
		func() error { return f.engine.PlaceBid(f.ctx, carol, tok1, u(9000), carol) }, // fails, no allowance
		func() error { return f.engine.PlaceBid(f.ctx, alice, tok1, u(5005), alice) },
		func() error { f.clock.Advance(MinTTL); return f.engine.End(f.ctx, tok0) },
		func() error { _, err := f.engine.SkimBidToken(f.ctx); return err },
		func() error { return f.engine.End(f.ctx, tok1) },
	}
	for i, step := range steps {
		_ = step()
		sum := new(uint256.Int)
		for _, rec := range f.engine.Active() {
			sum.Add(sum, rec.BidAmount)
		}
		if staked := f.engine.StakedBidToken(); !staked.Eq(sum) {
			t.Fatalf("step %d: staked %s != sum of active bids %s", i, staked, sum)
		}
		f.audit(t)
	}
	if len(f.engine.Active()) != 0 {
		t.Errorf("Active() = %d records after both ended, want 0", len(f.engine.Active()))
	}
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))
	mustOK(t, f.engine.PlaceBid(f.ctx, bob, tok0, u(2000), bob))
	mustOK(t, f.engine.UpdateWhitelistToken(f.ctx, owner, tok0, true))

	st := f.engine.Export()

	other, err := New(Params{Self: maker, Owner: alice, Receiver: alice, BidToken: sushi},
		Deps{Ledger: f.ledger, Clock: f.clock}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mustOK(t, err)
	mustOK(t, other.Import(st))

	if other.Owner() != owner || other.Receiver() != receiver {
		t.Errorf("owner/receiver = %s/%s", other.Owner().Hex(), other.Receiver().Hex())
	}
	got, want := other.Bids(tok0), f.engine.Bids(tok0)
	if got.Bidder != want.Bidder || !got.BidAmount.Eq(want.BidAmount) ||
		!got.RewardAmount.Eq(want.RewardAmount) || !got.MinTTL.Equal(want.MinTTL) || !got.MaxTTL.Equal(want.MaxTTL) {
		t.Errorf("Bids after import = %+v, want %+v", got, want)
	}
	if wl := other.Whitelisted(); len(wl) != 1 || wl[0] != tok0 {
		t.Errorf("Whitelisted = %v, want [tok0]", wl)
	}
	if err := other.Audit(); err != nil {
		t.Errorf("Audit after import: %v", err)
	}

	st.Staked = "1"
	mustOK(t, other.Import(st))
	if err := other.Audit(); !errors.Is(err, ErrStakedMismatch) {
		t.Errorf("Audit with bad counter = %v, want ErrStakedMismatch", err)
	}
}

func TestEventsEmitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// drain the unwind event from setup
	if evt := <-f.engine.Events(); evt.Type != EventUnwound {
		t.Fatalf("first event = %s, want %s", evt.Type, EventUnwound)
	}

	mustOK(t, f.engine.Start(f.ctx, alice, tok0, u(1000), alice))
	mustOK(t, f.engine.PlaceBid(f.ctx, bob, tok0, u(1001), bob))
	f.clock.Advance(MinTTL)
	mustOK(t, f.engine.End(f.ctx, tok0))

	want := []EventType{EventStarted, EventBid, EventEnded}
	for _, w := range want {
		evt := <-f.engine.Events()
		if evt.Type != w {
			t.Fatalf("event = %s, want %s", evt.Type, w)
		}
		if evt.Token != tok0 {
			t.Errorf("%s token = %s, want tok0", evt.Type, evt.Token.Hex())
		}
		if evt.Type == EventBid && (evt.PrevBidder != alice || !evt.Refund.Eq(u(1000))) {
			t.Errorf("bid event refund = (%s, %s), want (alice, 1000)", evt.PrevBidder.Hex(), evt.Refund)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		kind Kind
		code string
	}{
		{ErrLPTokenNotAllowed, KindEligibility, "LPTokenNotAllowed"},
		{ErrBidTokenNotAllowed, KindEligibility, "BidTokenNotAllowed"},
		{ErrInsufficientBidAmount, KindAmount, "InsufficientBidAmount"},
		{ErrBidAlreadyStarted, KindState, "BidAlreadyStarted"},
		{ErrBidNotStarted, KindState, "BidNotStarted"},
		{ErrBidFinished, KindState, "BidFinished"},
		{ErrBidNotFinished, KindState, "BidNotFinished"},
		{ErrNotOwner, KindAuthorization, "NotOwner"},
		{token.ErrInsufficientAllowance, KindUnknown, ""},
	}
	for _, tt := range tests {
		wrapped := errors.Join(errors.New("context"), tt.err)
		if got := Classify(wrapped); got != tt.kind {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.kind)
		}
		if got := Code(wrapped); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}
