// Package service is the daemon's orchestrator.
//
// It wires together every subsystem:
//
//  1. token.Memory holds all balances, including LP shares.
//  2. amm.Factory simulates the pools whose protocol fee accrues to Self.
//  3. auction.Engine runs the auctions on top of both.
//  4. store persists engine, ledger and factory together after every event.
//  5. journal appends each event to sqlite (optional).
//  6. settler ends auctions whose window closed (optional).
//  7. api serves REST and the event stream (optional).
//
// State comes from the store if a snapshot exists, otherwise from the
// chain genesis in config.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"maker-auction/internal/amm"
	"maker-auction/internal/api"
	"maker-auction/internal/auction"
	"maker-auction/internal/auth"
	"maker-auction/internal/config"
	"maker-auction/internal/journal"
	"maker-auction/internal/settler"
	"maker-auction/internal/store"
	"maker-auction/internal/token"
)

// Service owns the lifecycle of all daemon goroutines.
type Service struct {
	cfg     config.Config
	ledger  *token.Memory
	factory *amm.Factory
	engine  *auction.Engine
	store   *store.Store
	journal *journal.Journal // nil when disabled
	keeper  *settler.Keeper  // nil when disabled
	api     *api.Server      // nil when disabled
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every component and restores or seeds state.
func New(cfg config.Config, logger *slog.Logger) (*Service, error) {
	owner := common.HexToAddress(cfg.Auction.Owner)
	if cfg.Auction.OwnerKey != "" {
		signer, err := auth.NewSigner(cfg.Auction.OwnerKey, cfg.API.ChainID)
		if err != nil {
			return nil, fmt.Errorf("owner key: %w", err)
		}
		owner = signer.Address()
	}

	codeHash := amm.DefaultPairCodeHash
	if cfg.Auction.PairCodeHash != "" {
		codeHash = common.HexToHash(cfg.Auction.PairCodeHash)
	}
	self := common.HexToAddress(cfg.Auction.Self)
	factoryAddr := common.HexToAddress(cfg.Auction.Factory)

	ledger := token.NewMemory()
	factory := amm.NewFactory(factoryAddr, codeHash, ledger)
	factory.SetFeeTo(self)

	engine, err := auction.New(auction.Params{
		Self:         self,
		Owner:        owner,
		Receiver:     common.HexToAddress(cfg.Auction.Receiver),
		BidToken:     common.HexToAddress(cfg.Auction.BidToken),
		Factory:      factoryAddr,
		PairCodeHash: codeHash,
	}, auction.Deps{
		Ledger: ledger,
		Pairs:  factory,
		Burner: factory,
	}, logger)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     cfg,
		ledger:  ledger,
		factory: factory,
		engine:  engine,
		store:   st,
		logger:  logger.With("component", "service"),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.restore(); err != nil {
		cancel()
		return nil, err
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			cancel()
			return nil, err
		}
		s.journal = j
	}
	if cfg.Settler.Enabled {
		s.keeper = settler.NewKeeper(cfg.Settler, engine, logger)
	}
	if cfg.API.Enabled {
		deps := api.Deps{
			Engine:   engine,
			Balances: ledger,
			Decimals: cfg.Auction.BidTokenDecimals,
		}
		// Leave History as a nil interface when the journal is off.
		if s.journal != nil {
			deps.History = s.journal
		}
		s.api = api.NewServer(cfg.API, deps, logger)
	}
	return s, nil
}

// restore loads the last snapshot, or applies genesis on a fresh data dir.
func (s *Service) restore() error {
	snap, err := s.store.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		if err := s.genesis(); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		s.persist()
		s.logger.Info("genesis applied",
			"balances", len(s.cfg.Chain.Balances),
			"pairs", len(s.cfg.Chain.Pairs),
		)
		return nil
	}

	if err := s.ledger.Import(snap.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if err := s.factory.Import(snap.Factory); err != nil {
		return fmt.Errorf("restore factory: %w", err)
	}
	if err := s.engine.Import(snap.Engine); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	if err := s.engine.Audit(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.logger.Info("state restored",
		"saved_at", snap.SavedAt,
		"active_auctions", len(snap.Engine.Records),
		"staked", snap.Engine.Staked,
	)
	return nil
}

func (s *Service) genesis() error {
	ctx := context.Background()
	chain := s.cfg.Chain

	for i, a := range chain.Balances {
		amount, err := token.ParseRaw(a.Amount)
		if err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		s.ledger.Mint(common.HexToAddress(a.Token), common.HexToAddress(a.Holder), amount)
	}
	for i, a := range chain.Approvals {
		amount, err := token.ParseRaw(a.Amount)
		if err != nil {
			return fmt.Errorf("approvals[%d]: %w", i, err)
		}
		if err := s.ledger.Approve(ctx, common.HexToAddress(a.Token), common.HexToAddress(a.Owner),
			common.HexToAddress(a.Spender), amount); err != nil {
			return fmt.Errorf("approvals[%d]: %w", i, err)
		}
	}
	for i, p := range chain.Pairs {
		if err := s.seedPair(ctx, p); err != nil {
			return fmt.Errorf("pairs[%d]: %w", i, err)
		}
	}
	for _, tok := range s.cfg.Auction.Whitelist {
		if err := s.engine.UpdateWhitelistToken(ctx, s.engine.Owner(), common.HexToAddress(tok), true); err != nil {
			return fmt.Errorf("whitelist %s: %w", tok, err)
		}
	}
	return nil
}

// seedPair creates the pair and deposits the provider's liquidity.
func (s *Service) seedPair(ctx context.Context, p config.PairSeed) error {
	tokenA, tokenB := common.HexToAddress(p.TokenA), common.HexToAddress(p.TokenB)
	amountA, err := token.ParseRaw(p.AmountA)
	if err != nil {
		return fmt.Errorf("amount_a: %w", err)
	}
	amountB, err := token.ParseRaw(p.AmountB)
	if err != nil {
		return fmt.Errorf("amount_b: %w", err)
	}
	provider := common.HexToAddress(p.Provider)

	addr, err := s.factory.CreatePair(tokenA, tokenB)
	if err != nil {
		return err
	}
	pair, err := s.factory.Pair(addr)
	if err != nil {
		return err
	}
	if err := s.ledger.Transfer(ctx, tokenA, provider, addr, amountA); err != nil {
		return fmt.Errorf("deposit %s: %w", tokenA.Hex(), err)
	}
	if err := s.ledger.Transfer(ctx, tokenB, provider, addr, amountB); err != nil {
		return fmt.Errorf("deposit %s: %w", tokenB.Hex(), err)
	}
	shares, err := pair.Mint(ctx, provider)
	if err != nil {
		return err
	}
	s.logger.Info("pair seeded", "pair", addr.Hex(), "provider", provider.Hex(), "shares", shares.Dec())
	return nil
}

// Start launches the event consumer, the settler and the API server.
func (s *Service) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumeEvents()
	}()

	if s.keeper != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.keeper.Run(s.ctx)
		}()
	}

	if s.api != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.api.Start(s.ctx); err != nil {
				s.logger.Error("api server failed", "error", err)
			}
		}()
	}
	return nil
}

// Stop shuts down the API first so no new calls arrive, then drains pending
// events, persists final state and closes resources.
func (s *Service) Stop() {
	s.logger.Info("shutting down...")

	if s.api != nil {
		if err := s.api.Stop(); err != nil {
			s.logger.Error("failed to stop api server", "error", err)
		}
	}
	s.cancel()
	s.wg.Wait()

	s.drainEvents()
	s.persist()

	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("failed to close journal", "error", err)
		}
	}
	s.store.Close()

	s.logger.Info("shutdown complete")
}

// Engine exposes the auction engine.
func (s *Service) Engine() *auction.Engine { return s.engine }

// Ledger exposes the token ledger.
func (s *Service) Ledger() *token.Memory { return s.ledger }

// Factory exposes the AMM factory.
func (s *Service) Factory() *amm.Factory { return s.factory }

// API returns the API server, or nil when disabled.
func (s *Service) API() *api.Server { return s.api }

func (s *Service) consumeEvents() {
	var settled <-chan settler.Settlement
	if s.keeper != nil {
		settled = s.keeper.Settled()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case evt := <-s.engine.Events():
			s.handleEvent(s.ctx, evt)
		case st := <-settled:
			status := s.keeper.Status()
			s.logger.Debug("keeper settled auction",
				"token", st.Token.Hex(),
				"winner", st.Winner.Hex(),
				"total_settled", status.Settled,
			)
		}
	}
}

// drainEvents handles whatever the engine emitted after the consumer stopped.
func (s *Service) drainEvents() {
	for {
		select {
		case evt := <-s.engine.Events():
			s.handleEvent(context.Background(), evt)
		default:
			return
		}
	}
}

// handleEvent journals evt, streams it and persists the resulting state.
func (s *Service) handleEvent(ctx context.Context, evt auction.Event) {
	var id string
	if s.journal != nil {
		var err error
		if id, err = s.journal.Append(ctx, evt); err != nil {
			s.logger.Error("failed to journal event", "type", evt.Type, "error", err)
		}
	}
	if s.api != nil {
		s.api.Publish(evt, id)
	}
	s.persist()
}

// persist saves a consistent snapshot. It runs between engine operations,
// which is also the only safe point to drop the ledger's undo journal.
func (s *Service) persist() {
	var snap store.Snapshot
	s.engine.Exclusive(func() {
		snap = store.Snapshot{
			SavedAt: s.engine.Now(),
			Engine:  s.engine.Export(),
			Ledger:  s.ledger.Export(),
			Factory: s.factory.Export(),
		}
		s.ledger.Compact()
	})
	if err := s.store.Save(snap); err != nil {
		s.logger.Error("failed to save snapshot", "error", err)
	}
}
