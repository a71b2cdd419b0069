package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) Owner() common.Address {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.owner
}

func (e *Engine) Receiver() common.Address {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.receiver
}

// Whitelisted returns the enabled whitelist entries. An empty list means
// every eligible token may be auctioned.
func (e *Engine) Whitelisted() []common.Address {
	return e.rules.Whitelisted()
}

// IsAuctionable reports why tok cannot be auctioned, or nil.
func (e *Engine) IsAuctionable(tok common.Address) error {
	return e.rules.IsAuctionable(tok)
}

// admin takes the operation lock and checks caller against the owner. The
// caller must release opMu when err is nil.
func (e *Engine) admin(ctx context.Context, caller common.Address) error {
	if _, err := e.enter(ctx); err != nil {
		return err
	}
	e.stateMu.RLock()
	owner := e.owner
	e.stateMu.RUnlock()
	if caller != owner {
		e.opMu.Unlock()
		return ErrNotOwner
	}
	return nil
}

// UpdateReceiver changes where auction proceeds and skimmed surplus go.
func (e *Engine) UpdateReceiver(ctx context.Context, caller, receiver common.Address) error {
	if err := e.admin(ctx, caller); err != nil {
		return fmt.Errorf("update receiver: %w", err)
	}
	defer e.opMu.Unlock()
	if receiver == (common.Address{}) {
		return fmt.Errorf("update receiver: %w", ErrZeroReceiver)
	}

	e.stateMu.Lock()
	old := e.receiver
	e.receiver = receiver
	e.stateMu.Unlock()

	e.logger.Info("receiver updated", "old", old.Hex(), "new", receiver.Hex())
	e.emit(Event{Type: EventReceiver, At: e.clock.Now(), Receiver: receiver})
	return nil
}

// UpdateWhitelistToken enables or disables tok on the whitelist.
func (e *Engine) UpdateWhitelistToken(ctx context.Context, caller, tok common.Address, enabled bool) error {
	if err := e.admin(ctx, caller); err != nil {
		return fmt.Errorf("update whitelist: %w", err)
	}
	defer e.opMu.Unlock()

	e.rules.SetWhitelisted(tok, enabled)
	e.logger.Info("whitelist updated", "token", tok.Hex(), "enabled", enabled)
	e.emit(Event{Type: EventListed, At: e.clock.Now(), Token: tok, Whitelisted: enabled})
	return nil
}

// TransferOwnership hands the admin role to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if err := e.admin(ctx, caller); err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	defer e.opMu.Unlock()
	if newOwner == (common.Address{}) {
		return fmt.Errorf("transfer ownership: %w", ErrZeroOwner)
	}

	e.stateMu.Lock()
	e.owner = newOwner
	e.stateMu.Unlock()
	e.logger.Info("ownership transferred", "from", caller.Hex(), "to", newOwner.Hex())
	return nil
}
