package auction

import (
	"errors"

	"maker-auction/internal/amm"
	"maker-auction/internal/guard"
)

var (
	ErrLPTokenNotAllowed   = guard.ErrLPTokenNotAllowed
	ErrBidTokenNotAllowed  = guard.ErrBidTokenNotAllowed
	ErrTokenNotWhitelisted = guard.ErrTokenNotWhitelisted

	ErrInsufficientBidAmount = errors.New("InsufficientBidAmount")
	ErrNoRewardBalance       = errors.New("NoRewardBalance")

	ErrBidAlreadyStarted = errors.New("BidAlreadyStarted")
	ErrBidNotStarted     = errors.New("BidNotStarted")
	ErrBidFinished       = errors.New("BidFinished")
	ErrBidNotFinished    = errors.New("BidNotFinished")

	ErrNotOwner     = errors.New("Ownable: caller is not the owner")
	ErrZeroOwner    = errors.New("Ownable: new owner is the zero address")
	ErrZeroReceiver = errors.New("receiver is the zero address")

	ErrReentrantCall  = errors.New("ReentrancyGuard: reentrant call")
	ErrStakedMismatch = errors.New("staked counter does not match active bids")
)

// Kind groups engine errors by what the caller has to change before retrying.
type Kind int

const (
	KindUnknown       Kind = iota
	KindEligibility        // token can never be auctioned as configured
	KindAmount             // resubmit with a larger amount
	KindState              // wait for the record to change state
	KindAuthorization      // only the owner may do this
	KindInvalid            // malformed argument
)

func (k Kind) String() string {
	switch k {
	case KindEligibility:
		return "eligibility"
	case KindAmount:
		return "amount"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

var errorTable = []struct {
	err  error
	kind Kind
	code string
}{
	{ErrLPTokenNotAllowed, KindEligibility, "LPTokenNotAllowed"},
	{ErrBidTokenNotAllowed, KindEligibility, "BidTokenNotAllowed"},
	{ErrTokenNotWhitelisted, KindEligibility, "TokenNotWhitelisted"},
	{ErrInsufficientBidAmount, KindAmount, "InsufficientBidAmount"},
	{ErrNoRewardBalance, KindState, "NoRewardBalance"},
	{ErrBidAlreadyStarted, KindState, "BidAlreadyStarted"},
	{ErrBidNotStarted, KindState, "BidNotStarted"},
	{ErrBidFinished, KindState, "BidFinished"},
	{ErrBidNotFinished, KindState, "BidNotFinished"},
	{ErrReentrantCall, KindState, "ReentrantCall"},
	{amm.ErrNoLiquidity, KindState, "NoLiquidity"},
	{ErrNotOwner, KindAuthorization, "NotOwner"},
	{ErrZeroOwner, KindInvalid, "ZeroOwner"},
	{ErrZeroReceiver, KindInvalid, "ZeroReceiver"},
	{amm.ErrIdenticalAddresses, KindInvalid, "IdenticalAddresses"},
	{amm.ErrZeroAddress, KindInvalid, "ZeroAddress"},
}

// Classify returns the Kind of err, or KindUnknown for infrastructure
// failures such as a rejected token transfer.
func Classify(err error) Kind {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return KindUnknown
}

// Code returns the symbolic name of a known engine error, or "" otherwise.
func Code(err error) string {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ""
}
