package models

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. Components wrap these with
// fmt.Errorf("...: %w", Err...) to attach context; callers compare with
// errors.Is.
var (
	// Validation
	ErrInvalidPrice  = errors.New("invalid price")
	ErrInvalidSize   = errors.New("invalid size")
	ErrUnknownMarket = errors.New("unknown market")
	ErrUnknownUser   = errors.New("unknown user")
	ErrUnknownOrder  = errors.New("unknown order")

	// Risk
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverLimit         = errors.New("over position limit")
	ErrNotAccredited     = errors.New("user not permitted for this market")

	// Liquidity
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// Lifecycle
	ErrMarketNotTradable  = errors.New("market not tradable")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrInvalidTransition  = errors.New("invalid market state transition")

	// Conflict
	ErrAlreadyTerminal = errors.New("order already in terminal state")

	// Dependency
	ErrCircuitOpen = errors.New("circuit open")
	ErrDependencyTimeout = errors.New("dependency call timed out")

	// Invariant
	ErrInvariantViolation = errors.New("invariant violation")

	// Cancelled / control
	ErrMarketBusy = errors.New("market writer busy")
)
