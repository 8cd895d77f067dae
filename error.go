package match

import "errors"

var (
	// ErrInvalidPriceTick rejects prices that are out of bounds or not an
	// exact multiple of the market's current tick size.
	ErrInvalidPriceTick = errors.New("price is not a multiple of the market tick")

	// ErrMarketNotActive rejects order flow on suspended, resolved or
	// unknown markets.
	ErrMarketNotActive = errors.New("market is not accepting orders")

	// ErrOrderNotFound is returned when cancelling an unknown or already
	// terminal order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrArenaOverflow is returned when the market's order arena has no
	// free slots. Operator action (capacity raise or stale-order purge) is
	// required before the accept path recovers.
	ErrArenaOverflow = errors.New("order arena capacity exhausted")

	// ErrInvalidGranularity rejects depth requests whose granularity is
	// not a supported multiple of the current tick.
	ErrInvalidGranularity = errors.New("unsupported depth granularity")

	// ErrDuplicateRequest is returned when another submission with the
	// same idempotency key holds the reservation but has not persisted its
	// result yet. Retry once the first submission lands.
	ErrDuplicateRequest = errors.New("duplicate request still executing")

	ErrInvalidParam = errors.New("the param is invalid")
	ErrTimeout      = errors.New("timeout")
	ErrShutdown     = errors.New("book is shutting down")
)
