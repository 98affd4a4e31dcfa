package engine

import "errors"

// Every failed invariant aborts the whole invocation; these name the
// invariant that failed.
var (
	ErrInsufficientFee    = errors.New("realized fee below required threshold")
	ErrNoProfit           = errors.New("arbitrage closed without profit")
	ErrTimeBudgetExceeded = errors.New("execution time budget exceeded")
	ErrPathNotClosed      = errors.New("swap path does not return to start token")
	ErrTokenMismatch      = errors.New("borrowed token does not match operation")
	ErrModeDisabled       = errors.New("operation mode is disabled")
	ErrBatchBounds        = errors.New("batch index/size out of bounds")
	ErrUnknownAdapter     = errors.New("no adapter registered for pool type")
)
