package domain

import "errors"

var (
	// ErrInfeasible is the expected no-opportunity outcome of a solve: no
	// cycle in the snapshot yields positive profit after fees. Quiet.
	ErrInfeasible = errors.New("no profitable cycle")
	// ErrNumerical marks a solve the optimizer could not finish: bad pool
	// data or non-convergence. The route is discarded and the tick goes on.
	ErrNumerical = errors.New("optimizer did not converge")

	ErrQueueFull      = errors.New("opportunity queue full")
	ErrQueueClosed    = errors.New("opportunity queue closed")
	ErrEmptySnapshot  = errors.New("empty pool snapshot")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrRebalanceBusy  = errors.New("rebalance already running")
	ErrNoExplorer     = errors.New("no explorer wallet available")
	ErrKeysMissing    = errors.New("key material missing")
	ErrNotConfirmed   = errors.New("transaction not confirmed")
	ErrUnknownAccount = errors.New("account not watched")
)
