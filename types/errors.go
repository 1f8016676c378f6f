package types

import (
	"errors"
	"fmt"
)

// SyntaxError reports a transaction that is malformed or mis-signed regardless of chain state.
// Syntax failures from untrusted signers are what the miner quarantines.
type SyntaxError struct {
	Reason string
}

func (e *SyntaxError) Error() string {
	return "syntax error: " + e.Reason
}

// RuntimeErrorKind classifies execution failures.
type RuntimeErrorKind uint8

const (
	RuntimeOther RuntimeErrorKind = iota
	RuntimeAssetSupplyOverflow
	RuntimeInvalidScript
	RuntimeInsufficientBalance
)

func (k RuntimeErrorKind) String() string {
	switch k {
	case RuntimeAssetSupplyOverflow:
		return "asset supply overflow"
	case RuntimeInvalidScript:
		return "invalid script"
	case RuntimeInsufficientBalance:
		return "insufficient balance"
	}
	return "runtime failure"
}

// RuntimeError reports a transaction that failed while being executed into a block.
type RuntimeError struct {
	Kind   RuntimeErrorKind
	Detail string
}

func (e *RuntimeError) Error() string {
	if e.Detail == "" {
		return "runtime error: " + e.Kind.String()
	}
	return fmt.Sprintf("runtime error: %s: %s", e.Kind, e.Detail)
}

// Is matches runtime errors of the same kind.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Kind == e.Kind
}

// HistoryErrorKind classifies errors caused by chain history.
type HistoryErrorKind uint8

const (
	HistoryTransactionAlreadyImported HistoryErrorKind = iota + 1
	HistoryTimelocked
)

// HistoryError reports a transaction that conflicts with the chain's history.
type HistoryError struct {
	Kind          HistoryErrorKind
	Timelock      *Timelock
	RemainingTime uint64
}

func (e *HistoryError) Error() string {
	switch e.Kind {
	case HistoryTransactionAlreadyImported:
		return "transaction already imported"
	case HistoryTimelocked:
		return fmt.Sprintf("timelocked: %+v, remaining %d", e.Timelock, e.RemainingTime)
	}
	return "history error"
}

// Is matches history errors of the same kind.
func (e *HistoryError) Is(target error) bool {
	t, ok := target.(*HistoryError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTransactionAlreadyImported = &HistoryError{Kind: HistoryTransactionAlreadyImported}
	ErrTimelocked                 = &HistoryError{Kind: HistoryTimelocked}

	ErrAssetSupplyOverflow = &RuntimeError{Kind: RuntimeAssetSupplyOverflow}
	ErrInvalidScript       = &RuntimeError{Kind: RuntimeInvalidScript}
)

// IsSyntaxError reports whether err is (or wraps) a SyntaxError.
func IsSyntaxError(err error) bool {
	var syntax *SyntaxError
	return errors.As(err, &syntax)
}
