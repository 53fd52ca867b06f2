package entity

import (
	"context"
	"errors"

	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

var (
	// ErrUnsupportedChain is returned when no adapter exists for a chain code.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrInvalidAddress is returned for malformed wallet or token addresses.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnknownTokenStandard is returned when a contract does not behave like a fungible token.
	ErrUnknownTokenStandard = errors.New("unknown token standard")

	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPartialData marks a result assembled with some units missing.
	ErrPartialData = errors.New("partial data")

	// ErrAllUnitsFailed is returned when every ledger or batch of an operation failed.
	ErrAllUnitsFailed = errors.New("all units failed")
)

// ErrorKind is the coarse classification callers use to decide between
// retrying, degrading and surfacing.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindPermanent
	KindPartialData
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindPartialData:
		return "partial"
	default:
		return "none"
	}
}

// ClassifyError maps an error onto the engine's error taxonomy.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnsupportedChain),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrUnknownTokenStandard),
		errors.Is(err, ErrNotFound),
		errors.Is(err, context.Canceled),
		retry.IsPermanent(err):
		return KindPermanent
	case errors.Is(err, ErrPartialData):
		return KindPartialData
	default:
		return KindTransient
	}
}

// IsInputError reports whether err is caused by the caller's input and must
// be surfaced instead of degraded.
func IsInputError(err error) bool {
	return errors.Is(err, ErrUnsupportedChain) || errors.Is(err, ErrInvalidAddress)
}
