package entity

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a tracked address on one chain.
type Wallet struct {
	ID        uuid.UUID
	ChainCode string
	Address   string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewWallet creates a new Wallet entity with a fresh id.
func NewWallet(chainCode, address, name string) (*Wallet, error) {
	w := &Wallet{
		ID:        uuid.New(),
		ChainCode: chainCode,
		Address:   strings.TrimSpace(address),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) validate() error {
	if w.ChainCode == "" {
		return fmt.Errorf("chainCode must not be empty")
	}
	if w.Address == "" {
		return fmt.Errorf("%w: address must not be empty", ErrInvalidAddress)
	}
	return nil
}

// WalletBalance is the persisted row for one (wallet, token) pair.
type WalletBalance struct {
	WalletID     uuid.UUID
	TokenAddress string
	RawBalance   string // non-negative base-unit integer
	Balance      decimal.Decimal
	IsVisible    bool
	ZeroStreak   int // consecutive syncs that observed zero while a nonzero was stored
	LastSyncedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsZero reports whether the stored raw balance is zero or empty.
func (b *WalletBalance) IsZero() bool {
	raw, err := ParseRaw(b.RawBalance)
	return err != nil || raw.Sign() == 0
}

// IsNative reports whether the row holds the native asset in any spelling.
func (b *WalletBalance) IsNative() bool {
	return IsNativeAddress(b.TokenAddress)
}

// TokenBalance is a non-native holding as reported by a chain adapter.
type TokenBalance struct {
	Address  string
	Raw      *big.Int
	Decimals int32 // UnknownDecimals when the adapter did not report them
	Symbol   string
	Name     string
	LogoURL  string
}

// LedgerBalance is the outcome of querying one ledger of a multi-ledger chain.
type LedgerBalance struct {
	Ledger int
	Raw    *big.Int
	Err    error
}

// SnapshotEntry is one observed holding in a sync snapshot.
type SnapshotEntry struct {
	TokenAddress string
	Raw          *big.Int
	Metadata     TokenMetadata
}

// Snapshot is everything one sync observed for a wallet.
//
// NativeObserved is false when every native lookup failed; the stored native
// row is then left untouched. TokensComplete is false when token discovery
// failed, in which case no token rows are pruned.
type Snapshot struct {
	WalletID       uuid.UUID
	ChainCode      string
	Native         *SnapshotEntry
	Tokens         []SnapshotEntry
	NativeObserved bool
	TokensComplete bool
	TakenAt        time.Time
}

// Entries returns the native entry (if observed) followed by the token entries.
func (s *Snapshot) Entries() []SnapshotEntry {
	out := make([]SnapshotEntry, 0, len(s.Tokens)+1)
	if s.NativeObserved && s.Native != nil {
		out = append(out, *s.Native)
	}
	return append(out, s.Tokens...)
}
