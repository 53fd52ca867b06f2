// store.go provides in-memory implementations of the wallet, balance and
// token repositories plus a TxManager with real rollback.
//
// WithTransaction serialises transactions and snapshots the whole store
// before running fn; on error or panic the snapshot is restored, so tests
// can assert all-or-nothing behaviour without a database. The pgx.Tx handed
// to fn is nil and ignored by the WithTX methods.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var (
	_ outbound.BalanceRepository = (*Store)(nil)
	_ outbound.TokenRepository   = (*Store)(nil)
	_ outbound.WalletRepository  = (*Store)(nil)
	_ outbound.TxManager         = (*Store)(nil)
)

// Store holds wallets, balance rows and tokens in memory.
type Store struct {
	txMu sync.Mutex // one transaction at a time, like a per-store advisory lock

	mu       sync.RWMutex
	wallets  map[uuid.UUID]*entity.Wallet
	balances map[uuid.UUID][]*entity.WalletBalance // insertion ordered
	tokens   map[string]*entity.Token              // chain|address

	failOn map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		wallets:  make(map[uuid.UUID]*entity.Wallet),
		balances: make(map[uuid.UUID][]*entity.WalletBalance),
		tokens:   make(map[string]*entity.Token),
		failOn:   make(map[string]error),
	}
}

func tokenKey(chainCode, address string) string {
	return chainCode + "|" + address
}

// FailOn makes the named operation return err until cleared with a nil err (for testing).
// Names are the method names, e.g. "DeleteBalancesWithTX".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

func (s *Store) injected(op string) error {
	if err, ok := s.failOn[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// =============================================================================
// TxManager
// =============================================================================

type storeState struct {
	wallets  map[uuid.UUID]*entity.Wallet
	balances map[uuid.UUID][]*entity.WalletBalance
	tokens   map[string]*entity.Token
}

func (s *Store) snapshot() storeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := storeState{
		wallets:  make(map[uuid.UUID]*entity.Wallet, len(s.wallets)),
		balances: make(map[uuid.UUID][]*entity.WalletBalance, len(s.balances)),
		tokens:   make(map[string]*entity.Token, len(s.tokens)),
	}
	for k, w := range s.wallets {
		c := *w
		st.wallets[k] = &c
	}
	for k, rows := range s.balances {
		cp := make([]*entity.WalletBalance, len(rows))
		for i, r := range rows {
			c := *r
			cp[i] = &c
		}
		st.balances[k] = cp
	}
	for k, t := range s.tokens {
		c := *t
		st.tokens[k] = &c
	}
	return st
}

func (s *Store) restore(st storeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = st.wallets
	s.balances = st.balances
	s.tokens = st.tokens
}

// WithTransaction runs fn atomically with respect to other transactions.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	before := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(before)
			panic(p)
		}
		if err != nil {
			s.restore(before)
		}
	}()

	return fn(nil)
}

// =============================================================================
// WalletRepository
// =============================================================================

func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*entity.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, entity.ErrNotFound)
	}
	c := *w
	return &c, nil
}

func (s *Store) GetWalletByAddress(ctx context.Context, chainCode, address string) (*entity.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.ChainCode == chainCode && strings.EqualFold(w.Address, address) {
			c := *w
			return &c, nil
		}
	}
	return nil, fmt.Errorf("wallet %s/%s: %w", chainCode, address, entity.ErrNotFound)
}

func (s *Store) ListWallets(ctx context.Context, chainCodes []string) ([]*entity.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Wallet
	for _, w := range s.wallets {
		if len(chainCodes) > 0 && !slices.Contains(chainCodes, w.ChainCode) {
			continue
		}
		c := *w
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *entity.Wallet) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *Store) UpsertWallet(ctx context.Context, wallet *entity.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpsertWallet"); err != nil {
		return err
	}
	c := *wallet
	s.wallets[wallet.ID] = &c
	return nil
}

// =============================================================================
// BalanceRepository
// =============================================================================

func (s *Store) ListBalances(ctx context.Context, walletID uuid.UUID) ([]*entity.WalletBalance, error) {
	return s.ListBalancesWithTX(ctx, nil, walletID)
}

func (s *Store) LockWalletWithTX(ctx context.Context, _ pgx.Tx, walletID uuid.UUID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.injected("LockWalletWithTX")
}

func (s *Store) ListBalancesWithTX(ctx context.Context, _ pgx.Tx, walletID uuid.UUID) ([]*entity.WalletBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("ListBalancesWithTX"); err != nil {
		return nil, err
	}
	rows := s.balances[walletID]
	out := make([]*entity.WalletBalance, len(rows))
	for i, r := range rows {
		c := *r
		out[i] = &c
	}
	return out, nil
}

func (s *Store) UpsertBalanceWithTX(ctx context.Context, _ pgx.Tx, balance *entity.WalletBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpsertBalanceWithTX"); err != nil {
		return err
	}

	c := *balance
	now := time.Now().UTC()
	c.UpdatedAt = now
	rows := s.balances[balance.WalletID]
	for i, r := range rows {
		if r.TokenAddress == balance.TokenAddress {
			c.CreatedAt = r.CreatedAt
			rows[i] = &c
			return nil
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	s.balances[balance.WalletID] = append(rows, &c)
	return nil
}

func (s *Store) RenameTokenAddressWithTX(ctx context.Context, _ pgx.Tx, walletID uuid.UUID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("RenameTokenAddressWithTX"); err != nil {
		return err
	}
	rows := s.balances[walletID]
	for _, r := range rows {
		if r.TokenAddress == to {
			return fmt.Errorf("rename %q -> %q: target row already exists", from, to)
		}
	}
	for _, r := range rows {
		if r.TokenAddress == from {
			r.TokenAddress = to
			return nil
		}
	}
	return fmt.Errorf("rename %q: %w", from, entity.ErrNotFound)
}

func (s *Store) DeleteBalancesWithTX(ctx context.Context, _ pgx.Tx, walletID uuid.UUID, tokenAddresses []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("DeleteBalancesWithTX"); err != nil {
		return 0, err
	}
	rows := s.balances[walletID]
	kept := rows[:0]
	var deleted int64
	for _, r := range rows {
		if slices.Contains(tokenAddresses, r.TokenAddress) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.balances[walletID] = kept
	return deleted, nil
}

// SeedBalance inserts a row directly, bypassing upsert semantics (for testing).
func (s *Store) SeedBalance(b *entity.WalletBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *b
	s.balances[b.WalletID] = append(s.balances[b.WalletID], &c)
}

// =============================================================================
// TokenRepository
// =============================================================================

func (s *Store) GetTokens(ctx context.Context, chainCode string, addresses []string) (map[string]*entity.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.injected("GetTokens"); err != nil {
		return nil, err
	}
	out := make(map[string]*entity.Token, len(addresses))
	for _, a := range addresses {
		if t, ok := s.tokens[tokenKey(chainCode, a)]; ok {
			c := *t
			out[a] = &c
		}
	}
	return out, nil
}

func (s *Store) ListTokens(ctx context.Context, chainCode string) ([]*entity.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Token
	for _, t := range s.tokens {
		if t.ChainCode == chainCode {
			c := *t
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *entity.Token) int { return strings.Compare(a.Address, b.Address) })
	return out, nil
}

func (s *Store) UpsertTokensWithTX(ctx context.Context, _ pgx.Tx, tokens []*entity.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpsertTokensWithTX"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range tokens {
		k := tokenKey(t.ChainCode, t.Address)
		c := *t
		if existing, ok := s.tokens[k]; ok {
			c.PriceUSD = existing.PriceUSD
			c.Change24h = existing.Change24h
			c.PriceUpdatedAt = existing.PriceUpdatedAt
			c.CreatedAt = existing.CreatedAt
		}
		c.UpdatedAt = now
		s.tokens[k] = &c
	}
	return nil
}

func (s *Store) UpdatePrices(ctx context.Context, chainCode string, prices map[string]entity.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdatePrices"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for addr, p := range prices {
		t, ok := s.tokens[tokenKey(chainCode, addr)]
		if !ok {
			continue
		}
		t.PriceUSD = p.USD
		t.Change24h = p.Change24h
		t.PriceUpdatedAt = &now
	}
	return nil
}
