package reconciler

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/testutil"
)

// =============================================================================
// Test helpers
// =============================================================================

const (
	tokenA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokenB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	tokenC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func newWallet(t *testing.T) *entity.Wallet {
	t.Helper()
	w, err := entity.NewWallet("ETH", "0x1111111111111111111111111111111111111111", "main")
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func newReconciler(t *testing.T, store *memory.Store, zeroConfirmations int) *Service {
	t.Helper()
	svc, err := NewService(Config{ZeroConfirmations: zeroConfirmations, Logger: testutil.DiscardLogger()}, store, store, store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func entry(addr string, raw int64, decimals int32) entity.SnapshotEntry {
	return entity.SnapshotEntry{
		TokenAddress: addr,
		Raw:          big.NewInt(raw),
		Metadata:     entity.TokenMetadata{Address: addr, Decimals: decimals},
	}
}

func snapshot(w *entity.Wallet, native *int64, tokens ...entity.SnapshotEntry) *entity.Snapshot {
	s := &entity.Snapshot{
		WalletID:       w.ID,
		ChainCode:      w.ChainCode,
		Tokens:         tokens,
		TokensComplete: true,
		TakenAt:        time.Now().UTC(),
	}
	if native != nil {
		e := entry(entity.NativeAddress, *native, 0)
		s.Native = &e
		s.NativeObserved = true
	}
	return s
}

func seed(store *memory.Store, w *entity.Wallet, addr, raw string) {
	store.SeedBalance(&entity.WalletBalance{
		WalletID:     w.ID,
		TokenAddress: addr,
		RawBalance:   raw,
		Balance:      decimal.RequireFromString(raw),
		IsVisible:    true,
		CreatedAt:    time.Now().UTC(),
	})
}

func rowsByAddr(t *testing.T, store *memory.Store, w *entity.Wallet) map[string]*entity.WalletBalance {
	t.Helper()
	rows, err := store.ListBalances(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("ListBalances: %v", err)
	}
	out := make(map[string]*entity.WalletBalance, len(rows))
	for _, r := range rows {
		if _, dup := out[r.TokenAddress]; dup {
			t.Fatalf("duplicate row for %q", r.TokenAddress)
		}
		out[r.TokenAddress] = r
	}
	return out
}

func ptr(v int64) *int64 { return &v }

// =============================================================================
// Constructor
// =============================================================================

func TestNewService_Validation(t *testing.T) {
	store := memory.NewStore()
	if _, err := NewService(Config{}, nil, store, store); err == nil {
		t.Error("expected error for nil tx manager")
	}
	if _, err := NewService(Config{}, store, nil, store); err == nil {
		t.Error("expected error for nil balance repository")
	}
	if _, err := NewService(Config{}, store, store, nil); err == nil {
		t.Error("expected error for nil token repository")
	}
	if _, err := NewService(Config{ZeroConfirmations: -1}, store, store, store); err == nil {
		t.Error("expected error for negative zero confirmations")
	}
}

func TestReconcile_RequiresInput(t *testing.T) {
	svc := newReconciler(t, memory.NewStore(), 0)
	if _, err := svc.Reconcile(context.Background(), Input{}); err == nil {
		t.Error("expected error for empty input")
	}
}

// =============================================================================
// Upsert and zero-regression guard
// =============================================================================

func TestReconcile_InsertsNewRows(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)

	res, err := svc.Reconcile(context.Background(), Input{
		Wallet:   w,
		Snapshot: snapshot(w, ptr(15), entry(tokenA, 4_000_000, 6)),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.Upserted != 2 {
		t.Errorf("Upserted = %d, want 2", res.Stats.Upserted)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Rows))
	}

	rows := rowsByAddr(t, store, w)
	a := rows[tokenA]
	if a == nil || a.RawBalance != "4000000" || !a.Balance.Equal(decimal.NewFromInt(4)) {
		t.Errorf("token row = %+v, want raw 4000000 balance 4", a)
	}
	if !a.IsVisible {
		t.Error("new rows should be visible")
	}
	if rows[entity.NativeAddress].RawBalance != "15" {
		t.Errorf("native raw = %s, want 15", rows[entity.NativeAddress].RawBalance)
	}
}

func TestReconcile_ZeroRegressionGuard(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx, Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 100, 0))}); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	res, err := svc.Reconcile(ctx, Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 0, 0))})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.ZeroSuppressed != 1 {
		t.Errorf("ZeroSuppressed = %d, want 1", res.Stats.ZeroSuppressed)
	}
	if got := rowsByAddr(t, store, w)[tokenA].RawBalance; got != "100" {
		t.Errorf("after zero reading raw = %s, want 100", got)
	}

	if _, err := svc.Reconcile(ctx, Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 50, 0))}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	row := rowsByAddr(t, store, w)[tokenA]
	if row.RawBalance != "50" {
		t.Errorf("after 50 reading raw = %s, want 50", row.RawBalance)
	}
	if row.ZeroStreak != 0 {
		t.Errorf("ZeroStreak = %d, want reset to 0", row.ZeroStreak)
	}
}

func TestReconcile_ZeroAcceptedAfterConfirmations(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 3)
	w := newWallet(t)
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx, Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 100, 0))}); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if _, err := svc.Reconcile(ctx, Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 0, 0))}); err != nil {
			t.Fatalf("Reconcile %d: %v", i, err)
		}
		row := rowsByAddr(t, store, w)[tokenA]
		if row.RawBalance != "100" || row.ZeroStreak != i {
			t.Fatalf("after %d zeros raw=%s streak=%d, want 100 and %d", i, row.RawBalance, row.ZeroStreak, i)
		}
	}

	res, err := svc.Reconcile(ctx, Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 0, 0))})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.ZeroAccepted != 1 {
		t.Errorf("ZeroAccepted = %d, want 1", res.Stats.ZeroAccepted)
	}
	row := rowsByAddr(t, store, w)[tokenA]
	if row.RawBalance != "0" || row.ZeroStreak != 0 {
		t.Errorf("third zero: raw=%s streak=%d, want 0 and 0", row.RawBalance, row.ZeroStreak)
	}
}

func TestReconcile_PreservesVisibility(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	store.SeedBalance(&entity.WalletBalance{WalletID: w.ID, TokenAddress: tokenA, RawBalance: "1", IsVisible: false})

	if _, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 7, 0))}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	row := rowsByAddr(t, store, w)[tokenA]
	if row.IsVisible {
		t.Error("hidden row became visible")
	}
	if row.RawBalance != "7" {
		t.Errorf("raw = %s, want 7", row.RawBalance)
	}
}

func TestReconcile_UnknownDecimalsFormatAsZero(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)

	if _, err := svc.Reconcile(context.Background(), Input{
		Wallet:   w,
		Snapshot: snapshot(w, nil, entry(tokenA, 123, entity.UnknownDecimals)),
	}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	row := rowsByAddr(t, store, w)[tokenA]
	if row.RawBalance != "123" || !row.Balance.IsZero() {
		t.Errorf("row = raw %s balance %s, want raw 123 balance 0", row.RawBalance, row.Balance)
	}
}

// =============================================================================
// Prune
// =============================================================================

func TestReconcile_PrunesMissingTokens(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	seed(store, w, entity.NativeAddress, "10")
	seed(store, w, tokenA, "1")
	seed(store, w, tokenB, "2")

	res, err := svc.Reconcile(context.Background(), Input{
		Wallet:   w,
		Snapshot: snapshot(w, ptr(10), entry(tokenA, 1, 0)),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", res.Stats.Pruned)
	}
	rows := rowsByAddr(t, store, w)
	if len(rows) != 2 || rows[tokenB] != nil {
		t.Errorf("rows = %v, want native and tokenA only", keys(rows))
	}
}

func TestReconcile_NativeNeverPruned(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	seed(store, w, entity.NativeAddress, "10")
	seed(store, w, tokenA, "1")

	// Native lookup failed: no native entry in the snapshot.
	if _, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snapshot(w, nil, entry(tokenA, 1, 0))}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	rows := rowsByAddr(t, store, w)
	if rows[entity.NativeAddress] == nil || rows[entity.NativeAddress].RawBalance != "10" {
		t.Errorf("native row = %+v, want untouched 10", rows[entity.NativeAddress])
	}
}

func TestReconcile_IncompleteSnapshotSkipsPrune(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	seed(store, w, tokenA, "1")
	seed(store, w, tokenB, "2")

	snap := snapshot(w, ptr(3))
	snap.TokensComplete = false
	res, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snap})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.Pruned != 0 {
		t.Errorf("Pruned = %d, want 0", res.Stats.Pruned)
	}
	if len(rowsByAddr(t, store, w)) != 3 {
		t.Errorf("rows = %v, want native plus both tokens", keys(rowsByAddr(t, store, w)))
	}
}

// =============================================================================
// Dedupe
// =============================================================================

func TestReconcile_MergesNativeSentinelsPreferringNonzero(t *testing.T) {
	tests := []struct {
		name     string
		seedRows [][2]string
		wantRaw  string
	}{
		{"canonical zero, alternate nonzero", [][2]string{{"", "0"}, {"coin", "42"}}, "42"},
		{"canonical nonzero, alternate zero", [][2]string{{"", "42"}, {"native", "0"}}, "42"},
		{"both nonzero keeps canonical", [][2]string{{"native", "7"}, {"", "42"}}, "42"},
		{"alternate only is renamed", [][2]string{{"coin", "9"}}, "9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			svc := newReconciler(t, store, 0)
			w := newWallet(t)
			for _, r := range tt.seedRows {
				seed(store, w, r[0], r[1])
			}

			// Native observed as zero, so the guard keeps the merged value.
			res, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snapshot(w, ptr(0))})
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if res.Stats.SentinelsMerged == 0 {
				t.Error("expected SentinelsMerged > 0")
			}
			rows := rowsByAddr(t, store, w)
			if len(rows) != 1 {
				t.Fatalf("rows = %v, want a single native row", keys(rows))
			}
			if got := rows[entity.NativeAddress]; got == nil || got.RawBalance != tt.wantRaw {
				t.Errorf("native row = %+v, want raw %s", got, tt.wantRaw)
			}
		})
	}
}

func TestReconcile_RemovesDuplicateTokenRowsKeepingFirst(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	upper := "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	seed(store, w, upper, "5")
	seed(store, w, tokenA, "6")

	snap := snapshot(w, nil)
	snap.TokensComplete = false
	res, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snap, Canonical: strings.ToLower})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, want 1", res.Stats.DuplicatesRemoved)
	}
	rows := rowsByAddr(t, store, w)
	if len(rows) != 1 || rows[tokenA] == nil {
		t.Fatalf("rows = %v, want only the canonical address", keys(rows))
	}
	if rows[tokenA].RawBalance != "5" {
		t.Errorf("kept raw = %s, want the first row's 5", rows[tokenA].RawBalance)
	}
}

// =============================================================================
// Tokens and atomicity
// =============================================================================

func TestReconcile_UpsertsTokenMetadata(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	tok, err := entity.NewToken("ETH", tokenA, "USDC", "USD Coin", 6)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	res, err := svc.Reconcile(context.Background(), Input{
		Wallet:   w,
		Snapshot: snapshot(w, nil, entry(tokenA, 1, 6)),
		Tokens:   []*entity.Token{tok},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Stats.TokensUpserted != 1 {
		t.Errorf("TokensUpserted = %d, want 1", res.Stats.TokensUpserted)
	}
	got, err := store.GetTokens(context.Background(), "ETH", []string{tokenA})
	if err != nil {
		t.Fatalf("GetTokens: %v", err)
	}
	if got[tokenA] == nil || got[tokenA].Symbol != "USDC" {
		t.Errorf("token = %+v, want USDC", got[tokenA])
	}
}

func TestReconcile_RollsBackOnFailure(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)
	seed(store, w, entity.NativeAddress, "10")
	seed(store, w, tokenA, "1")
	seed(store, w, tokenB, "2")
	store.FailOn("DeleteBalancesWithTX", errors.New("connection lost"))

	_, err := svc.Reconcile(context.Background(), Input{
		Wallet:   w,
		Snapshot: snapshot(w, ptr(20), entry(tokenA, 3, 0), entry(tokenC, 4, 0)),
	})
	if err == nil {
		t.Fatal("expected error")
	}

	rows := rowsByAddr(t, store, w)
	if len(rows) != 3 || rows[tokenC] != nil {
		t.Errorf("rows = %v, want original three", keys(rows))
	}
	if rows[entity.NativeAddress].RawBalance != "10" || rows[tokenA].RawBalance != "1" {
		t.Error("upserts were not rolled back")
	}
}

type conflictingTx struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *conflictingTx) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if fail {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return c.Store.WithTransaction(ctx, fn)
}

func TestReconcile_RetriesSerializationFailures(t *testing.T) {
	store := memory.NewStore()
	txm := &conflictingTx{Store: store, failures: 2}
	svc, err := NewService(Config{Logger: testutil.DiscardLogger()}, txm, store, store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	w := newWallet(t)

	if _, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snapshot(w, ptr(1))}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if txm.calls != 3 {
		t.Errorf("transaction attempts = %d, want 3", txm.calls)
	}
}

func TestReconcile_DoesNotRetryOtherErrors(t *testing.T) {
	store := memory.NewStore()
	store.FailOn("LockWalletWithTX", errors.New("boom"))
	txm := &conflictingTx{Store: store}
	svc, err := NewService(Config{Logger: testutil.DiscardLogger()}, txm, store, store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	w := newWallet(t)

	if _, err := svc.Reconcile(context.Background(), Input{Wallet: w, Snapshot: snapshot(w, ptr(1))}); err == nil {
		t.Fatal("expected error")
	}
	if txm.calls != 1 {
		t.Errorf("transaction attempts = %d, want 1", txm.calls)
	}
}

func TestReconcile_ConcurrentSyncsOfSameWallet(t *testing.T) {
	store := memory.NewStore()
	svc := newReconciler(t, store, 0)
	w := newWallet(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := svc.Reconcile(context.Background(), Input{
				Wallet:   w,
				Snapshot: snapshot(w, ptr(n), entry(tokenA, n, 0)),
			})
			if err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	rows := rowsByAddr(t, store, w)
	if len(rows) != 2 {
		t.Errorf("rows = %v, want native and tokenA", keys(rows))
	}
	if rows[entity.NativeAddress].RawBalance != rows[tokenA].RawBalance {
		t.Errorf("native %s and token %s come from different syncs",
			rows[entity.NativeAddress].RawBalance, rows[tokenA].RawBalance)
	}
}

func keys(m map[string]*entity.WalletBalance) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
