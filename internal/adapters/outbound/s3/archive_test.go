package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/testutil"
)

// mockS3 is an in-memory bucket implementing s3API.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	headErr error
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: map[string][]byte{}}
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return nil, m.putErr
	}
	key := aws.ToString(params.Key)
	if _, ok := m.objects[key]; ok && aws.ToString(params.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "exists"}
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headErr != nil {
		return nil, m.headErr
	}
	if _, ok := m.objects[aws.ToString(params.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k])))})
	}
	return out, nil
}

func newTestArchive(t *testing.T, client s3API) *Archive {
	t.Helper()
	a, err := newArchive(client, Config{Bucket: "snapshots", Prefix: "/balances/", Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("newArchive: %v", err)
	}
	return a
}

func testResult(walletID uuid.UUID, at time.Time) *entity.AggregateResult {
	return &entity.AggregateResult{
		WalletID:      walletID,
		ChainCode:     "ETH",
		Address:       "0xabc",
		NativeSymbol:  "ETH",
		NativeBalance: decimal.RequireFromString("1.5"),
		Holdings: []entity.Holding{
			{TokenAddress: "native", Symbol: "ETH", Decimals: 18, RawBalance: "1500000000000000000", IsNative: true, IsVisible: true},
		},
		TotalValueUSD: decimal.RequireFromString("4500"),
		SyncedAt:      at,
	}
}

// ---------------------------------------------------------------------------
// Constructor and keys
// ---------------------------------------------------------------------------

func TestNewArchive_Validation(t *testing.T) {
	if _, err := newArchive(nil, Config{Bucket: "b"}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := newArchive(newMockS3(), Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
	a, err := newArchive(newMockS3(), Config{Bucket: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if a.config.Prefix != "balance-snapshots" {
		t.Errorf("Prefix = %q", a.config.Prefix)
	}
}

func TestKey(t *testing.T) {
	a := newTestArchive(t, newMockS3())
	id := uuid.MustParse("7f9c24e5-2d0a-4a0e-9d43-2f4f1c1a9b10")
	at := time.Date(2025, 3, 1, 12, 30, 5, 123, time.FixedZone("CET", 3600))

	got := a.Key(testResult(id, at))
	want := "balances/ETH/7f9c24e5-2d0a-4a0e-9d43-2f4f1c1a9b10/20250301T113005.000000123Z.json.gz"
	if got != want {
		t.Errorf("Key = %s, want %s", got, want)
	}
	parsed, ok := parseKeyTime(got)
	if !ok || !parsed.Equal(at) {
		t.Errorf("parseKeyTime = %v, %v", parsed, ok)
	}
	if _, ok := parseKeyTime("balances/ETH/x/readme.txt"); ok {
		t.Error("non-snapshot key should not parse")
	}
}

// ---------------------------------------------------------------------------
// Archive
// ---------------------------------------------------------------------------

func TestArchive_RoundTrip(t *testing.T) {
	client := newMockS3()
	a := newTestArchive(t, client)
	id := uuid.New()
	res := testResult(id, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	if err := a.Archive(context.Background(), res); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	stored := client.objects[a.Key(res)]
	if len(stored) < 2 || stored[0] != 0x1f || stored[1] != 0x8b {
		t.Fatal("stored object is not gzip")
	}

	loaded, err := a.LoadSnapshot(context.Background(), a.Key(res))
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.WalletID != id || !loaded.TotalValueUSD.Equal(res.TotalValueUSD) || len(loaded.Holdings) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestArchive_ExistingKeyIsNoop(t *testing.T) {
	client := newMockS3()
	a := newTestArchive(t, client)
	res := testResult(uuid.New(), time.Now())

	for range 2 {
		if err := a.Archive(context.Background(), res); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}
	if client.puts != 1 {
		t.Errorf("puts = %d, want 1", client.puts)
	}
}

func TestArchive_LostRaceIsNoop(t *testing.T) {
	client := newMockS3()
	client.putErr = &smithy.GenericAPIError{Code: "PreconditionFailed"}
	a := newTestArchive(t, client)

	if err := a.Archive(context.Background(), testResult(uuid.New(), time.Now())); err != nil {
		t.Errorf("precondition failure should be treated as archived: %v", err)
	}
}

func TestArchive_Errors(t *testing.T) {
	client := newMockS3()
	a := newTestArchive(t, client)

	if err := a.Archive(context.Background(), nil); err == nil {
		t.Error("expected error for nil result")
	}
	if err := a.Archive(context.Background(), testResult(uuid.New(), time.Time{})); err == nil {
		t.Error("expected error for zero sync time")
	}

	client.headErr = errors.New("access denied")
	if err := a.Archive(context.Background(), testResult(uuid.New(), time.Now())); err == nil {
		t.Error("expected head error")
	}

	client.headErr = nil
	client.putErr = errors.New("slow down")
	if err := a.Archive(context.Background(), testResult(uuid.New(), time.Now())); err == nil {
		t.Error("expected put error")
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestListSnapshots_OldestFirst(t *testing.T) {
	client := newMockS3()
	a := newTestArchive(t, client)
	id := uuid.New()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		if err := a.Archive(context.Background(), testResult(id, base.Add(offset))); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Archive(context.Background(), testResult(uuid.New(), base)); err != nil {
		t.Fatal(err)
	}
	client.objects[a.walletPrefix("ETH", id.String())+"notes.txt"] = []byte("x")

	snaps, err := a.ListSnapshots(context.Background(), "ETH", id)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps))
	}
	for i, want := range []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)} {
		if !snaps[i].SyncedAt.Equal(want) {
			t.Errorf("snaps[%d].SyncedAt = %v, want %v", i, snaps[i].SyncedAt, want)
		}
		if snaps[i].Size == 0 {
			t.Errorf("snaps[%d] has no size", i)
		}
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	client := newMockS3()
	a := newTestArchive(t, client)

	if _, err := a.LoadSnapshot(context.Background(), ""); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := a.LoadSnapshot(context.Background(), "balances/missing.json.gz"); err == nil {
		t.Error("expected error for missing object")
	}
	client.objects["balances/plain.json.gz"] = []byte(`{"walletId":"x"}`)
	if _, err := a.LoadSnapshot(context.Background(), "balances/plain.json.gz"); err == nil {
		t.Error("expected error for non-gzip body")
	}
}
