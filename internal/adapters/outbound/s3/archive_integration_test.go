//go:build integration

package s3

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/testutil"
)

func TestArchive_LocalStack(t *testing.T) {
	ctx := context.Background()
	ls := testutil.StartLocalStack(t)

	optFn := func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ls.Endpoint)
		o.UsePathStyle = true // Required for LocalStack
	}
	bucket := "test-balance-snapshots"
	if _, err := s3.NewFromConfig(ls.Config, optFn).CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	archive, err := NewArchive(ls.Config, Config{Bucket: bucket, Logger: testutil.DiscardLogger()}, optFn)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}

	walletID := uuid.New()
	first := &entity.AggregateResult{
		WalletID:      walletID,
		ChainCode:     "ETH",
		Address:       "0xabc",
		NativeSymbol:  "ETH",
		NativeBalance: decimal.RequireFromString("1.5"),
		TotalValueUSD: decimal.RequireFromString("4500"),
		SyncedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	second := *first
	second.TotalValueUSD = decimal.RequireFromString("4600")
	second.SyncedAt = first.SyncedAt.Add(time.Minute)

	for _, r := range []*entity.AggregateResult{first, &second, first} {
		if err := archive.Archive(ctx, r); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}

	snaps, err := archive.ListSnapshots(ctx, "ETH", walletID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2 (re-archive is a no-op)", len(snaps))
	}
	if !snaps[0].SyncedAt.Equal(first.SyncedAt) || !snaps[1].SyncedAt.Equal(second.SyncedAt) {
		t.Errorf("snapshots not oldest first: %+v", snaps)
	}

	loaded, err := archive.LoadSnapshot(ctx, snaps[1].Key)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.WalletID != walletID || !loaded.TotalValueUSD.Equal(second.TotalValueUSD) {
		t.Errorf("loaded = %+v", loaded)
	}
}
