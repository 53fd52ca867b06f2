package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// SnapshotArchive stores the result of every sync for later audit.
type SnapshotArchive interface {
	// Archive writes result under a key derived from chain, wallet and sync time.
	// Writing the same key twice is a no-op.
	Archive(ctx context.Context, result *entity.AggregateResult) error
}

// ArchivedSnapshot describes one archived sync result.
type ArchivedSnapshot struct {
	Key      string
	Size     int64
	SyncedAt time.Time
}

// SnapshotHistory reads archived sync results back.
type SnapshotHistory interface {
	// ListSnapshots returns the archived results of one wallet, oldest first.
	ListSnapshots(ctx context.Context, chainCode string, walletID uuid.UUID) ([]ArchivedSnapshot, error)

	// LoadSnapshot decodes one archived result.
	LoadSnapshot(ctx context.Context, key string) (*entity.AggregateResult, error)
}
