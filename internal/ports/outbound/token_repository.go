package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// TokenRepository persists token metadata and prices.
type TokenRepository interface {
	// GetTokens returns the stored tokens for the given addresses; unknown ones are omitted.
	GetTokens(ctx context.Context, chainCode string, addresses []string) (map[string]*entity.Token, error)

	// ListTokens returns every token known on a chain.
	ListTokens(ctx context.Context, chainCode string) ([]*entity.Token, error)

	// UpsertTokensWithTX upserts token metadata. Price columns are not touched.
	// Conflict resolution: ON CONFLICT (chain_code, address) DO UPDATE
	UpsertTokensWithTX(ctx context.Context, tx pgx.Tx, tokens []*entity.Token) error

	// UpdatePrices stores quotes for existing tokens.
	UpdatePrices(ctx context.Context, chainCode string, prices map[string]entity.Price) error
}
