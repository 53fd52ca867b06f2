package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that TokenRepository implements outbound.TokenRepository
var _ outbound.TokenRepository = (*TokenRepository)(nil)

const tokenColumns = `chain_code, address, symbol, name, decimals, logo_url, total_supply,
	price_usd::text, change_24h::text, metadata_updated_at, price_updated_at, created_at, updated_at`

// TokenRepository is a PostgreSQL implementation of the outbound.TokenRepository port.
type TokenRepository struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	batchSize int
}

// NewTokenRepository creates a new PostgreSQL Token repository.
// If batchSize is <= 0, DefaultTokenBatchSize is used.
// Returns an error if the pool is nil.
func NewTokenRepository(pool *pgxpool.Pool, logger *slog.Logger, batchSize int) (*TokenRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultTokenBatchSize
	}
	return &TokenRepository{
		pool:      pool,
		logger:    logger.With("component", "token-repository"),
		batchSize: batchSize,
	}, nil
}

func (r *TokenRepository) GetTokens(ctx context.Context, chainCode string, addresses []string) (map[string]*entity.Token, error) {
	out := make(map[string]*entity.Token, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE chain_code = $1 AND address = ANY($2)
	`, chainCode, addresses)
	if err != nil {
		return nil, fmt.Errorf("querying tokens: %w", err)
	}
	defer rows.Close()

	tokens, err := scanTokens(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		out[t.Address] = t
	}
	return out, nil
}

func (r *TokenRepository) ListTokens(ctx context.Context, chainCode string) ([]*entity.Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE chain_code = $1
		ORDER BY address
	`, chainCode)
	if err != nil {
		return nil, fmt.Errorf("querying tokens: %w", err)
	}
	defer rows.Close()
	return scanTokens(rows)
}

// UpsertTokensWithTX upserts token metadata in batches inside tx.
// Price columns are owned by UpdatePrices and are not touched.
func (r *TokenRepository) UpsertTokensWithTX(ctx context.Context, tx pgx.Tx, tokens []*entity.Token) error {
	for i := 0; i < len(tokens); i += r.batchSize {
		end := min(i+r.batchSize, len(tokens))
		if err := r.upsertTokenBatch(ctx, tx, tokens[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *TokenRepository) upsertTokenBatch(ctx context.Context, tx pgx.Tx, tokens []*entity.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO tokens (chain_code, address, symbol, name, decimals, logo_url, total_supply, metadata_updated_at, created_at, updated_at)
		VALUES `)

	const cols = 8
	args := make([]any, 0, len(tokens)*cols)
	for i, t := range tokens {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW(), NOW())",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, t.ChainCode, t.Address, t.Symbol, t.Name, t.Decimals, t.LogoURL, t.TotalSupplyRaw, t.MetadataUpdatedAt)
	}

	sb.WriteString(`
		ON CONFLICT (chain_code, address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			logo_url = EXCLUDED.logo_url,
			total_supply = EXCLUDED.total_supply,
			metadata_updated_at = EXCLUDED.metadata_updated_at,
			updated_at = NOW()
	`)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upserting token batch: %w", err)
	}
	return nil
}

// UpdatePrices stores quotes for tokens that already exist. Unknown addresses
// are ignored; tokens are created by metadata upserts only.
func (r *TokenRepository) UpdatePrices(ctx context.Context, chainCode string, prices map[string]entity.Price) error {
	if len(prices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for addr, p := range prices {
		batch.Queue(`
			UPDATE tokens
			SET price_usd = $3::numeric, change_24h = $4::numeric, price_updated_at = NOW(), updated_at = NOW()
			WHERE chain_code = $1 AND address = $2
		`, chainCode, addr, p.USD.String(), p.Change24h.String())
	}

	results := r.pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			r.logger.Warn("failed to close batch results", "error", err)
		}
	}()
	for range prices {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("updating price: %w", err)
		}
	}
	return nil
}

func scanTokens(rows pgx.Rows) ([]*entity.Token, error) {
	var tokens []*entity.Token
	for rows.Next() {
		var (
			t                entity.Token
			price, change24h *string
		)
		if err := rows.Scan(
			&t.ChainCode, &t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.LogoURL, &t.TotalSupplyRaw,
			&price, &change24h, &t.MetadataUpdatedAt, &t.PriceUpdatedAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		var err error
		if t.PriceUSD, err = parseNullableDecimal(price); err != nil {
			return nil, fmt.Errorf("token %s price: %w", t.Address, err)
		}
		if t.Change24h, err = parseNullableDecimal(change24h); err != nil {
			return nil, fmt.Errorf("token %s change: %w", t.Address, err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

func parseNullableDecimal(s *string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*s)
}
