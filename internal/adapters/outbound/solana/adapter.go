// Package solana implements the chain adapter for Solana.
//
// Native balances are lamports from getBalance. SPL holdings come from
// getTokenAccountsByOwner with jsonParsed encoding and are summed per mint.
// Metadata comes from an optional metadata source, falling back to
// getTokenSupply for decimals.
package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/mr-tron/base58"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.ChainAdapter = (*Adapter)(nil)

// jsonrpc error code for invalid params.
const codeInvalidParams = -32602

// RPC is the subset of the Solana JSON-RPC API the adapter uses. *rpc.Client satisfies it.
type RPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
}

// MetadataSource resolves SPL token metadata. The Moralis client satisfies it.
type MetadataSource interface {
	SolanaTokenMetadata(ctx context.Context, network, mint string) (*entity.TokenMetadata, error)
}

// Config holds configuration for the Solana adapter.
type Config struct {
	// Commitment for every read. Defaults to confirmed.
	Commitment rpc.CommitmentType

	// IncludeNFTs keeps supply-one, zero-decimal holdings.
	IncludeNFTs bool

	Logger *slog.Logger
}

// Adapter reads balances and metadata from Solana.
type Adapter struct {
	chain    entity.Chain
	rpc      RPC
	metadata MetadataSource
	config   Config
	logger   *slog.Logger
}

// NewAdapter creates a Solana adapter. metadata may be nil.
func NewAdapter(chain entity.Chain, config Config, client RPC, metadata MetadataSource) (*Adapter, error) {
	if chain.Family != entity.FamilySolana {
		return nil, fmt.Errorf("chain %s is not a Solana chain", chain.Code)
	}
	if client == nil {
		return nil, fmt.Errorf("rpc client cannot be nil")
	}
	if config.Commitment == "" {
		config.Commitment = rpc.CommitmentConfirmed
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Adapter{
		chain:    chain,
		rpc:      client,
		metadata: metadata,
		config:   config,
		logger:   config.Logger.With("component", "solana-adapter", "chain", chain.Code),
	}, nil
}

func (a *Adapter) Chain() entity.Chain {
	return a.chain
}

// ValidateAddress accepts base58 strings that decode to a 32-byte public key.
func (a *Adapter) ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", entity.ErrInvalidAddress)
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %q is not base58: %v", entity.ErrInvalidAddress, address, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return fmt.Errorf("%w: %q decodes to %d bytes, want %d", entity.ErrInvalidAddress, address, len(raw), solana.PublicKeyLength)
	}
	return nil
}

// CanonicalAddress returns address unchanged; base58 is case-sensitive.
func (a *Adapter) CanonicalAddress(address string) string {
	return strings.TrimSpace(address)
}

func (a *Adapter) FetchNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	owner, err := a.publicKey(address)
	if err != nil {
		return nil, err
	}
	res, err := a.rpc.GetBalance(ctx, owner, a.config.Commitment)
	if err != nil {
		return nil, classify(fmt.Errorf("getBalance %s: %w", address, err))
	}
	return new(big.Int).SetUint64(res.Value), nil
}

// tokenPrograms own SPL token accounts. Token-2022 mints live beside the
// original program and must be listed separately.
var tokenPrograms = []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID}

func (a *Adapter) FetchTokenBalances(ctx context.Context, address string) ([]entity.TokenBalance, error) {
	owner, err := a.publicKey(address)
	if err != nil {
		return nil, err
	}

	byMint := make(map[string]*entity.TokenBalance)
	var order []string
	for _, programID := range tokenPrograms {
		res, err := a.rpc.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &programID},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed, Commitment: a.config.Commitment},
		)
		if err != nil {
			return nil, classify(fmt.Errorf("getTokenAccountsByOwner %s (program %s): %w", address, programID, err))
		}

		for _, acct := range res.Value {
			if acct == nil || acct.Account.Data == nil {
				continue
			}
			info, err := parseTokenAccount(acct.Account.Data.GetRawJSON())
			if err != nil {
				a.logger.Debug("skipping unparsable token account", "account", acct.Pubkey.String(), "error", err)
				continue
			}
			amount, ok := new(big.Int).SetString(info.TokenAmount.Amount, 10)
			if !ok || amount.Sign() <= 0 {
				continue
			}

			tb, seen := byMint[info.Mint]
			if !seen {
				tb = &entity.TokenBalance{Address: info.Mint, Raw: new(big.Int), Decimals: int32(info.TokenAmount.Decimals)}
				byMint[info.Mint] = tb
				order = append(order, info.Mint)
			}
			tb.Raw.Add(tb.Raw, amount)
		}
	}

	out := make([]entity.TokenBalance, 0, len(order))
	for _, mint := range order {
		tb := byMint[mint]
		if !a.config.IncludeNFTs && tb.Decimals == 0 && tb.Raw.IsInt64() && tb.Raw.Int64() == 1 {
			continue
		}
		out = append(out, *tb)
	}
	return out, nil
}

// FetchTokenMetadata asks the metadata source first and falls back to the
// mint's supply, which carries decimals but no symbol or name.
func (a *Adapter) FetchTokenMetadata(ctx context.Context, tokenAddress string) (*entity.TokenMetadata, error) {
	mint, err := a.publicKey(tokenAddress)
	if err != nil {
		return nil, err
	}

	if a.metadata != nil {
		meta, err := a.metadata.SolanaTokenMetadata(ctx, a.network(), tokenAddress)
		if err == nil && meta.Known() {
			return meta, nil
		}
		if err != nil {
			a.logger.Debug("metadata source failed, falling back to supply", "mint", tokenAddress, "error", err)
		}
	}

	res, err := a.rpc.GetTokenSupply(ctx, mint, a.config.Commitment)
	if err != nil {
		return nil, classify(fmt.Errorf("getTokenSupply %s: %w", tokenAddress, err))
	}
	if res.Value == nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %s has no supply", entity.ErrUnknownTokenStandard, tokenAddress))
	}
	return &entity.TokenMetadata{
		Address:        tokenAddress,
		Decimals:       int32(res.Value.Decimals),
		TotalSupplyRaw: res.Value.Amount,
	}, nil
}

func (a *Adapter) publicKey(address string) (solana.PublicKey, error) {
	if err := a.ValidateAddress(address); err != nil {
		return solana.PublicKey{}, retry.Permanent(err)
	}
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, retry.Permanent(fmt.Errorf("%w: %v", entity.ErrInvalidAddress, err))
	}
	return pk, nil
}

func (a *Adapter) network() string {
	if a.chain.Network != "" {
		return a.chain.Network
	}
	return "mainnet"
}

// tokenAccountInfo is parsed.info of a jsonParsed SPL token account.
type tokenAccountInfo struct {
	Mint        string `json:"mint"`
	Owner       string `json:"owner"`
	TokenAmount struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"tokenAmount"`
}

func parseTokenAccount(raw []byte) (*tokenAccountInfo, error) {
	if len(raw) == 0 {
		return nil, errors.New("no parsed data")
	}
	var envelope struct {
		Parsed struct {
			Info tokenAccountInfo `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if envelope.Parsed.Info.Mint == "" {
		return nil, errors.New("missing mint")
	}
	return &envelope.Parsed.Info, nil
}

// classify marks invalid-params RPC errors permanent; everything else is retried.
func classify(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeInvalidParams {
		return retry.Permanent(err)
	}
	return err
}
