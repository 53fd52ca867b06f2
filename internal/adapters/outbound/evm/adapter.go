// Package evm implements the chain adapter for Ethereum-compatible chains.
//
// Native balances come from eth_getBalance. Token holdings come from a token
// indexer when one is configured, otherwise from balanceOf calls against a
// tracked token list. Token metadata is read from the contract through
// Multicall3.
package evm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.ChainAdapter = (*Adapter)(nil)

// BalanceReader reads native balances. *ethclient.Client satisfies it.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TokenIndexer lists a wallet's ERC20 holdings.
type TokenIndexer interface {
	// Supports reports whether the indexer knows chain.
	Supports(chain entity.Chain) bool
	WalletTokens(ctx context.Context, chain entity.Chain, address string) ([]entity.TokenBalance, error)
}

// Config holds configuration for the EVM adapter.
type Config struct {
	// TrackedTokens are queried with balanceOf when no indexer is configured.
	TrackedTokens []string

	Logger *slog.Logger
}

// Adapter reads balances and metadata from one EVM chain.
type Adapter struct {
	chain       entity.Chain
	eth         BalanceReader
	multicaller outbound.Multicaller
	indexer     TokenIndexer
	tracked     []common.Address
	erc20       *abi.ABI
	erc20Bytes  *abi.ABI
	logger      *slog.Logger
}

// NewAdapter creates an EVM adapter. indexer may be nil.
func NewAdapter(chain entity.Chain, config Config, eth BalanceReader, multicaller outbound.Multicaller, indexer TokenIndexer) (*Adapter, error) {
	if chain.Family != entity.FamilyEVM {
		return nil, fmt.Errorf("chain %s is not an EVM chain", chain.Code)
	}
	if eth == nil {
		return nil, fmt.Errorf("balance reader cannot be nil")
	}
	if multicaller == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	erc20, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	erc20Bytes, err := abis.GetERC20Bytes32ABI()
	if err != nil {
		return nil, fmt.Errorf("loading bytes32 ERC20 ABI: %w", err)
	}

	tracked := make([]common.Address, 0, len(config.TrackedTokens))
	for _, t := range config.TrackedTokens {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("tracked token %q: %w", t, entity.ErrInvalidAddress)
		}
		tracked = append(tracked, common.HexToAddress(t))
	}

	return &Adapter{
		chain:       chain,
		eth:         eth,
		multicaller: multicaller,
		indexer:     indexer,
		tracked:     tracked,
		erc20:       erc20,
		erc20Bytes:  erc20Bytes,
		logger:      config.Logger.With("component", "evm-adapter", "chain", chain.Code),
	}, nil
}

func (a *Adapter) Chain() entity.Chain {
	return a.chain
}

func (a *Adapter) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q is not a 20-byte hex address", entity.ErrInvalidAddress, address)
	}
	return nil
}

// CanonicalAddress lower-cases hex so checksummed and plain spellings collide.
func (a *Adapter) CanonicalAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (a *Adapter) FetchNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, retry.Permanent(err)
	}
	bal, err := a.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %w", address, err)
	}
	return bal, nil
}

func (a *Adapter) FetchTokenBalances(ctx context.Context, address string) ([]entity.TokenBalance, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, retry.Permanent(err)
	}
	if a.indexer != nil && a.indexer.Supports(a.chain) {
		tokens, err := a.indexer.WalletTokens(ctx, a.chain, address)
		if err != nil {
			return nil, err
		}
		for i := range tokens {
			tokens[i].Address = a.CanonicalAddress(tokens[i].Address)
		}
		return tokens, nil
	}
	return a.trackedBalances(ctx, common.HexToAddress(address))
}

// trackedBalances reads balanceOf and decimals for every tracked token in one multicall.
func (a *Adapter) trackedBalances(ctx context.Context, owner common.Address) ([]entity.TokenBalance, error) {
	if len(a.tracked) == 0 {
		return nil, nil
	}

	balanceOf, err := a.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("packing balanceOf: %w", err)
	}
	decimals, err := a.erc20.Pack("decimals")
	if err != nil {
		return nil, fmt.Errorf("packing decimals: %w", err)
	}

	calls := make([]outbound.Call, 0, 2*len(a.tracked))
	for _, token := range a.tracked {
		calls = append(calls,
			outbound.Call{Target: token, AllowFailure: true, CallData: balanceOf},
			outbound.Call{Target: token, AllowFailure: true, CallData: decimals},
		)
	}

	results, err := a.multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("tracked token balances: %w", err)
	}

	var out []entity.TokenBalance
	for i, token := range a.tracked {
		balRes, decRes := results[2*i], results[2*i+1]
		if !balRes.Success {
			a.logger.Debug("balanceOf failed", "token", token.Hex())
			continue
		}
		raw, err := a.unpackUint("balanceOf", balRes.ReturnData)
		if err != nil || raw.Sign() == 0 {
			continue
		}
		dec := entity.UnknownDecimals
		if decRes.Success {
			if d, err := a.unpackUint8("decimals", decRes.ReturnData); err == nil {
				dec = int32(d)
			}
		}
		out = append(out, entity.TokenBalance{
			Address:  a.CanonicalAddress(token.Hex()),
			Raw:      raw,
			Decimals: dec,
		})
	}
	return out, nil
}

// FetchTokenMetadata reads symbol, name, decimals and totalSupply in one multicall.
// A contract without a working decimals() is not treated as a fungible token.
func (a *Adapter) FetchTokenMetadata(ctx context.Context, tokenAddress string) (*entity.TokenMetadata, error) {
	if err := a.ValidateAddress(tokenAddress); err != nil {
		return nil, retry.Permanent(err)
	}
	token := common.HexToAddress(tokenAddress)

	methods := []string{"decimals", "symbol", "name", "totalSupply"}
	calls := make([]outbound.Call, len(methods))
	for i, m := range methods {
		data, err := a.erc20.Pack(m)
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", m, err)
		}
		calls[i] = outbound.Call{Target: token, AllowFailure: true, CallData: data}
	}

	results, err := a.multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("token metadata %s: %w", tokenAddress, err)
	}

	if !results[0].Success {
		return nil, retry.Permanent(fmt.Errorf("%w: %s has no decimals()", entity.ErrUnknownTokenStandard, tokenAddress))
	}
	decimals, err := a.unpackUint8("decimals", results[0].ReturnData)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %s decimals: %v", entity.ErrUnknownTokenStandard, tokenAddress, err))
	}

	meta := &entity.TokenMetadata{
		Address:  a.CanonicalAddress(tokenAddress),
		Decimals: int32(decimals),
	}
	if results[1].Success {
		meta.Symbol = a.unpackText("symbol", results[1].ReturnData)
	}
	if results[2].Success {
		meta.Name = a.unpackText("name", results[2].ReturnData)
	}
	if results[3].Success {
		if supply, err := a.unpackUint("totalSupply", results[3].ReturnData); err == nil {
			meta.TotalSupplyRaw = supply.String()
		}
	}
	return meta, nil
}

func (a *Adapter) unpackUint(method string, data []byte) (*big.Int, error) {
	out, err := a.erc20.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func (a *Adapter) unpackUint8(method string, data []byte) (uint8, error) {
	out, err := a.erc20.Unpack(method, data)
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// unpackText decodes a string return, falling back to bytes32 for legacy tokens.
func (a *Adapter) unpackText(method string, data []byte) string {
	if out, err := a.erc20.Unpack(method, data); err == nil {
		if s, ok := out[0].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	if out, err := a.erc20Bytes.Unpack(method, data); err == nil {
		if b, ok := out[0].([32]byte); ok {
			return strings.TrimSpace(string(bytes.TrimRight(b[:], "\x00")))
		}
	}
	return ""
}
