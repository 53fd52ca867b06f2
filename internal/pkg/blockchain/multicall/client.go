// Package multicall batches read-only contract calls into one eth_call.
package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-balances/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// DefaultAddress is the Multicall3 deployment shared by most EVM chains.
var DefaultAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

var _ outbound.Multicaller = (*Client)(nil)

// Client executes calls through the Multicall3 aggregate3 method.
type Client struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     *abi.ABI
}

// NewClient creates a Multicall3 client. caller is usually an *ethclient.Client.
func NewClient(caller ethereum.ContractCaller, multicall3Address common.Address) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load multicall3 ABI: %w", err)
	}

	return &Client{
		caller:  caller,
		address: multicall3Address,
		abi:     multicallABI,
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	if len(calls) == 0 {
		return []outbound.Result{}, nil
	}

	packed := make([]aggregate3Call, len(calls))
	for i, call := range calls {
		packed[i] = aggregate3Call{Target: call.Target, AllowFailure: call.AllowFailure, CallData: call.CallData}
	}

	data, err := c.abi.Pack("aggregate3", packed)
	if err != nil {
		return nil, fmt.Errorf("failed to pack multicall: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}

	result, err := c.caller.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to call multicall contract at address=%s block=%s calls=%d: %w",
			c.address.Hex(), blockNumberString(blockNumber), len(calls), err)
	}

	unpacked, err := c.abi.Unpack("aggregate3", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack multicall response at block=%s: %w",
			blockNumberString(blockNumber), err)
	}

	resultsRaw, ok := unpacked[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected multicall result type %T", unpacked[0])
	}
	if len(resultsRaw) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(resultsRaw), len(calls))
	}

	results := make([]outbound.Result, len(resultsRaw))
	for i, r := range resultsRaw {
		results[i] = outbound.Result{
			Success:    r.Success,
			ReturnData: r.ReturnData,
		}
	}

	return results, nil
}

// aggregate3Call mirrors the Multicall3.Call3 tuple.
type aggregate3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

func blockNumberString(blockNumber *big.Int) string {
	if blockNumber == nil {
		return "latest"
	}
	return blockNumber.String()
}
