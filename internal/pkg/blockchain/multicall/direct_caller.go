package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.Multicaller = (*DirectCaller)(nil)

// DefaultRPCBatchSize caps eth_call requests per JSON-RPC batch. Most hosted
// endpoints reject batches above 100.
const DefaultRPCBatchSize = 100

// BatchCaller sends JSON-RPC batches. *rpc.Client satisfies it.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// DirectCaller issues one eth_call per target in JSON-RPC batches, for chains
// without a Multicall3 deployment.
type DirectCaller struct {
	rpc       BatchCaller
	batchSize int
}

// NewDirectCaller creates a DirectCaller. batchSize <= 0 means
// DefaultRPCBatchSize.
func NewDirectCaller(rpcClient BatchCaller, batchSize int) (*DirectCaller, error) {
	if rpcClient == nil {
		return nil, fmt.Errorf("rpc client cannot be nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultRPCBatchSize
	}
	return &DirectCaller{rpc: rpcClient, batchSize: batchSize}, nil
}

type callArgs struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Execute runs calls in order. A failed call with AllowFailure unset aborts
// the whole execution, matching aggregate3.
func (c *DirectCaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	results := make([]outbound.Result, 0, len(calls))
	block := blockArg(blockNumber)

	for start := 0; start < len(calls); start += c.batchSize {
		end := min(start+c.batchSize, len(calls))
		chunk := calls[start:end]

		out := make([]hexutil.Bytes, len(chunk))
		elems := make([]rpc.BatchElem, len(chunk))
		for i, call := range chunk {
			elems[i] = rpc.BatchElem{
				Method: "eth_call",
				Args:   []any{callArgs{To: call.Target, Data: call.CallData}, block},
				Result: &out[i],
			}
		}
		if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
			return nil, fmt.Errorf("eth_call batch %d-%d: %w", start, end, err)
		}

		for i, elem := range elems {
			if elem.Error == nil {
				results = append(results, outbound.Result{Success: true, ReturnData: out[i]})
				continue
			}
			if !chunk[i].AllowFailure {
				return nil, fmt.Errorf("eth_call to %s: %w", chunk[i].Target.Hex(), elem.Error)
			}
			results = append(results, outbound.Result{})
		}
	}
	return results, nil
}

// Address is the zero address; no aggregator contract is involved.
func (c *DirectCaller) Address() common.Address {
	return common.Address{}
}

func blockArg(number *big.Int) string {
	if number == nil || number.Sign() < 0 {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}
